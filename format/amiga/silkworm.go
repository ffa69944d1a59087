package amiga

import (
	"encoding/binary"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// silkworm implements the Silkworm custom track format: sync, a fixed
// 0x55555555 marker, an even/odd data region, and a running 32-bit sum
// checksum, grounded on the reference disk/silkworm.c.
type silkwormHandler struct{}

const silkwormDataSize = 5632

func (silkwormHandler) Name() string        { return "silkworm" }
func (silkwormHandler) BytesPerSector() int { return silkwormDataSize }
func (silkwormHandler) NrSectors() int      { return 1 }

func (silkwormHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	scanned := 0
	for scanned < maxScanBits {
		if _, err := s.NextBit(); err != nil {
			break
		}
		scanned++
		if s.Word != amigaSync {
			continue
		}
		ti.DataBitOff = s.IndexOffsetBC - 31

		marker, err := s.NextBits(32)
		if err != nil {
			break
		}
		if marker != 0x55555555 {
			continue
		}

		rawDat, err := s.NextBytes(2 * silkwormDataSize)
		if err != nil {
			break
		}
		dat, err := mfm.DecodeBytes(mfm.EvenOdd, silkwormDataSize, rawDat)
		if err != nil {
			continue
		}
		var sum uint32
		for i := 0; i+4 <= len(dat); i += 4 {
			sum += binary.BigEndian.Uint32(dat[i : i+4])
		}

		rawCsum, err := s.NextBytes(8)
		if err != nil {
			break
		}
		csumBytes, err := mfm.DecodeBytes(mfm.EvenOdd, 4, rawCsum)
		if err != nil {
			continue
		}
		if sum != binary.BigEndian.Uint32(csumBytes) {
			continue
		}

		ti.Data = dat
		ti.NrSectors = 1
		ti.BytesPerSector = silkwormDataSize
		ti.SetValidSector(0)
		return nil
	}
	return handler.ErrNotRecognized
}

func (silkwormHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	tb.Bits(tbuf.SpeedAvg, mfm.Raw, 32, amigaSync)
	tb.Bits(tbuf.SpeedAvg, mfm.Raw, 32, 0x55555555)

	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, ti.Data)

	var sum uint32
	for i := 0; i+4 <= len(ti.Data); i += 4 {
		sum += binary.BigEndian.Uint32(ti.Data[i : i+4])
	}
	csum := make([]byte, 4)
	binary.BigEndian.PutUint32(csum, sum)
	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, csum)
	return nil
}

func init() {
	handler.Register(silkwormHandler{})
}
