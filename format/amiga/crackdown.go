package amiga

import (
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// crackdown implements the custom track format used by Crackdown
// (Sega/US Gold): a single sync, a two-byte even/odd track number, a
// 0xc00-word even/odd data region, and a running XOR checksum over the
// decoded words, grounded on the reference disk/crackdown.c.
type crackdownHandler struct{}

const (
	crackdownNrWords  = 0xc00
	crackdownDataSize = crackdownNrWords * 2
)

func (crackdownHandler) Name() string        { return "crackdown" }
func (crackdownHandler) BytesPerSector() int { return crackdownDataSize }
func (crackdownHandler) NrSectors() int      { return 1 }

func (crackdownHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
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

		rawTrk, err := s.NextBytes(4)
		if err != nil {
			break
		}
		_, err = mfm.DecodeBytes(mfm.EvenOdd, 2, rawTrk)
		if err != nil {
			continue
		}

		rawDat, err := s.NextBytes(2 * crackdownDataSize)
		if err != nil {
			break
		}
		dat, err := mfm.DecodeBytes(mfm.EvenOdd, crackdownDataSize, rawDat)
		if err != nil {
			continue
		}
		var sum uint16
		for i := 0; i+2 <= len(dat); i += 2 {
			sum ^= uint16(dat[i])<<8 | uint16(dat[i+1])
		}

		rawCsum, err := s.NextBytes(4)
		if err != nil {
			break
		}
		csumBytes, err := mfm.DecodeBytes(mfm.EvenOdd, 2, rawCsum)
		if err != nil {
			continue
		}
		storedCsum := uint16(csumBytes[0])<<8 | uint16(csumBytes[1])

		if sum != storedCsum {
			continue
		}

		ti.Data = dat
		ti.NrSectors = 1
		ti.BytesPerSector = crackdownDataSize
		ti.TotalBits = 100500
		ti.SetValidSector(0)
		return nil
	}
	return handler.ErrNotRecognized
}

func (crackdownHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	tb.Bits(tbuf.SpeedAvg, mfm.Raw, 32, amigaSync)
	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, make([]byte, 2))

	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, ti.Data)

	var sum uint16
	for i := 0; i+2 <= len(ti.Data); i += 2 {
		sum ^= uint16(ti.Data[i])<<8 | uint16(ti.Data[i+1])
	}
	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, []byte{byte(sum >> 8), byte(sum)})
	return nil
}

func init() {
	handler.Register(crackdownHandler{})
}
