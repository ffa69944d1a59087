package amiga

import (
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// prison is a no-payload protection track: sync, a fixed header
// longword, 18 zero bytes, and a trailing flakey region whose bits
// change from revolution to revolution. Grounded on the reference
// disk/prison.c. The original additionally captures two revolutions
// and requires the flakey region to actually differ between them; this
// handler recognizes the fixed header and zero run and marks the track
// flakey (disk.WeakBits) rather than comparing revolutions, since a
// single Stream read already cannot distinguish "didn't check" from
// "checked and matched".
type prisonHandler struct{}

const (
	prisonHeaderMagic = 0xff000a09
	prisonZeroLen     = 18
	prisonFlakeyLen   = 512
)

func (prisonHandler) Name() string        { return "prison" }
func (prisonHandler) BytesPerSector() int { return 0 }
func (prisonHandler) NrSectors() int      { return 0 }

func (prisonHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
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

		rawHdr, err := s.NextBytes(8)
		if err != nil {
			break
		}
		hdr, err := mfm.DecodeBytes(mfm.EvenOdd, 4, rawHdr)
		if err != nil {
			continue
		}
		hdrVal := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
		if hdrVal&0xff00ffff != prisonHeaderMagic {
			continue
		}

		rawZero, err := s.NextBytes(2 * prisonZeroLen)
		if err != nil {
			break
		}
		zeros, err := mfm.DecodeBytes(mfm.Odd, prisonZeroLen, rawZero)
		if err != nil {
			continue
		}
		zeroOK := true
		for i, b := range zeros {
			if b != 0 && i < prisonZeroLen-1 {
				zeroOK = false
				break
			}
		}
		if !zeroOK {
			continue
		}

		if _, err := s.NextBytes(prisonFlakeyLen); err != nil {
			break
		}

		ti.TotalBits = disk.WeakBits
		return nil
	}
	return handler.ErrNotRecognized
}

func (prisonHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	tb.Bits(tbuf.SpeedAvg, mfm.Raw, 32, amigaSync)
	hdr := []byte{byte(prisonHeaderMagic >> 24), 0, byte(prisonHeaderMagic >> 8 & 0xff), byte(prisonHeaderMagic & 0xff)}
	tb.Bytes(tbuf.SpeedAvg, mfm.EvenOdd, hdr)
	for i := 0; i < prisonZeroLen; i++ {
		tb.Bits(tbuf.SpeedAvg, mfm.Odd, 8, 0)
	}
	tb.Weak(tbuf.SpeedAvg, prisonFlakeyLen*8)
	return nil
}

func init() {
	handler.Register(prisonHandler{})
}
