package amiga

import (
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// starray is an AmigaDOS track preceded by a deliberately weak sync
// word: real media returns different bits there on every revolution,
// which is enough to desync some disk controllers' protection checks.
// Grounded on the reference disk/starray.c.
type starrayHandler struct{}

const starraySync = 0xa144

func (starrayHandler) Name() string        { return "starray" }
func (starrayHandler) BytesPerSector() int { return amigaSectorSize }
func (starrayHandler) NrSectors() int      { return amigaNrSectors }

func (starrayHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	if err := (amigadosHandler{}).WriteRaw(ti, s); err != nil {
		return err
	}

	s.Reset()
	scanned := 0
	for scanned < maxScanBits {
		if _, err := s.NextBit(); err != nil {
			break
		}
		scanned++
		if (s.Word >> 16) != starraySync && (s.Word>>16) != 0xa145 {
			continue
		}
		ti.Flags |= 1 // marks the weak-sync region as present
		return nil
	}
	// No weak sync found; still a valid plain AmigaDOS track under this
	// handler's name if the caller insists on it, but report as not
	// recognized so the plainer amigados handler wins instead.
	return handler.ErrNotRecognized
}

func (starrayHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	tb.Bits(tbuf.SpeedAvg, mfm.Raw, 16, starraySync)
	tb.Weak(tbuf.SpeedAvg, 32)
	tb.Bits(tbuf.SpeedAvg, mfm.Odd, 32, 0)

	return (amigadosHandler{}).ReadRaw(ti, tb)
}

func init() {
	handler.Register(starrayHandler{})
}
