package amiga

import (
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// speedlock is a variable-bitcell-density protection track: a region of
// long bitcells, then short, then back to normal, recognized by timing
// rather than by any encoded sync pattern. Grounded on the reference
// disk/speedlock.c; the exact boundary positions vary between releases
// on real media, so (like the original) this handler only checks that
// the three regions appear in the right relative order and land in a
// plausible bit-offset range, not an exact position.
type speedlockHandler struct{}

func (speedlockHandler) Name() string        { return "speedlock" }
func (speedlockHandler) BytesPerSector() int { return 0 }
func (speedlockHandler) NrSectors() int      { return 0 }

func (speedlockHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	s.Latency = 0
	for i := 0; i < 2000; i++ {
		if _, err := s.NextBits(32); err != nil {
			return handler.ErrNotRecognized
		}
	}
	latency := s.Latency / 2000

	var offs [3]uint32

	// Each region search gives up after maxScanBits, so a soft stream
	// (which never ends on its own) without the bands still terminates.
	for n := 0; ; n += 32 {
		if n >= maxScanBits {
			return handler.ErrNotRecognized
		}
		s.Latency = 0
		if _, err := s.NextBits(32); err != nil {
			return handler.ErrNotRecognized
		}
		if s.Latency >= latency*108/100 {
			break
		}
	}
	offs[0] = s.IndexOffsetBC

	for n := 0; ; n += 32 {
		if n >= maxScanBits {
			return handler.ErrNotRecognized
		}
		s.Latency = 0
		if _, err := s.NextBits(32); err != nil {
			return handler.ErrNotRecognized
		}
		if s.Latency <= latency*92/100 {
			break
		}
	}
	offs[1] = s.IndexOffsetBC

	for n := 0; ; n += 32 {
		if n >= maxScanBits {
			return handler.ErrNotRecognized
		}
		s.Latency = 0
		if _, err := s.NextBits(32); err != nil {
			return handler.ErrNotRecognized
		}
		if s.Latency >= latency*98/100 {
			break
		}
	}
	offs[2] = s.IndexOffsetBC

	if offs[1] < offs[0] || offs[2] < offs[1] {
		return handler.ErrNotRecognized
	}
	if offs[0] < 75000 || offs[0] > 80000 {
		return handler.ErrNotRecognized
	}
	seclenBits := (offs[2] - offs[0]) / 2
	if seclenBits < 500 || seclenBits > 800 {
		return handler.ErrNotRecognized
	}

	offs[0] = (offs[0] + 64) &^ 127
	seclen := uint32(640 / 16)
	ti.DataBitOff = offs[0] - seclen*16
	ti.Flags = uint16(seclen)
	return nil
}

func (speedlockHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	seclen := uint32(ti.Flags)
	if seclen == 0 {
		seclen = 640 / 16
	}

	for i := uint32(0); i < seclen; i++ {
		tb.Bits(tbuf.SpeedAvg, mfm.Odd, 8, 0)
	}
	tb.Gap(tbuf.SpeedAvg, 0)

	longSpeed := uint16(tbuf.SpeedAvg * 110 / 100)
	for i := uint32(0); i < seclen; i++ {
		tb.Bits(longSpeed, mfm.Odd, 8, 0)
	}
	tb.Gap(longSpeed, 0)

	shortSpeed := uint16(tbuf.SpeedAvg * 90 / 100)
	for i := uint32(0); i < seclen; i++ {
		tb.Bits(shortSpeed, mfm.Odd, 8, 0)
	}
	tb.Gap(shortSpeed, 0)

	return nil
}

func init() {
	handler.Register(speedlockHandler{})
}
