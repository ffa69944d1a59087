package amiga

import (
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// unformatted recognizes tracks that carry no recorded data: raw noise
// whose bit timing breaks the MFM clock rule far more often than any
// real format would. It regenerates as a track of white-noise bitcells
// at jittered write speed, the form real unformatted media takes once
// captured. Grounded on the reference disk/unformatted.c.
type unformattedHandler struct{}

const (
	unformattedScanSectorBits  = 1000
	unformattedSectorBadThresh = unformattedScanSectorBits / 50
	unformattedClockJitterPct  = 20
)

func (unformattedHandler) Name() string        { return "unformatted" }
func (unformattedHandler) BytesPerSector() int { return 0 }
func (unformattedHandler) NrSectors() int      { return 0 }

func (unformattedHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	lat := s.Latency
	clk := uint64(s.GetDensity())
	if clk == 0 {
		clk = 2000
	}
	var scanBits, bad, nrZero, badSectors, nrSectors uint

	for total := 0; total < maxScanBits; total++ {
		bit, err := s.NextBit()
		if err != nil {
			break
		}
		if bit != 0 {
			newClk := (s.Latency - lat) / uint64(nrZero+1)
			delta := int64(newClk) - int64(clk)
			if delta < 0 {
				delta = -delta
			}
			if clk != 0 && (delta*100)/int64(clk) > unformattedClockJitterPct {
				bad++
			}
			clk = newClk
			lat = s.Latency
			nrZero = 0
		} else {
			nrZero++
			if nrZero > 3 {
				bad++
			}
		}

		scanBits++
		if scanBits >= unformattedScanSectorBits {
			if bad >= unformattedSectorBadThresh {
				badSectors++
			}
			nrSectors++
			bad, scanBits = 0, 0
		}
	}

	if badSectors < nrSectors {
		pc := badSectors * 1000 / nrSectors
		if pc/10 <= 90 {
			return handler.ErrNotRecognized
		}
	}

	ti.TotalBits = disk.WeakBits
	return nil
}

func (unformattedHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error {
	speedDelta := int32(200)
	bitLen := 96000 + uint32(tb.Rnd16()&1023) - 512

	var byteAcc byte
	for i := uint32(0); i < bitLen; i++ {
		byteAcc <<= 1
		if tb.Rnd16()&3 == 0 {
			byteAcc |= 1
		}
		if i&7 == 7 {
			tb.Bits(uint16(int32(tbuf.SpeedAvg)+speedDelta), mfm.Raw, 8, uint32(byteAcc))
			speedDelta = -speedDelta
		}
	}
	return nil
}

func init() {
	handler.Register(unformattedHandler{})
}
