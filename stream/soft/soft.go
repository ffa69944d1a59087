// Package soft exposes a fixed set of in-memory track images as a
// stream.TrackSource, the multi-track counterpart to stream.OpenSoft:
// each bit image and per-bitcell speed table is read back through the
// PLL exactly as a real drive would reproduce it, without needing a flux
// capture file on disk at all. This generalizes the reference soft
// stream, which only ever wrapped a single track at a time.
package soft

import (
	"fmt"

	"github.com/sergev/mfmdisk/stream"
)

// Image is one track's pre-decoded bit image, ready for flux
// resynthesis.
type Image struct {
	Bits    []byte
	Speed   []uint16
	BitLen  uint32
	DataRPM uint
}

// Source serves a fixed slice of Images as a stream.TrackSource.
type Source struct {
	tracks []Image
}

// New wraps tracks as a TrackSource. An entry with BitLen 0 (such as the
// zero Image) stands for an unformatted track and causes Track to return
// an error when selected.
func New(tracks []Image) *Source {
	return &Source{tracks: tracks}
}

func (s *Source) NumTracks() int { return len(s.tracks) }

func (s *Source) Track(tracknr int) (stream.TrackData, error) {
	if tracknr < 0 || tracknr >= len(s.tracks) {
		return stream.TrackData{}, fmt.Errorf("soft: track %d out of range", tracknr)
	}
	img := s.tracks[tracknr]
	if img.BitLen == 0 {
		return stream.TrackData{}, fmt.Errorf("soft: track %d is unformatted", tracknr)
	}
	return stream.TrackData{
		Bits:    img.Bits,
		Speed:   img.Speed,
		BitLen:  img.BitLen,
		DataRPM: img.DataRPM,
	}, nil
}
