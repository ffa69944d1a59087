// Package kryoflux reads KryoFlux raw stream capture files (one file per
// track, the ".raw" stream format the device itself emits) and exposes
// them as a stream.TrackSource. The byte-level block decode (Flux1/Flux2/
// Flux3, Ovl16, OOB index blocks) follows the reference KryoFlux client's
// live-stream decoder; here it walks a file on disk instead of a captured
// USB buffer.
package kryoflux

import (
	"fmt"
	"os"

	"github.com/sergev/mfmdisk/stream"
)

// Nominal KryoFlux sample and index clocks. The reference client
// referenced these as package constants without defining them in the
// retrieved source; the values here are the board's documented sample
// clock (about 24.027 MHz) and its index-counter rate (sample clock / 8).
const (
	SampleClockHz = 24_027_428.5714286
	IndexClockHz  = SampleClockHz / 8
)

// Source reads per-track raw stream files named "<prefix><tracknr>.raw"
// out of a capture directory, the layout the KryoFlux DTC tool produces.
type Source struct {
	dir    string
	prefix string
	tracks int
}

// Open prepares a Source over capture files named prefix+"NN.raw" inside
// dir, for track numbers 0..tracks-1.
func Open(dir, prefix string, tracks int) *Source {
	return &Source{dir: dir, prefix: prefix, tracks: tracks}
}

func (s *Source) Close() error { return nil }

func (s *Source) NumTracks() int { return s.tracks }

func (s *Source) Track(tracknr int) (stream.TrackData, error) {
	path := fmt.Sprintf("%s/%s%02d.raw", s.dir, s.prefix, tracknr)
	data, err := os.ReadFile(path)
	if err != nil {
		return stream.TrackData{}, fmt.Errorf("kryoflux: reading track %d: %w", tracknr, err)
	}

	indexes := decodePulses(data)
	if len(indexes) < 2 {
		return stream.TrackData{}, fmt.Errorf("kryoflux: track %d: no index pulses detected", tracknr)
	}

	transitions, err := decodeFlux(data, indexes[0].streamPosition, indexes[1].streamPosition)
	if err != nil {
		return stream.TrackData{}, fmt.Errorf("kryoflux: track %d: %w", tracknr, err)
	}

	trackDurationNs := uint64(float64(indexes[1].indexCounter-indexes[0].indexCounter) / IndexClockHz * 1e9)
	_, bitRateKHz := calculateRPMAndBitRate(trackDurationNs, len(transitions))

	return stream.TrackData{
		Flux:         transitions,
		BitRateKHz:   bitRateKHz,
		IndexTimesNs: []uint64{trackDurationNs},
	}, nil
}

type indexTiming struct {
	streamPosition uint32
	sampleCounter  uint32
	indexCounter   uint32
}

// decodePulses scans for OOB index blocks (type 0x02), recording the
// stream position and free-running index counter at each index pulse.
func decodePulses(data []byte) []indexTiming {
	var indexes []indexTiming
	offset := 0
	for offset < len(data) {
		val := data[offset]
		switch {
		case val <= 0x07:
			offset += 2
		case val == 0x08:
			offset++
		case val == 0x09:
			offset += 2
		case val == 0x0a:
			offset += 3
		case val == 0x0b:
			offset++
		case val == 0x0c:
			offset += 3
		case val == 0x0d:
			if offset+4 > len(data) {
				return indexes
			}
			oobType := data[offset+1]
			if oobType == 0x0d {
				return indexes
			}
			oobSize := int(data[offset+2]) | int(data[offset+3])<<8
			if offset+4+oobSize > len(data) {
				return indexes
			}
			if oobType == 0x02 && oobSize >= 12 {
				indexes = append(indexes, indexTiming{
					streamPosition: le32(data[offset+4:]),
					sampleCounter:  le32(data[offset+8:]),
					indexCounter:   le32(data[offset+12:]),
				})
			}
			offset += 4 + oobSize
		default:
			offset++
		}
	}
	return indexes
}

// decodeFlux walks the byte stream between two index pulses, accumulating
// sample ticks into absolute flux transition times.
func decodeFlux(data []byte, streamStart, streamEnd uint32) ([]uint64, error) {
	const tickPeriodNs = 1e9 / SampleClockHz

	var ticks uint64
	var transitions []uint64
	i := streamStart
	for i < streamEnd {
		val := data[i]
		switch {
		case val <= 7:
			if i+1 >= streamEnd {
				return nil, fmt.Errorf("incomplete Flux2 block at offset %d", i)
			}
			ticks += uint64(val)<<8 | uint64(data[i+1])
			transitions = append(transitions, uint64(float64(ticks)*tickPeriodNs))
			i += 2
		case val == 0x08:
			i++
		case val == 0x09:
			i += 2
		case val == 0x0a:
			i += 3
		case val == 0x0b:
			ticks += 0x10000
			i++
		case val == 0x0c:
			if i+2 >= streamEnd {
				return nil, fmt.Errorf("incomplete Flux3 block at offset %d", i)
			}
			ticks += uint64(data[i+1])<<8 | uint64(data[i+2])
			transitions = append(transitions, uint64(float64(ticks)*tickPeriodNs))
			i += 3
		case val == 0x0d:
			if i+3 >= streamEnd {
				return nil, fmt.Errorf("incomplete OOB header at offset %d", i)
			}
			oobType := data[i+1]
			if oobType == 0x0d {
				return transitions, nil
			}
			oobSize := uint32(data[i+2]) | uint32(data[i+3])<<8
			if i+4+oobSize > streamEnd {
				return nil, fmt.Errorf("incomplete OOB data at offset %d", i)
			}
			i += 4 + oobSize
		default:
			ticks += uint64(val)
			transitions = append(transitions, uint64(float64(ticks)*tickPeriodNs))
			i++
		}
	}
	return transitions, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// calculateRPMAndBitRate classifies a capture into the standard DD/HD
// drive speeds and bitrates, the same thresholds the reference client
// uses for SCP captures.
func calculateRPMAndBitRate(trackDurationNs uint64, nrTransitions int) (rpm uint16, bitRateKHz uint16) {
	if trackDurationNs == 0 {
		return 300, 250
	}
	rpmF := 60e9 / float64(trackDurationNs)
	if rpmF < 330 {
		rpm = 300
	} else {
		rpm = 360
	}
	bitsPerMsec := uint64(nrTransitions) * 1e6 / trackDurationNs
	switch {
	case bitsPerMsec < 375:
		bitRateKHz = 250
	case bitsPerMsec < 750:
		bitRateKHz = 500
	default:
		bitRateKHz = 1000
	}
	return rpm, bitRateKHz
}
