// Package diskread reads captures produced by the Amiga "diskread"
// utility: a flat file of fixed-size track records, each record an
// interleaved (byte_latency, data_byte) pair per data byte, latency
// counted in Amiga CIA timer ticks. The decode (garbage-prefix skip,
// per-bit flux accumulation, index-bit detection) follows the
// reference diskread stream backend.
package diskread

import (
	"fmt"
	"os"

	"github.com/sergev/mfmdisk/stream"
)

const (
	bytesPerTrack = 128 * 1024
	tracksPerFile = 160
	bytesPerFile  = bytesPerTrack * tracksPerFile

	ciaFreqHz    = 709379
	ciaNsPerTick = 1_000_000_000 / ciaFreqHz
)

// Source reads track records out of a single diskread capture file.
type Source struct {
	f    *os.File
	size int64
}

// Open validates the capture file's size matches a full 160-track
// diskread dump.
func Open(path string) (*Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("diskread: %w", err)
	}
	if fi.Size() != bytesPerFile {
		return nil, fmt.Errorf("diskread: %s is not a %d-byte diskread capture", path, bytesPerFile)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diskread: %w", err)
	}
	return &Source{f: f, size: fi.Size()}, nil
}

func (s *Source) Close() error { return s.f.Close() }

func (s *Source) NumTracks() int { return tracksPerFile }

func (s *Source) Track(tracknr int) (stream.TrackData, error) {
	if tracknr < 0 || tracknr >= tracksPerFile {
		return stream.TrackData{}, fmt.Errorf("diskread: track %d out of range", tracknr)
	}

	buf := make([]byte, bytesPerTrack)
	if _, err := s.f.ReadAt(buf, int64(tracknr)*bytesPerTrack); err != nil {
		return stream.TrackData{}, fmt.Errorf("diskread: track %d: %w", tracknr, err)
	}

	transitions, indexTimesNs := decodeTrack(buf)
	return stream.TrackData{
		Flux:         transitions,
		BitRateKHz:   250,
		IndexTimesNs: indexTimesNs,
	}, nil
}

// decodeTrack walks the interleaved (latency, data) byte pairs, skipping
// the first 16 entries and then any further garbage entries (data byte
// zero, which valid MFM never produces), and accumulates
// flux transition times. A latency byte with its top bit set marks the
// index position at that point in the stream.
func decodeTrack(dat []byte) (transitions, indexTimesNs []uint64) {
	n := bytesPerTrack / 2

	start := 16
	for start < n && dat[2*start+1] == 0 {
		start++
	}

	var ns uint64
	for i := start; i < n; i++ {
		latency := dat[2*i]
		data := dat[2*i+1]

		isIndex := latency&0x80 != 0
		latency &= 0x7f
		latencyNs := uint64(latency) * ciaNsPerTick

		if isIndex {
			indexTimesNs = append(indexTimesNs, ns)
		}

		for bit := 0; bit < 8; bit++ {
			set := (data>>(7-bit))&1 != 0
			share := latencyNs >> 3
			if bit == 7 {
				share += latencyNs & 7
			}
			ns += share
			if set {
				transitions = append(transitions, ns)
			}
		}
	}

	return transitions, indexTimesNs
}
