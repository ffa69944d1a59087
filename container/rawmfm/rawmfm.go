// Package rawmfm implements the raw-MFM container used by the tnt23
// floppy emulator: 160 tracks of exactly 12,800 bytes each, no header,
// no signature. Adapted from the teacher's hfe.ReadMFM/WriteMFM stubs,
// given a real implementation grounded on container_mfm.c: only raw_dd
// tracks (this module's "unformatted" handler stands in for raw_dd) may
// be written, and the stored bytes are the last third of the track's
// Data, padded with its own last byte out to the fixed per-track length.
// unformatted.WriteRaw stores no Data, so such tracks are written as the
// all-0x55 empty-track fill.
package rawmfm

import (
	"fmt"
	"os"

	"github.com/sergev/mfmdisk/analyser"
	"github.com/sergev/mfmdisk/container"
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/stream"
)

const (
	bytesPerTrack = 12800
	nrTracks      = 160
	totalSize     = nrTracks * bytesPerTrack // 2,048,000 bytes

	rawDDType = "unformatted"
)

// RawMFM implements container.Container for the fixed-size raw-MFM dump.
type RawMFM struct {
	Path string
}

func New(path string) *RawMFM {
	return &RawMFM{Path: path}
}

// Init gives d nrTracks placeholder raw_dd tracks with no captured
// payload yet (Close fills a track with no Data with repeated 0x55
// bytes, matching the reference's empty-track fallback).
func (r *RawMFM) Init(d *disk.Disk) {
	*d = *disk.New(nrTracks)
	for i := range d.Tracks {
		d.Tracks[i].Type = rawDDType
	}
}

// Open always fails: raw MFM carries no signature, and without an
// accompanying handler capable of re-deriving sector structure from a
// bare 12,800-byte slab there is nothing meaningful to decode it into.
func (r *RawMFM) Open(d *disk.Disk) error {
	return fmt.Errorf("rawmfm: reading raw MFM images is not supported (write-only container)")
}

// Close writes exactly nrTracks * bytesPerTrack bytes: for each raw_dd
// track, the last third of its Data, truncated or padded (by repeating
// the final byte) to bytesPerTrack; a track with no Data is all 0x55.
func (r *RawMFM) Close(d *disk.Disk) error {
	f, err := os.Create(r.Path)
	if err != nil {
		return fmt.Errorf("rawmfm: create: %w", err)
	}
	defer f.Close()

	if d.NrTracks < nrTracks {
		fmt.Fprintf(os.Stderr, "rawmfm: warning: disk has only %d tracks\n", d.NrTracks)
	}

	for i := 0; i < nrTracks; i++ {
		var ti *disk.TrackInfo
		if i < len(d.Tracks) {
			ti = &d.Tracks[i]
		}
		if ti != nil && ti.Type != rawDDType {
			return fmt.Errorf("rawmfm: track %d: only raw_dd tracks can be written to MFM files (have %q): %w", i, ti.Type, container.ErrIncompatibleWrite)
		}

		var tail []byte
		if ti != nil && len(ti.Data) > 0 {
			tail = ti.Data[len(ti.Data)*2/3:]
		}

		buf := make([]byte, bytesPerTrack)
		if len(tail) == 0 {
			for j := range buf {
				buf[j] = 0x55
			}
		} else {
			n := copy(buf, tail)
			last := tail[len(tail)-1]
			for j := n; j < bytesPerTrack; j++ {
				buf[j] = last
			}
		}

		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("rawmfm: writing track %d: %w", i, err)
		}
	}

	return nil
}

// WriteRaw only accepts the raw_dd-equivalent handler, mirroring
// container_mfm.c's write_raw == dsk_write_raw with the close-time type
// check moved forward so a bad track is rejected immediately.
func (r *RawMFM) WriteRaw(d *disk.Disk, tracknr int, typ string, s *stream.Stream) error {
	if typ == "" {
		typ = rawDDType
	}
	if typ != rawDDType {
		return fmt.Errorf("rawmfm: only raw_dd tracks can be written to MFM files (asked for %q): %w", typ, container.ErrIncompatibleWrite)
	}
	return analyser.WriteRaw(d, tracknr, typ, s)
}
