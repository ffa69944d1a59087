// Package analyser implements the format-detection step every container
// shares: given a captured stream positioned at the start of one track,
// work out which registered handler actually produced it and decode it
// into the disk's TrackInfo. It generalizes the reference dsk_write_raw,
// retargeted from a fixed track_type enum to the open handler.Registry.
package analyser

import (
	"errors"
	"fmt"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
)

// Order, when non-nil, overrides the probe order auto-detection tries
// registered handlers in (config.OrderedHandlerNames builds one from the
// title-specific-first, generic-fallback-last bias spec §4.6 describes).
// A name in Order with no matching registration is silently ignored; a
// registered handler absent from Order is still tried, after every named
// one.
var Order []string

// unformattedTypeName names the handler WriteRaw synthesizes a track as
// when nothing else recognized it; disk.TrackInfo.Type values are
// registry names, and this module's "unformatted" handler is the one
// that models an unrecognized track.
const unformattedTypeName = "unformatted"

// ErrNoHandlerMatched is the error kind wrapped internally when every
// candidate handler rejects a track (spec §7's NoHandlerMatched). It
// never escapes WriteRaw: per §4.6 step 4 / §7's own wording, the
// caller receives an Unformatted track, not an error.
var ErrNoHandlerMatched = errors.New("analyser: no handler matched")

// WriteRaw decodes tracknr of d from s. If want is non-empty, only that
// named handler is tried. Otherwise every registered handler is tried in
// Order (falling back to registration order when Order is unset),
// mirroring the reference's compiled-in probe table, stopping at the
// first one that recognizes the track. Before each attempt the stream is
// rewound via SelectTrack so one handler's partial scan never corrupts
// another's.
//
// A handler signals "not this format" by returning handler.ErrNotRecognized;
// any other error is a hard failure and WriteRaw stops immediately instead
// of trying the remaining candidates. If every candidate rejects the
// track, WriteRaw marks it Unformatted and returns nil rather than an
// error.
func WriteRaw(d *disk.Disk, tracknr int, want string, s *stream.Stream) error {
	ti, err := d.Track(tracknr)
	if err != nil {
		return err
	}

	err = tryHandlers(ti, tracknr, want, s)
	if errors.Is(err, ErrNoHandlerMatched) {
		markUnformatted(ti)
		return nil
	}
	return err
}

func tryHandlers(ti *disk.TrackInfo, tracknr int, want string, s *stream.Stream) error {
	var candidates []handler.Handler
	if want != "" {
		h := handler.Lookup(want)
		if h == nil {
			return fmt.Errorf("analyser: unknown handler %q", want)
		}
		candidates = []handler.Handler{h}
	} else {
		candidates = orderedCandidates()
	}

	for _, h := range candidates {
		if err := s.SelectTrack(tracknr); err != nil {
			return fmt.Errorf("analyser: rewinding track %d: %w", tracknr, err)
		}

		fresh := disk.TrackInfo{}
		err := h.WriteRaw(&fresh, s)
		if err == nil {
			fresh.Type = h.Name()
			*ti = fresh
			return nil
		}
		if err != handler.ErrNotRecognized {
			return fmt.Errorf("analyser: track %d: %s: %w", tracknr, h.Name(), err)
		}
	}

	return fmt.Errorf("analyser: track %d: %w", tracknr, ErrNoHandlerMatched)
}

// markUnformatted resolves NoHandlerMatched into the placeholder shape
// spec §3 describes: type Unformatted, total_bits WEAK, no valid
// sectors.
func markUnformatted(ti *disk.TrackInfo) {
	*ti = disk.TrackInfo{
		Type:      unformattedTypeName,
		TotalBits: disk.WeakBits,
	}
	if h := handler.Lookup(unformattedTypeName); h != nil {
		ti.BytesPerSector = h.BytesPerSector()
		ti.NrSectors = h.NrSectors()
	}
}

func orderedCandidates() []handler.Handler {
	all := handler.All()
	if Order == nil {
		return all
	}

	seen := make(map[string]bool, len(all))
	out := make([]handler.Handler, 0, len(all))
	for _, name := range Order {
		h := handler.Lookup(name)
		if h == nil || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, h)
	}
	for _, h := range all {
		if !seen[h.Name()] {
			out = append(out, h)
		}
	}
	return out
}
