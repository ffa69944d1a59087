// Package handler defines the per-format track handler contract and a
// registry of known formats, generalizing the reference track_handler
// table (a fixed, compiled-in array indexed by a closed track_type
// enum) into an open registry any format/* package can add to via
// Register in its own init().
package handler

import (
	"fmt"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// Handler implements one track protection or filesystem format: WriteRaw
// identifies and decodes a track from a captured bitstream, ReadRaw
// regenerates the bitstream a real drive would produce for that track's
// decoded content. Both mirror the reference write_raw/read_raw handler
// pair; a format that instead works byte-aligned (as most filesystem
// formats do) implements them in terms of stream.NextBits/tbuf.Bytes
// rather than raw bit scanning.
type Handler interface {
	// Name identifies the handler; it is stored in disk.TrackInfo.Type.
	Name() string

	// BytesPerSector and NrSectors describe the format's nominal sector
	// layout; formats with no sector structure (most copy protections)
	// return 0.
	BytesPerSector() int
	NrSectors() int

	// WriteRaw scans s starting at the stream's current position,
	// attempting to identify and decode this format's track. On
	// success it fills in ti and returns nil; on failure to recognize
	// the format it returns ErrNotRecognized.
	WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error

	// ReadRaw regenerates the raw bitstream for ti's decoded content
	// into tb.
	ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error
}

// ErrNotRecognized is returned by WriteRaw when the stream's current
// track does not match the handler's format.
var ErrNotRecognized = fmt.Errorf("handler: track not recognized")

var registry = map[string]Handler{}
var order []string

// Register adds h to the registry under h.Name(). Format packages call
// this from their own init().
func Register(h Handler) {
	name := h.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("handler: duplicate registration for %q", name))
	}
	registry[name] = h
	order = append(order, name)
}

// Lookup returns the registered handler named name, or nil if none is
// registered under that name.
func Lookup(name string) Handler {
	return registry[name]
}

// All returns every registered handler, in registration order.
func All() []Handler {
	out := make([]Handler, len(order))
	for i, name := range order {
		out[i] = registry[name]
	}
	return out
}
