// Package container defines the disk-image-file contract: how a whole
// disk.Disk is initialized, loaded from and saved to a particular file
// layout. It generalizes the reference struct container (init/open/
// close/write_raw function pointers) into a Go interface implemented by
// container/bundle, container/adf, container/img and container/rawmfm.
package container

import (
	"errors"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/stream"
)

// ErrSignatureMismatch is the error kind container.Open wraps when a
// file's magic bytes or size don't match this container's expected
// layout (spec §7's SignatureMismatch).
var ErrSignatureMismatch = errors.New("container: signature mismatch")

// ErrIncompatibleWrite is the error kind a container wraps when it
// cannot represent a track's decoded type at all -- e.g. ADF asked to
// store a non-AmigaDOS track (spec §7's IncompatibleWrite). It is
// fatal: the caller aborts the conversion rather than trying another
// container.
var ErrIncompatibleWrite = errors.New("container: incompatible track type for this container")

// Container reads and writes one on-disk image format.
type Container interface {
	// Init populates d with this format's default track geometry and
	// placeholder (unformatted) track content, the state a brand new
	// image starts from before any track has been written.
	Init(d *disk.Disk)

	// Open loads an existing image file into d. It returns an error if
	// the file does not match this container's expected layout.
	Open(d *disk.Disk) error

	// Close writes d out to the image file, flattening each track's
	// decoded TrackInfo into this format's on-disk representation.
	Close(d *disk.Disk) error

	// WriteRaw decodes tracknr of d from s, identifying it as typ (or
	// auto-detecting if typ is empty) via the analyser, then applies any
	// container-specific acceptance policy (e.g. ADF only accepts
	// AmigaDOS-compatible track types).
	WriteRaw(d *disk.Disk, tracknr int, typ string, s *stream.Stream) error
}
