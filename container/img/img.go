// Package img implements the IMG/IMA container: a plain concatenation of
// every track's logical sector bytes, in sector order, with no header
// and no signature. Grounded on the teacher's hfe.ReadIMG/WriteIMG (left
// as "not yet implemented" stubs there) given a real implementation per
// the reference container_img.c: write-only, one file per disk, each
// track's sectors laid out back to back. A track whose handler carries
// no sector geometry (most copy protections) is silently skipped, per
// the reference's track_read_sectors-fails-so-continue policy.
package img

import (
	"fmt"
	"os"

	"github.com/sergev/mfmdisk/analyser"
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
)

const defaultNrTracks = 160

// IMG implements container.Container for the sector-dump format.
type IMG struct {
	Path string
}

func New(path string) *IMG {
	return &IMG{Path: path}
}

// Init gives d a default AmigaDOS geometry, the same starting point
// container/adf.Init uses, since IMG has no native "blank disk" shape of
// its own: the reference's dsk_init is shared across every write-only
// container in the same way.
func (i *IMG) Init(d *disk.Disk) {
	*d = *disk.New(defaultNrTracks)
	h := handler.Lookup("amigados")
	if h == nil {
		return
	}
	for idx := range d.Tracks {
		ti := &d.Tracks[idx]
		ti.Type = "amigados"
		ti.BytesPerSector = h.BytesPerSector()
		ti.NrSectors = h.NrSectors()
		ti.Data = make([]byte, h.NrSectors()*h.BytesPerSector())
	}
}

// Open always fails: IMG carries no signature or track count, so it
// cannot be safely read back without external geometry knowledge, same
// as the reference img_open returning NULL unconditionally.
func (i *IMG) Open(d *disk.Disk) error {
	return fmt.Errorf("img: reading IMG images is not supported (write-only container)")
}

// Close concatenates each track's logical sector bytes in order,
// skipping any track whose handler declares no sector geometry or whose
// decoded payload is shorter than that geometry requires.
func (i *IMG) Close(d *disk.Disk) error {
	f, err := os.Create(i.Path)
	if err != nil {
		return fmt.Errorf("img: create: %w", err)
	}
	defer f.Close()

	for idx := range d.Tracks {
		ti := &d.Tracks[idx]
		h := handler.Lookup(ti.Type)
		if h == nil || h.NrSectors() == 0 || h.BytesPerSector() == 0 {
			continue
		}
		want := h.NrSectors() * h.BytesPerSector()
		if len(ti.Data) < want {
			continue
		}
		if _, err := f.Write(ti.Data[:want]); err != nil {
			return fmt.Errorf("img: writing track %d: %w", idx, err)
		}
	}

	return nil
}

// WriteRaw has no container-specific acceptance policy: any handler the
// analyser recognizes may be written, and Close simply skips whichever
// of them carry no sector geometry.
func (i *IMG) WriteRaw(d *disk.Disk, tracknr int, typ string, s *stream.Stream) error {
	return analyser.WriteRaw(d, tracknr, typ, s)
}
