// Package bundle implements the canonical native disk-image format: a
// small header followed by one variable-length record per track, each
// record self-describing its handler type, sector geometry and raw
// decoded payload. It is the only container that round-trips every
// field of disk.TrackInfo exactly, since every other container format
// (ADF, IMG, raw MFM) commits to one track type's fixed on-disk shape.
//
// Grounded on the teacher's hfe.ReadHFE/WriteHFE: a fixed-size header
// read with encoding/binary, followed by a sequence of explicitly
// byte-range-addressed fields, generalized here to a variable-length
// per-track record since (unlike HFE) every track may carry a different
// handler and payload length.
package bundle

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sergev/mfmdisk/analyser"
	"github.com/sergev/mfmdisk/container"
	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
)

const (
	magic        = "DSK\x00"
	formatVersion = 1

	// defaultNrTracks matches the reference DEFAULT_BITS_PER_TRACK
	// geometry: 80 cylinders * 2 heads.
	defaultNrTracks = 160
)

// Bundle implements container.Container for the canonical native format.
type Bundle struct {
	Path string
}

// New returns a Bundle bound to path, used by both Open and Close.
func New(path string) *Bundle {
	return &Bundle{Path: path}
}

// Init populates d with defaultNrTracks empty tracks, matching the
// reference adf_init's "freshly created disk" starting state.
func (b *Bundle) Init(d *disk.Disk) {
	*d = *disk.New(defaultNrTracks)
}

// Open reads b.Path and replaces d's contents with its decoded tracks.
func (b *Bundle) Open(d *disk.Disk) error {
	f, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("bundle: open: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("bundle: reading header: %w", err)
	}
	if string(hdr[0:4]) != magic {
		return fmt.Errorf("bundle: bad magic %q: %w", hdr[0:4], container.ErrSignatureMismatch)
	}
	if hdr[4] != formatVersion {
		return fmt.Errorf("bundle: unsupported version %d: %w", hdr[4], container.ErrSignatureMismatch)
	}

	var counts [4]byte
	if _, err := io.ReadFull(r, counts[:]); err != nil {
		return fmt.Errorf("bundle: reading nr_tracks/flags: %w", err)
	}
	nrTracks := int(binary.BigEndian.Uint16(counts[0:2]))
	_ = binary.BigEndian.Uint16(counts[2:4]) // flags, currently unused

	*d = *disk.New(nrTracks)

	for i := 0; i < nrTracks; i++ {
		ti, err := d.Track(i)
		if err != nil {
			return err
		}
		if err := readTrack(r, ti); err != nil {
			return fmt.Errorf("bundle: track %d: %w", i, err)
		}
	}

	return nil
}

func readTrack(r io.Reader, ti *disk.TrackInfo) error {
	var nameLen [1]byte
	if _, err := io.ReadFull(r, nameLen[:]); err != nil {
		return fmt.Errorf("reading type_name_len: %w", err)
	}
	name := make([]byte, nameLen[0])
	if _, err := io.ReadFull(r, name); err != nil {
		return fmt.Errorf("reading type_name: %w", err)
	}
	ti.Type = string(name)

	var rest [13]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return fmt.Errorf("reading track fields: %w", err)
	}
	ti.Flags = binary.BigEndian.Uint16(rest[0:2])
	ti.BytesPerSector = int(binary.BigEndian.Uint16(rest[2:4]))
	ti.NrSectors = int(rest[4])
	ti.ValidSectors = binary.BigEndian.Uint32(rest[5:9])
	ti.DataBitOff = binary.BigEndian.Uint32(rest[9:13])

	var totalBits [4]byte
	if _, err := io.ReadFull(r, totalBits[:]); err != nil {
		return fmt.Errorf("reading total_bits: %w", err)
	}
	ti.TotalBits = binary.BigEndian.Uint32(totalBits[:])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("reading len: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	ti.Data = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, ti.Data); err != nil {
			return fmt.Errorf("reading dat: %w", err)
		}
	}
	return nil
}

// Close writes d out to b.Path in full, overwriting any existing file.
func (b *Bundle) Close(d *disk.Disk) error {
	f, err := os.Create(b.Path)
	if err != nil {
		return fmt.Errorf("bundle: create: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	var hdr [8]byte
	copy(hdr[0:4], magic)
	hdr[4] = formatVersion
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("bundle: writing header: %w", err)
	}

	var counts [4]byte
	binary.BigEndian.PutUint16(counts[0:2], uint16(d.NrTracks))
	if _, err := w.Write(counts[:]); err != nil {
		return fmt.Errorf("bundle: writing nr_tracks/flags: %w", err)
	}

	for i := range d.Tracks {
		if err := writeTrack(w, &d.Tracks[i]); err != nil {
			return fmt.Errorf("bundle: track %d: %w", i, err)
		}
	}

	return w.Flush()
}

func writeTrack(w io.Writer, ti *disk.TrackInfo) error {
	if len(ti.Type) > 255 {
		return fmt.Errorf("type name %q too long", ti.Type)
	}
	if _, err := w.Write([]byte{byte(len(ti.Type))}); err != nil {
		return err
	}
	if _, err := io.WriteString(w, ti.Type); err != nil {
		return err
	}

	var rest [13]byte
	binary.BigEndian.PutUint16(rest[0:2], ti.Flags)
	binary.BigEndian.PutUint16(rest[2:4], uint16(ti.BytesPerSector))
	rest[4] = byte(ti.NrSectors)
	binary.BigEndian.PutUint32(rest[5:9], ti.ValidSectors)
	binary.BigEndian.PutUint32(rest[9:13], ti.DataBitOff)
	if _, err := w.Write(rest[:]); err != nil {
		return err
	}

	var totalBits [4]byte
	binary.BigEndian.PutUint32(totalBits[:], ti.TotalBits)
	if _, err := w.Write(totalBits[:]); err != nil {
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ti.Data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(ti.Data)
	return err
}

// WriteRaw decodes tracknr via the analyser (no container-specific
// acceptance policy: a bundle stores any recognized handler's output).
func (b *Bundle) WriteRaw(d *disk.Disk, tracknr int, typ string, s *stream.Stream) error {
	if err := analyser.WriteRaw(d, tracknr, typ, s); err != nil {
		return err
	}
	ti, err := d.Track(tracknr)
	if err != nil {
		return err
	}
	if h := handler.Lookup(ti.Type); h != nil {
		ti.BytesPerSector = h.BytesPerSector()
		ti.NrSectors = h.NrSectors()
	}
	return nil
}
