package rawmfm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sergev/mfmdisk/disk"
)

func TestOpenUnsupported(t *testing.T) {
	if err := New("whatever.mfm").Open(&disk.Disk{}); err == nil {
		t.Fatal("expected Open to always fail for raw MFM")
	}
}

func TestCloseSizeAndPadding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mfm")
	d := &disk.Disk{}
	r := New(path)
	r.Init(d)

	d.Tracks[0].Data = make([]byte, 300)
	for i := range d.Tracks[0].Data {
		d.Tracks[0].Data[i] = byte(i)
	}

	if err := r.Close(d); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != totalSize {
		t.Fatalf("len = %d, want %d", len(got), totalSize)
	}

	tail := d.Tracks[0].Data[len(d.Tracks[0].Data)*2/3:]
	for i, b := range tail {
		if got[i] != b {
			t.Fatalf("track 0 byte %d = %#02x, want %#02x", i, got[i], b)
		}
	}
	last := tail[len(tail)-1]
	for i := len(tail); i < bytesPerTrack; i++ {
		if got[i] != last {
			t.Fatalf("track 0 padding byte %d = %#02x, want %#02x", i, got[i], last)
		}
	}

	// Track 1 has no captured data: falls back to the empty-track
	// all-0x55 pattern.
	base := bytesPerTrack
	for i := 0; i < bytesPerTrack; i++ {
		if got[base+i] != 0x55 {
			t.Fatalf("track 1 byte %d = %#02x, want 0x55", i, got[base+i])
		}
	}
}

func TestCloseRejectsNonRawDD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mfm")
	d := &disk.Disk{}
	r := New(path)
	r.Init(d)
	d.Tracks[0].Type = "amigados"

	if err := r.Close(d); err == nil {
		t.Fatal("expected rejection of non-raw_dd track type")
	}
}
