package diskread

import (
	"os"
	"path/filepath"
	"testing"
)

// buildDiskreadFile constructs a full-size diskread capture with a single
// populated track; the (latency, data) pairs for that track are supplied
// by the caller and padded out to bytesPerTrack/2 entries.
func buildDiskreadFile(t *testing.T, tracknr int, pairs [][2]byte) string {
	t.Helper()

	buf := make([]byte, bytesPerFile)
	trackOff := tracknr * bytesPerTrack
	for i, p := range pairs {
		buf[trackOff+2*i] = p[0]
		buf[trackOff+2*i+1] = p[1]
	}

	path := filepath.Join(t.TempDir(), "test.dat")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writing test diskread file: %v", err)
	}
	return path
}

func TestTrackDecodesFluxAndIndex(t *testing.T) {
	// Skip-garbage always passes over the first 16 entries (left as
	// all-zero garbage here) and lands on the first non-zero data byte; from index
	// 16 onward supply real pairs, the first marked as an index pulse.
	pairs := make([][2]byte, 20)
	pairs[16] = [2]byte{0x80 | 10, 0x81} // index pulse, latency 10 ticks
	pairs[17] = [2]byte{20, 0x01}
	pairs[18] = [2]byte{5, 0xFF}

	path := buildDiskreadFile(t, 3, pairs)
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if src.NumTracks() != tracksPerFile {
		t.Fatalf("NumTracks() = %d, want %d", src.NumTracks(), tracksPerFile)
	}

	data, err := src.Track(3)
	if err != nil {
		t.Fatalf("Track(3): %v", err)
	}
	if len(data.IndexTimesNs) != 1 {
		t.Fatalf("got %d index marks, want 1", len(data.IndexTimesNs))
	}
	if len(data.Flux) == 0 {
		t.Fatal("expected at least one flux transition")
	}
}

func TestOpenRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.dat")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error opening an incorrectly sized file")
	}
}

func TestTrackOutOfRangeErrors(t *testing.T) {
	path := buildDiskreadFile(t, 0, nil)
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if _, err := src.Track(tracksPerFile); err == nil {
		t.Fatal("expected error reading an out-of-range track")
	}
}
