package amiga

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

func TestStarrayRoundTrip(t *testing.T) {
	h := starrayHandler{}

	src := &disk.TrackInfo{
		NrSectors:      amigaNrSectors,
		BytesPerSector: amigaSectorSize,
		Data:           make([]byte, amigaSectorSize*amigaNrSectors),
	}
	for i := range src.Data {
		src.Data[i] = byte(i * 19)
	}

	tb := tbuf.New(1)
	if err := h.ReadRaw(src, tb); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	bits, speed, bitLen, _ := tb.Materialize()

	s := stream.OpenSoft(bits, speed, bitLen, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}

	dst := &disk.TrackInfo{}
	if err := h.WriteRaw(dst, s); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if dst.Flags&1 == 0 {
		t.Fatalf("weak-sync flag not set")
	}
	if !dst.AllSectorsValid() {
		t.Fatalf("not all sectors decoded as valid: %#x", dst.ValidSectors)
	}
	for i := range src.Data {
		if dst.Data[i] != src.Data[i] {
			t.Fatalf("byte %d = %#02x, want %#02x", i, dst.Data[i], src.Data[i])
		}
	}
}

func TestStarrayHandlerRegistered(t *testing.T) {
	found := false
	for _, h := range handler.All() {
		if h.Name() == "starray" {
			found = true
		}
	}
	if !found {
		t.Fatal("starray handler not registered")
	}
}
