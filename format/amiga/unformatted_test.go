package amiga

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

func TestUnformattedRoundTrip(t *testing.T) {
	h := unformattedHandler{}

	src := &disk.TrackInfo{}
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
	if !dst.IsFlakey() {
		t.Fatalf("white-noise track not recognized as unformatted, TotalBits = %#x", dst.TotalBits)
	}
}

func TestUnformattedHandlerRegistered(t *testing.T) {
	found := false
	for _, h := range handler.All() {
		if h.Name() == "unformatted" {
			found = true
		}
	}
	if !found {
		t.Fatal("unformatted handler not registered")
	}
}
