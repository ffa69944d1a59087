package amiga

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

func TestSpeedlockReadRawLength(t *testing.T) {
	h := speedlockHandler{}
	ti := &disk.TrackInfo{Flags: 40}
	tb := tbuf.New(1)
	if err := h.ReadRaw(ti, tb); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	_, _, bitLen, _ := tb.Materialize()
	want := uint32(3 * 40 * 16)
	if bitLen != want {
		t.Fatalf("bitLen = %d, want %d", bitLen, want)
	}
}

func TestSpeedlockHandlerRegistered(t *testing.T) {
	found := false
	for _, h := range handler.All() {
		if h.Name() == "speedlock" {
			found = true
		}
	}
	if !found {
		t.Fatal("speedlock handler not registered")
	}
}

func TestSpeedlockRejectsGarbage(t *testing.T) {
	bitLen := uint32(100150)
	raw := make([]byte, (bitLen+7)/8)
	for i := range raw {
		raw[i] = byte(i*41 + 7)
	}
	speed := make([]uint16, bitLen)
	for i := range speed {
		speed[i] = tbuf.SpeedAvg
	}

	s := stream.OpenSoft(raw, speed, bitLen, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	dst := &disk.TrackInfo{}
	if err := (speedlockHandler{}).WriteRaw(dst, s); err == nil {
		t.Fatal("pseudo-random bits falsely recognized as speedlock")
	}
}
