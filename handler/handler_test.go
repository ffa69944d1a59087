package handler

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

type fakeHandler struct{ name string }

func (f *fakeHandler) Name() string           { return f.name }
func (f *fakeHandler) BytesPerSector() int    { return 512 }
func (f *fakeHandler) NrSectors() int         { return 11 }
func (f *fakeHandler) WriteRaw(ti *disk.TrackInfo, s *stream.Stream) error {
	return ErrNotRecognized
}
func (f *fakeHandler) ReadRaw(ti *disk.TrackInfo, tb *tbuf.Buffer) error { return nil }

func TestRegisterLookupAll(t *testing.T) {
	h := &fakeHandler{name: "handler_test.fake"}
	Register(h)

	if got := Lookup("handler_test.fake"); got != h {
		t.Fatalf("Lookup returned %v, want %v", got, h)
	}

	found := false
	for _, reg := range All() {
		if reg.Name() == "handler_test.fake" {
			found = true
		}
	}
	if !found {
		t.Fatal("registered handler missing from All()")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	h := &fakeHandler{name: "handler_test.dup"}
	Register(h)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(&fakeHandler{name: "handler_test.dup"})
}

func TestLookupMissingReturnsNil(t *testing.T) {
	if Lookup("handler_test.does-not-exist") != nil {
		t.Fatal("expected nil for unregistered name")
	}
}
