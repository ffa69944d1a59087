package analyser

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	_ "github.com/sergev/mfmdisk/format/amiga"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

func TestWriteRawNamed(t *testing.T) {
	h := handler.Lookup("amigados")
	if h == nil {
		t.Fatal("amigados handler not registered")
	}

	src := &disk.TrackInfo{
		NrSectors:      h.NrSectors(),
		BytesPerSector: h.BytesPerSector(),
		Data:           make([]byte, h.NrSectors()*h.BytesPerSector()),
	}
	for i := range src.Data {
		src.Data[i] = byte(i * 3)
	}
	tb := tbuf.New(1)
	if err := h.ReadRaw(src, tb); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	bits, speed, bitLen, _ := tb.Materialize()

	d := disk.New(1)
	s := stream.OpenSoft(bits, speed, bitLen, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}

	if err := WriteRaw(d, 0, "amigados", s); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	ti, _ := d.Track(0)
	if ti.Type != "amigados" {
		t.Fatalf("Type = %q, want amigados", ti.Type)
	}
	if !ti.AllSectorsValid() {
		t.Fatalf("not all sectors valid: %#x", ti.ValidSectors)
	}
}

func TestWriteRawAutoDetect(t *testing.T) {
	h := handler.Lookup("amigados")
	src := &disk.TrackInfo{
		NrSectors:      h.NrSectors(),
		BytesPerSector: h.BytesPerSector(),
		Data:           make([]byte, h.NrSectors()*h.BytesPerSector()),
	}
	for i := range src.Data {
		src.Data[i] = byte(i*11 + 1)
	}
	tb := tbuf.New(1)
	if err := h.ReadRaw(src, tb); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	bits, speed, bitLen, _ := tb.Materialize()

	d := disk.New(1)
	s := stream.OpenSoft(bits, speed, bitLen, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}

	if err := WriteRaw(d, 0, "", s); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	ti, _ := d.Track(0)
	if ti.Type != "amigados" {
		t.Fatalf("Type = %q, want amigados (auto-detected)", ti.Type)
	}
}

func TestWriteRawNoMatchMarksUnformatted(t *testing.T) {
	d := disk.New(1)
	bits := make([]byte, 40000)
	s := stream.OpenSoft(bits, nil, uint32(len(bits))*8, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}

	if err := WriteRaw(d, 0, "amigados", s); err != nil {
		t.Fatalf("WriteRaw: %v, want nil (NoHandlerMatched resolves to Unformatted)", err)
	}
	ti, _ := d.Track(0)
	if ti.Type != "unformatted" {
		t.Fatalf("Type = %q, want unformatted", ti.Type)
	}
	if ti.TotalBits != disk.WeakBits {
		t.Fatalf("TotalBits = %#x, want WeakBits", ti.TotalBits)
	}
	if ti.ValidSectors != 0 {
		t.Fatalf("ValidSectors = %#x, want 0", ti.ValidSectors)
	}
}

func TestWriteRawUnknownHandler(t *testing.T) {
	d := disk.New(1)
	s := stream.OpenSoft(make([]byte, 16), nil, 128, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack: %v", err)
	}
	if err := WriteRaw(d, 0, "no-such-handler", s); err == nil {
		t.Fatal("expected error for unknown handler name")
	}
}
