package ibmpc

import (
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

func TestIBMPCRoundTrip(t *testing.T) {
	h := ibmpcHandler{}

	src := &disk.TrackInfo{
		NrSectors:      ibmpcNrSectors,
		BytesPerSector: sectorSize,
		Data:           make([]byte, sectorSize*ibmpcNrSectors),
	}
	for i := range src.Data {
		src.Data[i] = byte(i * 5)
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

	if !dst.AllSectorsValid() {
		t.Fatalf("not all sectors decoded as valid: %#x", dst.ValidSectors)
	}
	for i := range src.Data {
		if dst.Data[i] != src.Data[i] {
			t.Fatalf("byte %d = %#02x, want %#02x", i, dst.Data[i], src.Data[i])
		}
	}
}

func TestIBMPCHandlerRegistered(t *testing.T) {
	found := false
	for _, h := range handler.All() {
		if h.Name() == "ibmpc" {
			found = true
		}
	}
	if !found {
		t.Fatal("ibmpc handler not registered")
	}
}

func TestIBMPCRejectsGarbage(t *testing.T) {
	bitLen := uint32(100150)
	raw := make([]byte, (bitLen+7)/8)
	for i := range raw {
		raw[i] = byte(i*37 + 11)
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
	if err := (ibmpcHandler{}).WriteRaw(dst, s); err == nil {
		t.Fatal("pseudo-random bits falsely recognized as ibmpc")
	}
}
