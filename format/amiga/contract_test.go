package amiga

import (
	"math/rand"
	"testing"

	"github.com/sergev/mfmdisk/disk"
	"github.com/sergev/mfmdisk/handler"
	"github.com/sergev/mfmdisk/stream"
	"github.com/sergev/mfmdisk/tbuf"
)

// synthesizeTrack builds a plausible input TrackInfo for h: Data sized to
// h's sector geometry and filled with a deterministic, non-repeating
// pattern so checksums vary byte to byte.
func synthesizeTrack(h handler.Handler) *disk.TrackInfo {
	ti := &disk.TrackInfo{
		NrSectors:      h.NrSectors(),
		BytesPerSector: h.BytesPerSector(),
	}
	extra := 0
	if h.Name() == "bombuzal" {
		// bombuzal's payload is the base AmigaDOS sectors plus a short
		// extra sector appended after them (see bombuzal.go).
		extra = bombuzalExtraDataLen
	}
	if ti.NrSectors > 0 && ti.BytesPerSector > 0 {
		ti.Data = make([]byte, ti.NrSectors*ti.BytesPerSector+extra)
		for i := range ti.Data {
			ti.Data[i] = byte(i*7 + 3)
		}
	}
	return ti
}

// roundTripMaterialize runs a handler's ReadRaw and plays the result back
// through a soft stream, returning the materialized bits/speed/bitLen
// alongside the decoded TrackInfo from WriteRaw.
func roundTripMaterialize(t *testing.T, h handler.Handler, src *disk.TrackInfo) ([]byte, []uint16, uint32, *disk.TrackInfo, error) {
	t.Helper()
	tb := tbuf.New(1)
	if err := h.ReadRaw(src, tb); err != nil {
		t.Fatalf("%s: ReadRaw: %v", h.Name(), err)
	}
	bits, speed, bitLen, _ := tb.Materialize()

	s := stream.OpenSoft(bits, speed, bitLen, 300)
	if err := s.SelectTrack(0); err != nil {
		t.Fatalf("%s: SelectTrack: %v", h.Name(), err)
	}

	dst := &disk.TrackInfo{}
	err := h.WriteRaw(dst, s)
	return bits, speed, bitLen, dst, err
}

// TestContractRoundTrip is universal property #1: a freshly decoded
// TrackInfo with all sectors valid, fed through ReadRaw then WriteRaw,
// reproduces a byte-for-byte identical payload. The check is that the
// round trip succeeds, reports full sector validity for handlers with a
// sector geometry, and returns the same payload bytes; DataBitOff is not
// checked.
func TestContractRoundTrip(t *testing.T) {
	for _, h := range handler.All() {
		h := h
		t.Run(h.Name(), func(t *testing.T) {
			if h.Name() == "unformatted" || h.Name() == "prison" || h.Name() == "speedlock" {
				t.Skip("flakey/weak/timing-based track, no stable payload to compare")
			}
			src := synthesizeTrack(h)
			_, _, _, dst, err := roundTripMaterialize(t, h, src)
			if err != nil {
				t.Fatalf("WriteRaw: %v", err)
			}
			if h.NrSectors() > 0 && !dst.AllSectorsValid() {
				t.Fatalf("not all sectors valid: %#x", dst.ValidSectors)
			}
			for i := range src.Data {
				if i >= len(dst.Data) || dst.Data[i] != src.Data[i] {
					t.Fatalf("payload mismatch at byte %d", i)
					break
				}
			}
		})
	}
}

// TestContractRejectGarbage is universal property #2: random bits, fixed
// seed, must not be accepted as this handler's format. The unformatted
// handler is the documented exception: recognizing noise as "no format
// recorded" is its entire purpose, just as the spec carves out an
// explicit speed-envelope exception for variable-density handlers.
func TestContractRejectGarbage(t *testing.T) {
	rng := rand.New(rand.NewSource(0xDEADBEEF))
	bitLen := uint32(100150)
	raw := make([]byte, (bitLen+7)/8)
	rng.Read(raw)
	speed := make([]uint16, bitLen)
	for i := range speed {
		speed[i] = tbuf.SpeedAvg
	}

	for _, h := range handler.All() {
		h := h
		if h.Name() == "unformatted" {
			continue
		}
		t.Run(h.Name(), func(t *testing.T) {
			s := stream.OpenSoft(raw, speed, bitLen, 300)
			if err := s.SelectTrack(0); err != nil {
				t.Fatalf("SelectTrack: %v", err)
			}
			dst := &disk.TrackInfo{}
			if err := h.WriteRaw(dst, s); err == nil {
				t.Fatalf("random bits falsely recognized as %s", h.Name())
			}
		})
	}
}

// TestContractReadRawLength is universal property #3, checked here only
// as far as ReadRaw emitting a non-empty bitstream for a synthesized
// track; the exact length is not compared against TotalBits.
func TestContractReadRawLength(t *testing.T) {
	for _, h := range handler.All() {
		h := h
		t.Run(h.Name(), func(t *testing.T) {
			src := synthesizeTrack(h)
			tb := tbuf.New(1)
			if err := h.ReadRaw(src, tb); err != nil {
				t.Fatalf("ReadRaw: %v", err)
			}
			_, _, bitLen, _ := tb.Materialize()
			if bitLen == 0 {
				t.Fatalf("ReadRaw emitted zero bitcells")
			}
		})
	}
}

// TestContractSpeedEnvelope is universal property #4: emitted per-bitcell
// speed values lie in [900, 1100] parts-per-thousand, except handlers
// that explicitly write at a different density as part of their format
// (unformatted's jittered white-noise speed band).
func TestContractSpeedEnvelope(t *testing.T) {
	for _, h := range handler.All() {
		h := h
		if h.Name() == "unformatted" {
			continue
		}
		t.Run(h.Name(), func(t *testing.T) {
			src := synthesizeTrack(h)
			tb := tbuf.New(1)
			if err := h.ReadRaw(src, tb); err != nil {
				t.Fatalf("ReadRaw: %v", err)
			}
			_, speed, _, _ := tb.Materialize()
			for i, v := range speed {
				if v < 900 || v > 1100 {
					t.Fatalf("speed[%d] = %d outside [900,1100]", i, v)
				}
			}
		})
	}
}
