package tbuf

import (
	"testing"

	"github.com/sergev/mfmdisk/mfm"
)

func TestBitsRawRoundTrips(t *testing.T) {
	b := New(1)
	b.Bits(SpeedAvg, mfm.Raw, 16, 0x4489)

	bits, speed, bitLen, weak := b.Materialize()
	if bitLen != 16 {
		t.Fatalf("bitLen = %d, want 16", bitLen)
	}
	if len(speed) != 16 {
		t.Fatalf("len(speed) = %d, want 16", len(speed))
	}
	if len(weak) != 0 {
		t.Fatalf("expected no weak ranges, got %d", len(weak))
	}
	got := uint16(bits[0])<<8 | uint16(bits[1])
	if got != 0x4489 {
		t.Fatalf("raw bits = %#04x, want 0x4489", got)
	}
}

func TestBytesRoundTripsThroughMFMDecode(t *testing.T) {
	b := New(1)
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	b.Bytes(SpeedAvg, mfm.Odd, payload)

	bits, _, bitLen, _ := b.Materialize()
	if bitLen != uint32(len(payload)*16) {
		t.Fatalf("bitLen = %d, want %d", bitLen, len(payload)*16)
	}

	decoded, err := mfm.DecodeBytes(mfm.Odd, len(payload), bits)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	for i := range payload {
		if decoded[i] != payload[i] {
			t.Errorf("byte %d = %#02x, want %#02x", i, decoded[i], payload[i])
		}
	}
}

func TestGapWritesFillerBytes(t *testing.T) {
	b := New(1)
	b.SetGapFillByte(0x00)
	b.Gap(SpeedAvg, 4)

	_, _, bitLen, _ := b.Materialize()
	if bitLen != 4*16 {
		t.Fatalf("bitLen = %d, want %d", bitLen, 4*16)
	}
}

func TestWeakRecordsRange(t *testing.T) {
	b := New(1)
	b.Bits(SpeedAvg, mfm.Raw, 16, 0x4489)
	b.Weak(SpeedAvg, 32)

	_, _, bitLen, weak := b.Materialize()
	if len(weak) != 1 {
		t.Fatalf("got %d weak ranges, want 1", len(weak))
	}
	if weak[0].Offset != 16 || weak[0].Length != 64 {
		t.Errorf("weak range = %+v, want {16 64}", weak[0])
	}
	if bitLen != 16+64 {
		t.Fatalf("bitLen = %d, want %d", bitLen, 16+64)
	}
}

func TestStartCRCThenEmitProducesSelfConsistentChecksum(t *testing.T) {
	b := New(1)
	b.StartCRC()
	b.Bits(SpeedAvg, mfm.Raw, 8, 0xAB)
	if err := b.EmitCRC16CCITT(SpeedAvg, mfm.Raw); err != nil {
		t.Fatalf("EmitCRC16CCITT: %v", err)
	}

	bits, _, bitLen, _ := b.Materialize()
	if bitLen != 24 {
		t.Fatalf("bitLen = %d, want 24", bitLen)
	}
	if got := mfm.CRC16CCITT(mfm.CRC16CCITTInit, bits[:3]); got != 0 {
		t.Errorf("CRC self-check failed: got %#04x, want 0", got)
	}
}

func TestEmitCRCWithoutStartReturnsError(t *testing.T) {
	b := New(1)
	if err := b.EmitCRC16CCITT(SpeedAvg, mfm.Raw); err == nil {
		t.Fatal("expected error calling EmitCRC16CCITT without StartCRC")
	}
}

func TestRnd16IsDeterministicForFixedSeed(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 10; i++ {
		if a.Rnd16() != b.Rnd16() {
			t.Fatalf("Rnd16 sequences diverged at step %d", i)
		}
	}
}
