// Package tbuf provides the write-side counterpart to package mfm and
// package stream: handlers in format/amiga and format/ibmpc build up a
// track's raw bitstream by calling Bits/Bytes/Gap/Weak in sequence, the
// same call shape the reference track_buffer API offers its format
// handlers (tbuf_bits/tbuf_bytes/tbuf_gap/tbuf_weak/tbuf_start_crc/
// tbuf_emit_crc16_ccitt/tbuf_rnd16), and Materialize turns the result
// into the Bits/Speed/BitLen a stream.TrackSource can serve back
// through the PLL.
package tbuf

import (
	"fmt"

	"github.com/sergev/mfmdisk/mfm"
)

// SpeedAvg is the nominal per-bitcell speed, matching the reference
// SPEED_AVG baseline of 1000 parts-per-thousand.
const SpeedAvg = 1000

// WeakRange marks a bit range, in the materialized track, whose content
// is arbitrary filler rather than meaningful recorded data -- a region
// where real media would return different bits on every read.
type WeakRange struct {
	Offset uint32
	Length uint32
}

type bitAccumulator struct {
	buf  []byte
	nbit uint32
}

func (a *bitAccumulator) put(bit int) {
	byteIdx := a.nbit / 8
	if int(byteIdx) >= len(a.buf) {
		a.buf = append(a.buf, 0)
	}
	if bit != 0 {
		a.buf[byteIdx] |= 1 << (7 - (a.nbit % 8))
	}
	a.nbit++
}

// Buffer accumulates one track's raw bitstream plus a parallel
// per-bitcell speed table, ready for stream.TrackSource playback.
type Buffer struct {
	bits  bitAccumulator
	speed []uint16

	lastBit     int
	gapFillByte byte
	weak        []WeakRange
	rndState    uint32

	crcActive bool
	crcStart  uint32
}

// New creates an empty Buffer. seed drives Rnd16's pseudorandom
// sequence -- callers that need reproducible weak/unformatted-track
// content across runs should pass a fixed, track-derived seed.
func New(seed uint32) *Buffer {
	if seed == 0 {
		seed = 0x2545F491
	}
	return &Buffer{gapFillByte: 0xAA, rndState: seed}
}

func (b *Buffer) extendSpeed(n int, speedPPT uint16) {
	for i := 0; i < n; i++ {
		b.speed = append(b.speed, speedPPT)
	}
}

// Bits emits the low nbits of value, MSB-first, under the given MFM
// mode at the given per-bitcell speed. mode == mfm.Raw writes the bits
// exactly as given (used for sync marks whose clock pattern violates
// the normal missing-clock rule); any other mode MFM-encodes each data
// bit in turn, carrying the clock state across calls.
func (b *Buffer) Bits(speedPPT uint16, mode mfm.Mode, nbits int, value uint32) {
	if mode == mfm.Raw {
		for i := nbits - 1; i >= 0; i-- {
			bit := int((value >> uint(i)) & 1)
			b.bits.put(bit)
			b.lastBit = bit
		}
		b.extendSpeed(nbits, speedPPT)
		return
	}

	for i := nbits - 1; i >= 0; i-- {
		bit := int((value >> uint(i)) & 1)
		clock := 0
		if b.lastBit == 0 && bit == 0 {
			clock = 1
		}
		b.bits.put(clock)
		b.bits.put(bit)
		b.lastBit = bit
	}
	b.extendSpeed(nbits*2, speedPPT)
}

// Bytes MFM-encodes data under mode at the given speed, the byte-
// oriented counterpart to Bits for payloads too large to fit in a
// uint32 (sector bodies, whole tracks of scrambled data).
func (b *Buffer) Bytes(speedPPT uint16, mode mfm.Mode, data []byte) {
	raw, last := mfm.EncodeBytes(mode, data, b.lastBit)
	b.lastBit = last
	for _, byt := range raw {
		for i := 7; i >= 0; i-- {
			b.bits.put(int((byt >> uint(i)) & 1))
		}
	}
	b.extendSpeed(len(raw)*8, speedPPT)
}

// Gap emits nbytes of the configured gap-fill byte as plain MFM-encoded
// filler, the inter-sector padding the reference gap helper writes.
// nbytes <= 0 writes nothing and changes no state.
func (b *Buffer) Gap(speedPPT uint16, nbytes int) {
	if nbytes <= 0 {
		return
	}
	fill := make([]byte, nbytes)
	for i := range fill {
		fill[i] = b.gapFillByte
	}
	b.Bytes(speedPPT, mfm.Odd, fill)
}

// Weak emits nbits of pseudorandom filler and records the range as
// weak, matching protections that deliberately leave damaged or
// unreadable regions (tbuf_weak in the reference handlers, used for
// "soft" sectors that vary between reads on real media).
func (b *Buffer) Weak(speedPPT uint16, nbits int) {
	start := b.bits.nbit
	for i := 0; i < nbits; i++ {
		bit := int(b.Rnd16() & 1)
		clock := 0
		if b.lastBit == 0 && bit == 0 {
			clock = 1
		}
		b.bits.put(clock)
		b.bits.put(bit)
		b.lastBit = bit
	}
	b.extendSpeed(nbits*2, speedPPT)
	b.weak = append(b.weak, WeakRange{Offset: start, Length: uint32(nbits * 2)})
}

// SetGapFillByte changes the byte Gap pads with; the reference default
// is 0xAA (alternating bits, the weakest possible MFM filler pattern).
func (b *Buffer) SetGapFillByte(v byte) {
	b.gapFillByte = v
}

// StartCRC marks the current bit offset as the start of a CRC-CCITT
// region; EmitCRC16CCITT computes the checksum over everything written
// since this call.
func (b *Buffer) StartCRC() {
	b.crcActive = true
	b.crcStart = b.bits.nbit
}

// EmitCRC16CCITT computes the CRC-CCITT of the payload written since the
// matching StartCRC and encodes it under mode as the next 16 bits of
// output. Under mfm.Raw the payload is the raw bitcell bytes themselves;
// under any other mode it is those bitcells MFM-decoded under mode.
// It is an error to call without a preceding StartCRC, or when the
// region since StartCRC is not a whole number of bytes.
func (b *Buffer) EmitCRC16CCITT(speedPPT uint16, mode mfm.Mode) error {
	if !b.crcActive {
		return fmt.Errorf("tbuf: EmitCRC16CCITT without a preceding StartCRC")
	}
	b.crcActive = false
	if (b.bits.nbit-b.crcStart)%8 != 0 {
		return fmt.Errorf("tbuf: CRC region is not byte-aligned")
	}
	region := b.bits.buf[b.crcStart/8 : b.bits.nbit/8]
	if mode != mfm.Raw {
		decoded, err := mfm.DecodeBytes(mode, len(region)/2, region)
		if err != nil {
			return fmt.Errorf("tbuf: decoding CRC region: %w", err)
		}
		region = decoded
	}
	crc := mfm.CRC16CCITT(mfm.CRC16CCITTInit, region)
	b.Bits(speedPPT, mode, 16, uint32(crc))
	return nil
}

// Rnd16 returns the next value of a simple xorshift pseudorandom
// sequence, the track buffer's source for weak-bit and unformatted-
// track filler, matching the reference tbuf_rnd16's role without
// depending on any particular PRNG algorithm.
func (b *Buffer) Rnd16() uint16 {
	x := b.rndState
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	b.rndState = x
	return uint16(x)
}

// Materialize returns the accumulated bit image, its per-bitcell speed
// table, the total bit length, and the weak-bit ranges recorded via
// Weak.
func (b *Buffer) Materialize() (bits []byte, speed []uint16, bitLen uint32, weak []WeakRange) {
	return b.bits.buf, b.speed, b.bits.nbit, b.weak
}
