package mfm

// Well-known raw sync patterns. SyncA1 (0xA1 encoded with one suppressed
// clock bit) is the standard MFM address mark; the others are shapes a
// handful of custom loaders substitute for it.
const (
	SyncA1   uint32 = 0x4489 // 0x44894489 as a 32-bit word: two A1 marks back to back
	SyncC2   uint32 = 0x5224 // index mark family
	Sync4429 uint32 = 0x4429
	Sync8944 uint32 = 0x8944
	Sync2245 uint32 = 0x2245
)

// LongSync is the doubled 32-bit form (0x4489 0x4489) most Amiga handlers
// scan for as the start-of-sector marker.
const LongSync uint32 = 0x44894489

// encodeA1Mark appends the 16 raw bitcells of one 0xA1-with-violated-clock
// mark (SyncA1, 0x4489) to a raw MFM bitwriter: data bits 1,0,1,0,0,0,0,1
// with the clock bit before the sixth data bit suppressed, which breaks
// the missing-clock rule so the mark cannot appear in ordinary encoded
// data.
func encodeA1Mark(w *bitWriter) {
	for i := 15; i >= 0; i-- {
		w.put(int(SyncA1>>uint(i)) & 1)
	}
}

// WriteSyncWords appends n copies of the A1 sync mark (raw pattern 0x4489)
// to a raw byte buffer, directly after its existing contents; no gap or
// preamble bytes are written. Returns the extended buffer.
func WriteSyncWords(dst []byte, n int) []byte {
	w := &bitWriter{buf: append([]byte(nil), dst...), nbit: len(dst) * 8}
	for i := 0; i < n; i++ {
		encodeA1Mark(w)
	}
	return w.bytes()
}
