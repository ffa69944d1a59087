// Package stream implements the flux/bitcell stream abstraction: the
// single API every format handler uses to pull bitcells off a captured
// track, regardless of which capture format produced them. A Stream wraps
// a TrackSource (a flux-capture backend or a synthetic in-memory track)
// and funnels everything through the same PLL so a handler never has to
// know whether it is reading a SuperCard Pro dump or a freshly written
// canonical-bundle track played back through a simulated drive.
package stream

import (
	"errors"
	"fmt"

	"github.com/sergev/mfmdisk/mfm"
	"github.com/sergev/mfmdisk/pll"
)

// ErrEndOfStream is returned once a stream has no further bitcells to
// offer: a finite flux capture has been fully consumed, or MaxRevolutions
// full revolutions have already been read.
var ErrEndOfStream = errors.New("stream: end of stream")

// ErrNoTrackSelected is returned by any read operation attempted before
// SelectTrack has succeeded.
var ErrNoTrackSelected = errors.New("stream: no track selected")

// TrackData is what a TrackSource hands the Stream for one track. Exactly
// one of Flux or Bits should be populated: flux-capture backends
// (SuperCard Pro, KryoFlux, Amiga diskread) supply Flux; bitcell-image
// backends (HFE, stream/soft) supply Bits.
type TrackData struct {
	// Flux-capture track: absolute transition timestamps in nanoseconds,
	// and the nominal bitrate the PLL should centre on.
	Flux       []uint64
	BitRateKHz uint16
	// IndexTimesNs gives the absolute time of each index pulse seen
	// during capture, used to populate NrIndex/IndexOffsetNs as the PLL
	// consumes Flux.
	IndexTimesNs []uint64

	// Pre-decoded track: raw MFM bitcells, MSB-first, BitLen bits valid.
	// Speed is a per-bitcell multiplier in parts-per-thousand of nominal
	// (1000 = nominal); nil means uniform nominal speed. The Stream
	// resynthesizes flux from Bits+Speed exactly as a real drive would
	// reproduce them, wraps around indefinitely, and signals an index
	// pulse every time it wraps.
	Bits   []byte
	Speed  []uint16
	BitLen uint32

	// DataRPM is the recording RPM represented by Bits; it is combined
	// with BitLen to derive nanoseconds-per-cell.
	DataRPM uint
}

// TrackSource supplies per-track capture data to a Stream. Backends under
// stream/fluxscp, stream/kryoflux, stream/hfeflux, stream/diskread and
// stream/soft each implement this by wrapping their own file format or
// in-memory image.
type TrackSource interface {
	NumTracks() int
	Track(tracknr int) (TrackData, error)
}

// softFluxSource resynthesizes flux transitions from a fixed bit image
// exactly as the reference soft stream does: walk bits, accumulate
// ns_per_cell*speed/1000 per cell, and emit a transition interval at the
// first set bit (or after 1ms of silence, matching the reference
// runaway-stream guard). It never exhausts -- position wraps modulo
// BitLen and fires onIndex each time it does.
type softFluxSource struct {
	dat       []byte
	speed     []uint16
	bitlen    uint32
	nsPerCell float64
	pos       uint32
	onIndex   func()
}

func (s *softFluxSource) bitAt(pos uint32) int {
	return int((s.dat[pos>>3] >> (7 - (pos & 7))) & 1)
}

func (s *softFluxSource) speedAt(pos uint32) uint16 {
	if s.speed == nil {
		return 1000
	}
	return s.speed[pos]
}

func (s *softFluxSource) NextFlux() (uint64, bool) {
	var flux float64
	for {
		s.pos++
		if s.pos >= s.bitlen {
			s.pos = 0
			if s.onIndex != nil {
				s.onIndex()
			}
		}
		bit := s.bitAt(s.pos)
		flux += s.nsPerCell * float64(s.speedAt(s.pos)) / 1000
		if bit != 0 || flux >= 1_000_000 {
			break
		}
	}
	return uint64(flux), true
}

// Stream is the bitcell/flux reader every format handler reads through.
// Field names mirror the reference stream struct so a handler author
// moving from one to the other recognizes every knob.
type Stream struct {
	// Accumulated read latency in nanoseconds. Reset freely by callers
	// that want to measure a sub-span of the read.
	Latency uint64

	// N = the last bitcell returned was the Nth full bitcell after the
	// most recent index pulse.
	IndexOffsetBC uint32
	IndexOffsetNs uint32

	// Distance between the two most recent index pulses.
	TrackLenBC uint32
	TrackLenNs uint32

	// Number of index pulses seen so far on this track.
	NrIndex uint32

	// Maximum number of full revolutions to read before ErrEndOfStream.
	// 0 means unlimited (bounded only by a finite flux capture running
	// dry).
	MaxRevolutions uint32

	// Most recent 32 bits read from the stream, MSB-first.
	Word uint32

	// Rolling CRC-CCITT of everything read since the last StartCRC.
	CRC16CCITT uint16
	CRCBitOff  uint8

	DriveRPM uint
	DataRPM  uint

	// PLL tuning. PLLPeriodAdjPct/PLLPhaseAdjPct: what percentage of an
	// observed timing error is folded into the clock period/phase.
	// ClockMaxAdjPct: how far the clock period may drift from its ideal
	// centre, as a percentage (the spec's +/-5% default, looser than the
	// reference decoder's +/-10%).
	PLLPeriodAdjPct int
	PLLPhaseAdjPct  int
	ClockMaxAdjPct  int

	PRNGSeed   uint32
	DoubleStep bool

	src     TrackSource
	tracknr int
	data    TrackData

	dec            *pll.Decoder
	finiteCapture  bool
	nextIndexIdx   int
	bitCounter     uint32
	lastIndexTime  float64
	pendingIndexes int

	crcActive   bool
	crcByte     byte
	crcBitCount int

	nsPerCellOverride int
}

// Open creates a Stream over a flux-capture or pre-decoded TrackSource.
func Open(src TrackSource, driveRPM, dataRPM uint) *Stream {
	return &Stream{
		DriveRPM:        driveRPM,
		DataRPM:         dataRPM,
		PLLPeriodAdjPct: pll.DefaultPeriodAdjPct,
		PLLPhaseAdjPct:  pll.DefaultPhaseAdjPct,
		ClockMaxAdjPct:  pll.DefaultClockMaxAdjPct,
		src:             src,
		tracknr:         -1,
	}
}

// OpenSoft wraps a fixed, already-decoded track image directly, without a
// backend: the path the handler round-trip tests use. A soft-opened
// Stream has a single implicit track; SelectTrack rewinds it.
func OpenSoft(data []byte, speed []uint16, bitlen uint32, dataRPM uint) *Stream {
	s := &Stream{
		DriveRPM:        dataRPM,
		DataRPM:         dataRPM,
		PLLPeriodAdjPct: pll.DefaultPeriodAdjPct,
		PLLPhaseAdjPct:  pll.DefaultPhaseAdjPct,
		ClockMaxAdjPct:  pll.DefaultClockMaxAdjPct,
		tracknr:         0,
		data: TrackData{
			Bits:    data,
			Speed:   speed,
			BitLen:  bitlen,
			DataRPM: dataRPM,
		},
	}
	s.initDecoder()
	return s
}

// SelectTrack fetches tracknr's capture data from the backend and resets
// the stream onto it. On a soft-opened Stream tracknr is ignored: the
// single implicit track is rewound to its start and the call always
// succeeds.
func (s *Stream) SelectTrack(tracknr int) error {
	if s.src == nil {
		if s.dec != nil {
			s.initDecoder()
		}
		return nil
	}
	data, err := s.src.Track(tracknr)
	if err != nil {
		return fmt.Errorf("stream: select track %d: %w", tracknr, err)
	}
	s.tracknr = tracknr
	s.data = data
	s.initDecoder()
	return nil
}

func nsPerCellFromRPM(rpm uint, bitlen uint32) float64 {
	if bitlen == 0 {
		return 0
	}
	trackNsecs := 60.0 * 1e9 / float64(rpm)
	return trackNsecs / float64(bitlen)
}

func (s *Stream) initDecoder() {
	s.Latency = 0
	s.IndexOffsetBC, s.IndexOffsetNs = 0, 0
	s.NrIndex = 0
	s.Word = 0
	s.crcActive = false
	s.CRCBitOff = 0
	s.crcByte, s.crcBitCount = 0, 0
	s.bitCounter = 0
	s.nextIndexIdx = 0
	s.lastIndexTime = 0
	s.pendingIndexes = 0

	if s.data.Flux != nil {
		s.finiteCapture = true
		s.dec = pll.NewDecoder(s.data.Flux, s.data.BitRateKHz)
	} else {
		s.finiteCapture = false
		dataRPM := s.data.DataRPM
		if dataRPM == 0 {
			dataRPM = 300
		}
		nsPerCell := nsPerCellFromRPM(dataRPM, s.data.BitLen)
		src := &softFluxSource{
			dat:       s.data.Bits,
			speed:     s.data.Speed,
			bitlen:    s.data.BitLen,
			nsPerCell: nsPerCell,
			onIndex:   func() { s.pendingIndexes++ },
		}
		bitRateKHz := uint16(1e6 / (2 * nsPerCell))
		if bitRateKHz == 0 {
			bitRateKHz = 1
		}
		s.dec = pll.NewDecoderFromSource(src, bitRateKHz)
		// bitRateKHz is a whole number of kHz; centre the PLL on the exact
		// cell period so short images are not decoded off-frequency.
		if nsPerCell > 0 {
			s.dec.PeriodIdeal = nsPerCell
			s.dec.Period = nsPerCell
		}
	}
	s.dec.PeriodAdjPct = float64(s.PLLPeriodAdjPct)
	s.dec.PhaseAdjPct = float64(s.PLLPhaseAdjPct)
	s.dec.ClockMaxAdjPct = float64(s.ClockMaxAdjPct)
	if s.PLLPeriodAdjPct == 0 {
		s.dec.PeriodAdjPct = pll.DefaultPeriodAdjPct
	}
	if s.PLLPhaseAdjPct == 0 {
		s.dec.PhaseAdjPct = pll.DefaultPhaseAdjPct
	}
	if s.ClockMaxAdjPct == 0 {
		s.dec.ClockMaxAdjPct = pll.DefaultClockMaxAdjPct
	}
	if s.nsPerCellOverride != 0 {
		s.dec.PeriodIdeal = float64(s.nsPerCellOverride)
		s.dec.Period = float64(s.nsPerCellOverride)
	}
}

// Reset rewinds the stream to the start of the currently selected track
// without re-querying the backend, for a handler that needs a second
// clean pass (e.g. comparing two revolutions for flaky bits restarts via
// NextIndex instead; Reset is for retrying a misaligned sync search).
func (s *Stream) Reset() {
	s.initDecoder()
}

func (s *Stream) checkMaxRevolutions() error {
	if s.MaxRevolutions > 0 && s.NrIndex >= s.MaxRevolutions {
		return ErrEndOfStream
	}
	return nil
}

// NextBit returns the next decoded bitcell (0 or 1).
func (s *Stream) NextBit() (int, error) {
	if s.dec == nil {
		return 0, ErrNoTrackSelected
	}
	if err := s.checkMaxRevolutions(); err != nil {
		return 0, err
	}

	transition := s.dec.NextBit()
	if s.finiteCapture && s.dec.IsDone() {
		return 0, ErrEndOfStream
	}

	bit := 0
	if transition {
		bit = 1
	}

	s.bitCounter++
	s.IndexOffsetBC = s.bitCounter
	s.IndexOffsetNs = uint32(s.dec.Time - s.lastIndexTime)
	s.Word = (s.Word << 1) | uint32(bit)
	s.Latency += uint64(s.dec.Period)

	if s.crcActive {
		s.foldCRCBit(bit)
	}

	if s.finiteCapture {
		s.checkCaptureIndex()
	} else if s.pendingIndexes > 0 {
		for s.pendingIndexes > 0 {
			s.markIndex()
			s.pendingIndexes--
		}
	}

	return bit, nil
}

func (s *Stream) checkCaptureIndex() {
	for s.nextIndexIdx < len(s.data.IndexTimesNs) && s.dec.Time >= float64(s.data.IndexTimesNs[s.nextIndexIdx]) {
		s.markIndex()
		s.nextIndexIdx++
	}
}

func (s *Stream) markIndex() {
	s.NrIndex++
	s.TrackLenBC = s.bitCounter
	s.TrackLenNs = uint32(s.dec.Time - s.lastIndexTime)
	s.lastIndexTime = s.dec.Time
	s.bitCounter = 0
	s.IndexOffsetBC = 0
	s.IndexOffsetNs = 0
}

// NextIndex reads forward until the next index pulse (or ErrEndOfStream),
// discarding the bits in between. Used by handlers that need to
// re-synchronize to the start of a revolution.
func (s *Stream) NextIndex() error {
	start := s.NrIndex
	// Guard against runaway scans over malformed/empty capture data.
	for guard := 0; guard < 1<<24; guard++ {
		if _, err := s.NextBit(); err != nil {
			return err
		}
		if s.NrIndex != start {
			return nil
		}
	}
	return ErrEndOfStream
}

// NextBits reads n bits (n <= 32) and returns them packed MSB-first.
func (s *Stream) NextBits(n int) (uint32, error) {
	var word uint32
	for i := 0; i < n; i++ {
		bit, err := s.NextBit()
		if err != nil {
			return 0, err
		}
		word = (word << 1) | uint32(bit)
	}
	return word, nil
}

// NextBytes reads n bytes of decoded bits.
func (s *Stream) NextBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		word, err := s.NextBits(8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(word)
	}
	return out, nil
}

// StartCRC (re)starts the rolling CRC-CCITT accumulator from the
// reference seed; subsequent bits fold into CRC16CCITT eight at a time.
func (s *Stream) StartCRC() {
	s.crcActive = true
	s.CRC16CCITT = mfm.CRC16CCITTInit
	s.CRCBitOff = 0
	s.crcByte = 0
	s.crcBitCount = 0
}

func (s *Stream) foldCRCBit(bit int) {
	s.crcByte = (s.crcByte << 1) | byte(bit)
	s.crcBitCount++
	s.CRCBitOff++
	if s.crcBitCount == 8 {
		s.CRC16CCITT = mfm.CRC16CCITTByte(s.CRC16CCITT, s.crcByte)
		s.crcByte = 0
		s.crcBitCount = 0
	}
}

// SetDensity overrides the PLL's expected clock period (nanoseconds per
// bitcell), for handlers that deliberately write regions at a
// non-nominal speed (e.g. speedlock's long/short bitcell bands).
func (s *Stream) SetDensity(nsPerCell int) {
	s.nsPerCellOverride = nsPerCell
	if s.dec != nil {
		s.dec.PeriodIdeal = float64(nsPerCell)
		s.dec.Period = float64(nsPerCell)
	}
}

// GetDensity returns the PLL's current expected clock period in
// nanoseconds per bitcell.
func (s *Stream) GetDensity() int {
	if s.dec != nil {
		return int(s.dec.PeriodIdeal)
	}
	return s.nsPerCellOverride
}

// Close releases the underlying backend, if it supports it.
func (s *Stream) Close() error {
	if closer, ok := s.src.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
