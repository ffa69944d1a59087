// Package pll implements the phase-locked-loop flux decoder shared by every
// flux-capture stream backend (SuperCard Pro, KryoFlux, HFE). It turns a
// sequence of flux transition timestamps into a bitcell stream by tracking
// an adaptive clock period and phase, the same two-knob design as the
// reference SCP decoder, generalized so the adjustment percentages and the
// clock-centre clamp range are configurable instead of fixed constants.
package pll

// Default tuning matches the stream package's defaults: a tighter +/-5%
// clock-centre clamp than the reference decoder's +/-10%, and the same
// period/phase adjustment fractions.
const (
	DefaultClockMaxAdjPct = 5
	DefaultPeriodAdjPct   = 5
	DefaultPhaseAdjPct    = 60
)

// FluxSource supplies flux transition intervals on demand. NextFlux returns
// the nanoseconds until the next transition and true, or (0, false) once no
// more transitions are available. Backends that never run dry (e.g. a
// synthetic stream that wraps around a fixed track image) simply never
// return false.
type FluxSource interface {
	NextFlux() (ns uint64, ok bool)
}

// sliceSource walks a precomputed list of absolute transition timestamps,
// the shape a one-shot flux capture (SCP, KryoFlux) naturally produces.
type sliceSource struct {
	transitions []uint64
	index       int
	lastTime    uint64
}

func (s *sliceSource) NextFlux() (uint64, bool) {
	if s.index >= len(s.transitions) {
		return 0, false
	}
	next := s.transitions[s.index]
	interval := next - s.lastTime
	s.lastTime = next
	s.index++
	return interval, true
}

// Decoder recovers MFM bitcells from a flux transition stream using a
// phase-locked loop: the clock period tracks the observed transition
// spacing, and the phase snaps toward each observed transition by
// PhaseAdjPct percent.
type Decoder struct {
	PeriodIdeal  float64 // expected clock period, ns
	Period       float64 // current clock period, ns
	Flux         float64 // accumulated flux time since the last clocked bit, ns
	Time         float64 // total elapsed time, ns
	ClockedZeros int     // consecutive zero bits since the last transition

	// ClockMaxAdjPct bounds Period to within this percentage of
	// PeriodIdeal. PeriodAdjPct and PhaseAdjPct control how aggressively
	// the period and phase chase each observed transition.
	ClockMaxAdjPct float64
	PeriodAdjPct   float64
	PhaseAdjPct    float64

	source FluxSource
	done   bool
}

// NewDecoder creates a PLL decoder over transitions (absolute flux
// transition times in nanoseconds) tuned to a nominal bitRateKHz, using the
// default adjustment percentages. Callers that need the reference
// decoder's wider +/-10% clamp, or any other tuning, should set
// ClockMaxAdjPct/PeriodAdjPct/PhaseAdjPct after construction.
func NewDecoder(transitions []uint64, bitRateKHz uint16) *Decoder {
	return NewDecoderFromSource(&sliceSource{transitions: transitions}, bitRateKHz)
}

// NewDecoderFromSource is the general constructor: src supplies flux
// intervals lazily, which is how a live or wrap-around backend (a synthetic
// soft stream replaying a fixed track image indefinitely) feeds the PLL
// without ever materializing a full transition list.
func NewDecoderFromSource(src FluxSource, bitRateKHz uint16) *Decoder {
	period := 1e6 / float64(bitRateKHz) / 2
	return &Decoder{
		PeriodIdeal:    period,
		Period:         period,
		ClockMaxAdjPct: DefaultClockMaxAdjPct,
		PeriodAdjPct:   DefaultPeriodAdjPct,
		PhaseAdjPct:    DefaultPhaseAdjPct,
		source:         src,
	}
}

// NextFlux returns the interval in nanoseconds until the next transition.
// It returns 0 once the flux source is exhausted.
func (d *Decoder) NextFlux() uint64 {
	ns, ok := d.source.NextFlux()
	if !ok {
		d.done = true
		return 0
	}
	return ns
}

// IsDone reports whether the flux source has been exhausted. It only
// becomes true after a fetch attempt has actually failed, so it should be
// checked after, not instead of, draining any bits still buffered in Flux.
func (d *Decoder) IsDone() bool {
	return d.done
}

// NextBit decodes and returns the next bitcell: false for a clocked zero,
// true for a transition (a clocked one). Once the underlying transition
// stream is exhausted mid-accumulation, it keeps returning clocked zeros.
func (d *Decoder) NextBit() bool {
	for d.Flux < d.Period/2 {
		interval := d.NextFlux()
		if interval == 0 {
			d.ClockedZeros++
			return false
		}
		d.Flux += float64(interval)
	}

	d.Time += d.Period
	d.Flux -= d.Period

	if d.Flux >= d.Period/2 {
		d.ClockedZeros++
		return false
	}

	// A transition landed inside this clock cell: re-centre the clock.
	if d.ClockedZeros <= 3 {
		d.Period += d.Flux * d.PeriodAdjPct / 100
	} else {
		d.Period += (d.PeriodIdeal - d.Period) * d.PeriodAdjPct / 100
	}

	pMin := d.PeriodIdeal * (100 - d.ClockMaxAdjPct) / 100
	if d.Period < pMin {
		d.Period = pMin
	}
	pMax := d.PeriodIdeal * (100 + d.ClockMaxAdjPct) / 100
	if d.Period > pMax {
		d.Period = pMax
	}

	newFlux := d.Flux * (100 - d.PhaseAdjPct) / 100
	d.Time += d.Flux - newFlux
	d.Flux = newFlux

	d.ClockedZeros = 0
	return true
}
