package iodrv

import (
	"errors"
	"math"
)

// ErrThermistorTimeout is returned when the sense capacitor failed to
// charge past the logic threshold within the configured timeout.
var ErrThermistorTimeout = errors.New("iodrv: thermistor charge timeout")

// ErrThermistorPreempted is returned when the scheduler's actual elapsed
// time around a reading exceeded MinTimingAccuracy, meaning the measured
// charge time cannot be trusted.
var ErrThermistorPreempted = errors.New("iodrv: thermistor reading preempted")

// NoSensorCelsius is the sentinel temperature reported before any reading
// has completed, or permanently for a channel with no sensor wired.
const NoSensorCelsius = -300.0

// rcState is the RC-thermistor read state machine's current phase.
type rcState int

const (
	rcPreparing rcState = iota
	rcReading
	rcCalibrating
)

// RCThermistor approximates a single ADC channel using two digital pins: a
// discharge pin that drains the sense capacitor, and a sense pin wired
// through a known series resistor that then charges it. Temperature is
// derived from the RC charge time via the Beta equation.
type RCThermistor struct {
	Discharge *IoPin
	Sense     *IoPin

	SeriesResistance float64 // ohms
	Capacitance      float64 // farads
	SupplyVoltage    float64 // volts
	BetaK            float64 // Beta coefficient, Kelvin
	R0, T0K          float64 // reference resistance (ohms) and temperature (Kelvin)

	SettleTime        float64 // seconds to hold discharge before reading
	MinTimingAccuracy float64 // seconds; discard readings preempted by more than this
	ChargeTimeout      float64 // seconds

	state            rcState
	calibratedThresh float64 // fraction of SupplyVoltage at which Sense reads high; refined by calibration reads
	lastCelsius      float64
}

// NewRCThermistor builds a thermistor reader with sensible defaults for
// the calibration threshold (assumed 0.5 * Vcc until a calibration pass
// refines it) and returns it reporting NoSensorCelsius until the first
// successful read.
func NewRCThermistor(discharge, sense *IoPin, seriesR, capF, vcc, beta, r0, t0C float64) *RCThermistor {
	return &RCThermistor{
		Discharge: discharge, Sense: sense,
		SeriesResistance: seriesR, Capacitance: capF, SupplyVoltage: vcc,
		BetaK: beta, R0: r0, T0K: t0C + 273.15,
		SettleTime: 2e-3, MinTimingAccuracy: 40e-6, ChargeTimeout: 50e-3,
		calibratedThresh: 0.5,
		lastCelsius:      NoSensorCelsius,
	}
}

// clock abstracts wall-clock access so tests can supply a synthetic one;
// in production, state's heater tending supplies the scheduler's Now and
// a SleepUntil-backed sleep.
type clock struct {
	now   func() float64
	sleep func(d float64)
}

// chargeTimeResult is what the underlying "wait for Sense to cross
// threshold" primitive reports back.
type chargeTimeResult struct {
	elapsed   float64
	preempted bool
	timedOut  bool
}

// waitForCharge busy-polls Sense until it reads logically High or timeout
// elapses, reporting the elapsed time and whether the poll loop itself was
// likely delayed (jitter) beyond MinTimingAccuracy relative to its own
// polling interval - a coarse stand-in for the scheduler-preemption check
// the original performs by comparing wall-clock deltas around the read.
func (t *RCThermistor) waitForCharge(c clock, timeout float64) chargeTimeResult {
	start := c.now()
	pollInterval := t.MinTimingAccuracy / 4
	if pollInterval <= 0 {
		pollInterval = 10e-6
	}
	lastPoll := start
	for {
		now := c.now()
		if bool(t.Sense.GetLogical()) {
			return chargeTimeResult{elapsed: now - start}
		}
		if now-start > timeout {
			return chargeTimeResult{elapsed: now - start, timedOut: true}
		}
		if now-lastPoll > t.MinTimingAccuracy {
			return chargeTimeResult{elapsed: now - start, preempted: true}
		}
		lastPoll = now
		if c.sleep != nil {
			c.sleep(pollInterval)
		}
	}
}

// resistanceFromChargeTime inverts the RC charging curve
// V(t) = Vcc*(1 - e^(-t/RC)) for the series+thermistor resistance implied
// by measuring elapsed time t to cross calibratedThresh*Vcc.
func (t *RCThermistor) resistanceFromChargeTime(elapsed float64) float64 {
	frac := t.calibratedThresh
	if frac <= 0 || frac >= 1 {
		frac = 0.5
	}
	denom := t.Capacitance * -math.Log(1-frac)
	if denom <= 0 {
		return math.Inf(1)
	}
	rTotal := elapsed / denom
	return rTotal - t.SeriesResistance
}

// celsiusFromResistance applies the Beta equation.
func (t *RCThermistor) celsiusFromResistance(r float64) float64 {
	if r <= 0 {
		return NoSensorCelsius
	}
	invT := 1/t.T0K + math.Log(r/t.R0)/t.BetaK
	if invT <= 0 {
		return NoSensorCelsius
	}
	return 1/invT - 273.15
}

// Read performs one Preparing->Reading cycle and returns the measured
// temperature in Celsius, or an error if the reading should be discarded
// (timeout, or the poll loop was preempted long enough to invalidate the
// timing).
func (t *RCThermistor) Read(now func() float64, sleep func(d float64)) (float64, error) {
	c := clock{now: now, sleep: sleep}

	t.state = rcPreparing
	t.Discharge.SetLogical(Low)
	if sleep != nil {
		sleep(t.SettleTime)
	}

	t.state = rcReading
	t.Discharge.SetLogical(High) // release discharge; capacitor charges through the series resistor
	result := t.waitForCharge(c, t.ChargeTimeout)
	if result.preempted {
		return t.lastCelsius, ErrThermistorPreempted
	}
	if result.timedOut {
		return NoSensorCelsius, ErrThermistorTimeout
	}

	r := t.resistanceFromChargeTime(result.elapsed)
	celsius := t.celsiusFromResistance(r)
	t.lastCelsius = celsius
	return celsius, nil
}

// Calibrate takes elapsedAtKnownR, a charge time measured through the known
// resistance knownR (no thermistor in circuit), and derives from it the
// fraction of SupplyVoltage at which the input reads high, compensating
// for input-threshold variation between Raspberry Pi units. It drives no
// pin itself, and keeps the previous threshold if the derived fraction
// falls outside (0, 1).
func (t *RCThermistor) Calibrate(elapsedAtKnownR float64, knownR float64) {
	t.state = rcCalibrating
	denom := knownR * t.Capacitance
	if denom <= 0 {
		return
	}
	frac := 1 - math.Exp(-elapsedAtKnownR/denom)
	if frac > 0 && frac < 1 {
		t.calibratedThresh = frac
	}
}

// LastCelsius returns the most recently measured temperature, or
// NoSensorCelsius before any successful read.
func (t *RCThermistor) LastCelsius() float64 { return t.lastCelsius }
