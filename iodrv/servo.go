package iodrv

import "gopper/motion"

// Servo drives a hobby RC servo: a fixed ~10-20ms period PWM with a
// variable 1-2ms on-time mapped linearly to [MinAngle, MaxAngle] degrees.
// Each cycle is two OutputEvents (rising, falling) streamed through the
// hardware scheduler rather than a steady-state reset-ring PWM, since the
// on-time needs to change promptly in response to M280 without waiting for
// a new reset-frame program to propagate.
type Servo struct {
	pin      *IoPin
	period   float64 // seconds, typically 0.02
	minPulse float64 // seconds, at MinAngle
	maxPulse float64 // seconds, at MaxAngle
	MinAngle float64
	MaxAngle float64
}

// NewServo builds a Servo with the given cycle period and pulse-width
// range (seconds) corresponding to MinAngle/MaxAngle degrees.
func NewServo(pin *IoPin, period, minPulse, maxPulse, minAngle, maxAngle float64) *Servo {
	return &Servo{pin: pin, period: period, minPulse: minPulse, maxPulse: maxPulse, MinAngle: minAngle, MaxAngle: maxAngle}
}

// PulseWidthForAngle linearly maps a commanded angle (degrees, clamped to
// [MinAngle, MaxAngle]) to a pulse width in seconds.
func (s *Servo) PulseWidthForAngle(angleDeg float64) float64 {
	if angleDeg < s.MinAngle {
		angleDeg = s.MinAngle
	}
	if angleDeg > s.MaxAngle {
		angleDeg = s.MaxAngle
	}
	span := s.MaxAngle - s.MinAngle
	if span == 0 {
		return s.minPulse
	}
	frac := (angleDeg - s.MinAngle) / span
	return s.minPulse + frac*(s.maxPulse-s.minPulse)
}

// CycleEvents returns the rising/falling OutputEvent pair for one PWM cycle
// beginning at startTime, commanding angleDeg.
func (s *Servo) CycleEvents(startTime, angleDeg float64) []motion.OutputEvent {
	pw := s.PulseWidthForAngle(angleDeg)
	return []motion.OutputEvent{
		{Time: startTime, Pin: motion.PinHandle(handleFor(s.pin)), Level: true},
		{Time: startTime + pw, Pin: motion.PinHandle(handleFor(s.pin)), Level: false},
	}
}

func (s *Servo) Period() float64 { return s.period }
