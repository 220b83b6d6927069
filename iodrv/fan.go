package iodrv

// PWMSink is the minimal scheduler hook an IoDriver uses to request a
// steady duty cycle on a pin. state.NewPWMSink implements it on top of the
// scheduler, whose hardware backend (hwscheduler) serves the request by
// walking its reset-frame ring.
type PWMSink interface {
	SchedPWM(pin *IoPin, duty float64, minPeriod float64)
}

// Fan is an on/off or PWM-capable cooling fan. M106/M107 drive it; S is
// interpreted on a 0-255 scale if greater than 1, else on a 0-1 scale
// (matching the de-facto host convention most slicers emit).
type Fan struct {
	pin  *IoPin
	sink PWMSink
	duty float64
}

func NewFan(pin *IoPin, sink PWMSink) *Fan {
	return &Fan{pin: pin, sink: sink}
}

// SetDutyFromS interprets an M106 S parameter and applies it.
func (f *Fan) SetDutyFromS(s float64) {
	duty := s
	if s > 1 {
		duty = s / 255
	}
	f.SetDuty(duty)
}

// SetDuty applies a duty cycle directly, clamped to [0, 1].
func (f *Fan) SetDuty(duty float64) {
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	f.duty = duty
	f.sink.SchedPWM(f.pin, duty, 0)
}

// Off is the M107 shorthand for SetDuty(0).
func (f *Fan) Off() { f.SetDuty(0) }

func (f *Fan) Duty() float64 { return f.duty }
