package iodrv

// Endstop is a thin wrapper over a digital-input pin reporting whether an
// axis has reached its mechanical limit. It implements
// motion.EndstopSensor.
type Endstop struct {
	pin *IoPin
}

// NewEndstop wraps pin as an endstop. Polarity is handled by pin's
// Inverted flag, set according to whether the switch is normally-open or
// normally-closed.
func NewEndstop(pin *IoPin) *Endstop {
	return &Endstop{pin: pin}
}

// Triggered reports whether the endstop is currently asserted.
func (e *Endstop) Triggered() bool {
	return bool(e.pin.GetLogical())
}
