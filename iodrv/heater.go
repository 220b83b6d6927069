package iodrv

// Heater is a PID-controlled hotend or bed heater. On each wide idle-cpu
// tick the caller reads the thermistor, calls Update, and the PWM duty it
// returns is written to the heater pin with a minimum period chosen so the
// output MOSFET is not switched faster than it can handle.
type Heater struct {
	Pin    *IoPin
	Sensor *RCThermistor
	Sink   PWMSink

	P, I, D float64
	MinTemp, MaxTemp float64
	MaxPower         float64 // clamp on PID output, [0,1]
	MinPWMPeriod     float64 // seconds

	target     float64
	integral   float64
	lastError  float64
	lastFilt   float64
	hasLast    bool
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func NewHeater(pin *IoPin, sensor *RCThermistor, sink PWMSink, p, i, d, minTemp, maxTemp, maxPower, minPWMPeriod float64) *Heater {
	return &Heater{
		Pin: pin, Sensor: sensor, Sink: sink,
		P: p, I: i, D: d,
		MinTemp: minTemp, MaxTemp: maxTemp, MaxPower: maxPower, MinPWMPeriod: minPWMPeriod,
		target: NoSensorCelsius,
	}
}

// SetTarget sets the desired temperature in Celsius; 0 or below disables
// the heater.
func (h *Heater) SetTarget(celsius float64) { h.target = celsius }

func (h *Heater) Target() float64 { return h.target }

// Measured returns the most recently measured temperature, low-pass
// filtered against the previous reading (alpha=0.3, matching the typical
// thermistor-report smoothing used across hobby firmware).
func (h *Heater) Measured() float64 {
	if !h.hasLast {
		return h.Sensor.LastCelsius()
	}
	return h.lastFilt
}

// Update runs one PID step given a time delta dt (seconds) since the
// previous call, reading the thermistor's last measurement (the caller is
// responsible for driving Sensor.Read on its own schedule) and writing the
// resulting duty cycle to the heater pin. It returns the duty applied.
func (h *Heater) Update(dt float64) float64 {
	measured := h.Sensor.LastCelsius()
	if !h.hasLast {
		h.lastFilt = measured
		h.hasLast = true
	} else {
		const alpha = 0.3
		h.lastFilt = alpha*measured + (1-alpha)*h.lastFilt
	}

	if h.target <= 0 || measured <= NoSensorCelsius || measured > h.MaxTemp || measured < h.MinTemp {
		h.integral = 0
		h.lastError = 0
		h.Sink.SchedPWM(h.Pin, 0, h.MinPWMPeriod)
		return 0
	}

	err := h.target - h.lastFilt
	h.integral += err * dt
	deriv := 0.0
	if dt > 0 {
		deriv = (err - h.lastError) / dt
	}
	h.lastError = err

	out := h.P*err + h.I*h.integral + h.D*deriv
	duty := clampF(out, 0, h.MaxPower)
	if duty != out {
		// Anti-windup: don't keep accumulating integral while saturated.
		h.integral -= err * dt
	}
	h.Sink.SchedPWM(h.Pin, duty, h.MinPWMPeriod)
	return duty
}
