package state

import (
	"gopper/iodrv"
	"gopper/scheduler"
)

// servoState is one servo's commanded angle and cycle scheduling.
type servoState struct {
	servo      *iodrv.Servo
	angle      float64
	active     bool
	nextCycle  float64
}

// servoTender re-fires each active servo's PWM cycle on its own period, a
// job the steady-state reset-ring PWM (iodrv.PWMSink) can't do because a
// servo's on-time must change promptly in response to M280 without waiting
// for a new reset-frame program to propagate (see iodrv.Servo.CycleEvents).
type servoTender struct {
	states map[string]*servoState
}

func newServoTender(servos map[string]*iodrv.Servo) servoTender {
	st := servoTender{states: make(map[string]*servoState, len(servos))}
	for name, s := range servos {
		st.states[name] = &servoState{servo: s}
	}
	return st
}

// SetAngle commands name's servo to angleDeg, activating its periodic
// cycle if it wasn't already running. ok is false if name isn't a
// configured servo.
func (st servoTender) SetAngle(name string, angleDeg float64) bool {
	s, ok := st.states[name]
	if !ok {
		return false
	}
	s.angle = angleDeg
	s.active = true
	return true
}

// Stop deactivates name's servo, letting its line idle low after the
// current cycle completes.
func (st servoTender) Stop(name string) bool {
	s, ok := st.states[name]
	if !ok {
		return false
	}
	s.active = false
	return true
}

// Tend re-queues each active servo's next PWM cycle once its previous one
// has elapsed. Called on every wide idle-cpu tick; queuing is cheap enough
// (two OutputEvents) that re-checking this often costs nothing when no
// servo is due.
func (st servoTender) Tend(now float64, sched *scheduler.Scheduler) {
	for _, s := range st.states {
		if !s.active {
			continue
		}
		if now < s.nextCycle {
			continue
		}
		for _, evt := range s.servo.CycleEvents(now, s.angle) {
			sched.Queue(evt)
		}
		s.nextCycle = now + s.servo.Period()
	}
}
