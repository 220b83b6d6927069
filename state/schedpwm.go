package state

import (
	"gopper/iodrv"
	"gopper/scheduler"
)

// schedPWMSink adapts scheduler.Scheduler's handle-keyed SchedPWM to the
// *iodrv.IoPin-keyed iodrv.PWMSink interface fans and heaters expect,
// resolving each pin through iodrv.HandleFor. Callers need this wired
// before mconfig.Build runs (Build's fans/heaters capture it directly), so
// it's a freestanding constructor rather than something State builds for
// itself.
type schedPWMSink struct {
	sched *scheduler.Scheduler
}

// NewPWMSink builds an iodrv.PWMSink over sched, for passing to
// mconfig.Build.
func NewPWMSink(sched *scheduler.Scheduler) iodrv.PWMSink {
	return &schedPWMSink{sched: sched}
}

func (a *schedPWMSink) SchedPWM(pin *iodrv.IoPin, duty, minPeriod float64) {
	a.sched.SchedPWM(iodrv.HandleFor(pin), duty, minPeriod)
}
