// Package scheduler runs the single cooperative control loop: it advances
// to each OutputEvent's time (sleeping as necessary), relays it to the
// HardwareScheduler, and calls idle-cpu callbacks so periodic bookkeeping
// (thermistor reads, host-stream tending) is never starved.
package scheduler

import (
	"time"

	"gopper/motion"
)

// IdleInterval indicates, roughly, how long it has been since onIdleCpu was
// last called.
type IdleInterval int

const (
	IdleShort IdleInterval = iota
	IdleWide
)

// Interface is what the Scheduler needs from the hardware layer beneath
// it. hwscheduler.Scheduler implements this.
type Interface interface {
	// SchedTime returns the earliest instant an event targeting time t may
	// safely be placed into the hardware's buffer.
	SchedTime(t float64) float64
	// Queue delivers an OutputEvent to the hardware scheduler. The caller
	// has already waited until it is safe to do so.
	Queue(evt motion.OutputEvent) error
	// QueuePWM configures a steady-state PWM duty cycle for pin, forbidding
	// rising edges closer together than minPeriod.
	QueuePWM(pin motion.PinHandle, duty, minPeriod float64)
	// OnIdleCpu is called whenever the scheduler has spare time; it
	// returns true if it did meaningful work and would like to be called
	// again soon (a short interval) rather than after a full sleep.
	OnIdleCpu(interval IdleInterval) bool
}

// wideIntervalEvery bounds how many consecutive short intervals may run
// before a wide one is forced in, so periodic bookkeeping that only runs on
// wide ticks is never starved by components that constantly report more
// work to do.
const wideIntervalEvery = 2048

// Scheduler runs the single control thread: no other goroutine touches the
// HardwareScheduler, the MotionPlanner, or any IoDriver.
type Scheduler struct {
	iface          Interface
	maxSleep       time.Duration
	hasActiveEvent bool

	// Now and SleepUntil abstract wall-clock access so tests can inject a
	// synthetic clock; production wiring (cmd/gopper-printer) leaves them
	// at their time.Now/time.Sleep defaults.
	Now       func() float64
	SleepUntil func(target float64)

	exitHandlersIO  []func()
	exitHandlersMem []func()
	exiting         bool
}

// New builds a Scheduler with the default 40ms max idle sleep and a
// wall-clock-backed Now/SleepUntil pair.
func New(iface Interface) *Scheduler {
	start := time.Now()
	s := &Scheduler{
		iface:    iface,
		maxSleep: 40 * time.Millisecond,
		Now:      func() float64 { return time.Since(start).Seconds() },
	}
	s.SleepUntil = func(target float64) {
		d := time.Duration((target - s.Now()) * float64(time.Second))
		if d > 0 {
			time.Sleep(d)
		}
	}
	return s
}

// SetMaxSleep overrides the default 40ms idle-sleep ceiling.
func (s *Scheduler) SetMaxSleep(d time.Duration) { s.maxSleep = d }

// IsRoomInBuffer reports whether a new event may be queued without
// blocking the caller on one already in flight.
func (s *Scheduler) IsRoomInBuffer() bool { return !s.hasActiveEvent }

// Queue advances to evt's time (sleeping as necessary, servicing idle-cpu
// callbacks while it waits) then delivers it to the hardware scheduler.
func (s *Scheduler) Queue(evt motion.OutputEvent) error {
	s.hasActiveEvent = true
	defer func() { s.hasActiveEvent = false }()
	s.yield(&evt)
	return s.iface.Queue(evt)
}

// SchedPWM relays a PWM request to the hardware scheduler, clamping duty
// to [0, 1].
func (s *Scheduler) SchedPWM(pin motion.PinHandle, duty, minPeriod float64) {
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	s.iface.QueuePWM(pin, duty, minPeriod)
}

// EventLoop runs until Shutdown marks the scheduler as exiting, servicing
// idle-cpu work and sleeping when there is none. Callers normally run this
// on the scheduler's dedicated thread.
func (s *Scheduler) EventLoop() {
	interval := IdleWide
	shortCount := 0
	for !s.exiting {
		if s.iface.OnIdleCpu(interval) {
			shortCount++
			if shortCount%wideIntervalEvery == 0 {
				interval = IdleWide
			} else {
				interval = IdleShort
			}
		} else {
			interval = IdleWide
			s.sleepUntilEvent(nil)
		}
	}
}

// yield blocks the caller until evt's time, servicing idle-cpu callbacks
// while it waits.
func (s *Scheduler) yield(evt *motion.OutputEvent) {
	interval := IdleWide
	shortCount := 0
	for !s.isEventTime(evt) {
		if !s.iface.OnIdleCpu(interval) {
			s.sleepUntilEvent(evt)
			interval = IdleWide
		} else {
			shortCount++
			if shortCount%wideIntervalEvery == 0 {
				interval = IdleWide
			} else {
				interval = IdleShort
			}
		}
	}
}

// sleepUntilEvent sleeps until evt's scheduled delivery time, or for
// maxSleep if evt is nil (used by EventLoop's idle path to periodically
// re-check idle-cpu work even with no event pending).
func (s *Scheduler) sleepUntilEvent(evt *motion.OutputEvent) {
	sleepUntil := s.Now() + s.maxSleep.Seconds()
	if evt != nil {
		evtTime := s.iface.SchedTime(evt.Time)
		if evtTime < sleepUntil {
			sleepUntil = evtTime
		}
	}
	s.SleepUntil(sleepUntil)
}

func (s *Scheduler) isEventTime(evt *motion.OutputEvent) bool {
	return s.iface.SchedTime(evt.Time) <= s.Now()
}

// RegisterExitHandler adds fn to the IO-level (pins restored first) or
// mem-level (peripherals unmapped last) exit handler list. Exit handlers
// run in registration order within their level; all IO handlers run before
// any mem handler.
func (s *Scheduler) RegisterExitHandler(level ExitLevel, fn func()) {
	switch level {
	case ExitLevelIO:
		s.exitHandlersIO = append(s.exitHandlersIO, fn)
	case ExitLevelMem:
		s.exitHandlersMem = append(s.exitHandlersMem, fn)
	}
}

// ExitLevel orders exit handlers: IO-level handlers (restoring pins) must
// run before mem-level handlers (unmapping the peripherals those pins'
// writes go through).
type ExitLevel int

const (
	ExitLevelIO ExitLevel = iota
	ExitLevelMem
)

// Shutdown runs every registered exit handler, IO level first, then mem
// level, and marks the scheduler as exiting so EventLoop returns. Safe to
// call from a signal-set atomic flag poll in the main loop; must not be
// called directly from signal-handler context.
func (s *Scheduler) Shutdown() {
	s.exiting = true
	for _, fn := range s.exitHandlersIO {
		fn()
	}
	for _, fn := range s.exitHandlersMem {
		fn()
	}
}
