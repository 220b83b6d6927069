package state

import (
	"gopper/gparse"
)

// heaterUpdatePeriod bounds how often Heater.Update runs its PID step; the
// thermistor read it depends on takes several milliseconds (see
// iodrv.RCThermistor.Read's SettleTime/ChargeTimeout), so driving it on
// every wide tick would starve everything else tending shares the thread
// with.
const heaterUpdatePeriod = 0.25

// Run drives the interpreter forever: it tends whichever G-code sources are
// active, advances the motion planner, and services periodic IoDriver work
// (thermistor reads, PID updates, servo re-firing), sleeping via the
// scheduler's clock when there is nothing to do. It returns once Exiting
// becomes true.
func (s *State) Run() {
	shortCount := 0
	for !s.exiting {
		if s.onIdleCpu(shortCount%wideEvery == 0) {
			shortCount++
			continue
		}
		shortCount = 0
		s.sched.SleepUntil(s.sched.Now() + idleSleepSeconds)
	}
}

// wideEvery bounds how many consecutive "did work" ticks run before a wide
// tick (com tending, heater PID) is forced in, so a continuously-busy
// planner can't starve the periodic bookkeeping.
const wideEvery = 64

// idleSleepSeconds is how long Run sleeps when there was nothing to do;
// short enough that newly arrived host input or a newly-ready motion
// segment is picked up promptly.
const idleSleepSeconds = 0.01

// onIdleCpu performs one tick of bookkeeping. It returns true if it did
// anything useful, signaling the caller to come back again immediately
// rather than sleep.
func (s *State) onIdleCpu(wide bool) bool {
	did := false

	if wide {
		if s.tendComChannels() {
			did = true
		}
		if s.tendHeaters() {
			did = true
		}
		s.servos.Tend(s.sched.Now(), s.sched)
	}

	if s.tendMotion() {
		did = true
	}

	return did
}

// tendComChannels polls the persistent root com (if any) and the top of the
// file stack (if any) for a fully-read line, executes it, and replies.
// Tending the root independently of the file stack means M112 and M105
// still work while a long M32 print is running.
func (s *State) tendComChannels() bool {
	did := false
	if s.com != nil {
		if s.tendOne(s.com) {
			did = true
		}
	}
	for len(s.fileStack) > 0 {
		top := s.fileStack[len(s.fileStack)-1]
		ready := s.tendOne(top.com)
		if ready {
			did = true
		}
		if top.com.AtEOF() {
			s.popFile()
			continue
		}
		break
	}
	return did
}

// tendOne reads and executes at most one command from com.
func (s *State) tendOne(com *gparse.Com) bool {
	ready, err := com.TendCom()
	if !ready {
		return err == nil // nothing ready yet, but not necessarily idle (a partial line was buffered)
	}
	resp := s.Execute(com.Command())
	com.Reply(resp)
	return true
}

// tendHeaters runs each heater's thermistor read and PID step no more
// often than heaterUpdatePeriod, and clears isWaitingForHotend once every
// heater with a target set has reached it.
func (s *State) tendHeaters() bool {
	now := s.sched.Now()
	if s.haveLastHeaterUpdate && now-s.lastHeaterUpdate < heaterUpdatePeriod {
		return false
	}
	dt := 0.0
	if s.haveLastHeaterUpdate {
		dt = now - s.lastHeaterUpdate
	}
	s.lastHeaterUpdate = now
	s.haveLastHeaterUpdate = true

	for _, h := range s.machine.Heaters {
		h.Sensor.Read(s.sched.Now, func(d float64) { s.sched.SleepUntil(s.sched.Now() + d) })
		h.Update(dt)
	}
	if s.isWaitingForHotend && s.isHotendReady() {
		s.isWaitingForHotend = false
	}
	return true
}

// tendMotion advances the planner by one step when there is room in the
// hardware scheduler's buffer, expanding the step into its driver-level
// OutputEvents and queuing them. Queuing blocks the caller until each
// event's scheduled time (see scheduler.Scheduler.Queue), which is exactly
// what paces this function to the real step rate rather than racing ahead
// of the hardware.
func (s *State) tendMotion() bool {
	if s.planner.ReadyForNextMove() {
		return false
	}
	if !s.sched.IsRoomInBuffer() {
		return false
	}
	return s.stepOnce()
}

// stepOnce pulls and dispatches exactly one pending step from the planner's
// active segment, regardless of buffer-room bookkeeping. Used directly by
// tendMotion's normal pacing, and by drainActiveSegment to run a segment
// to completion inline (auto-homing ahead of the first movement command,
// where the planner's single-segment lookahead means the movement itself
// cannot be queued until homing has actually finished).
func (s *State) stepOnce() bool {
	ev, ok := s.planner.NextStep()
	if !ok {
		return false
	}
	axis := ev.Axis
	if axis < 0 || axis >= len(s.machine.Steppers) {
		return true
	}
	driver := s.machine.Steppers[axis]
	for _, out := range driver.Expand(ev) {
		s.sched.Queue(out)
	}
	s.lastMotionPlannedTime = ev.Time
	return true
}

// drainActiveSegment steps the planner's current segment to completion
// inline, blocking the calling command's dispatch until done.
// queueMovement, queueArc and homeEndstops call it before planning a new
// segment, so a segment tendMotion has not finished pacing (most often an
// automatic home) completes first.
func (s *State) drainActiveSegment() {
	for !s.planner.ReadyForNextMove() {
		if !s.stepOnce() {
			break
		}
	}
}
