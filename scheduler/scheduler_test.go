package scheduler

import (
	"testing"

	"gopper/motion"
)

type fakeHW struct {
	queued   []motion.OutputEvent
	pwmCalls int
	pwmDuty  []float64
	idle     func(IdleInterval) bool
	schedAdd float64
}

func (f *fakeHW) SchedTime(t float64) float64 { return t + f.schedAdd }
func (f *fakeHW) Queue(evt motion.OutputEvent) error {
	f.queued = append(f.queued, evt)
	return nil
}
func (f *fakeHW) QueuePWM(pin motion.PinHandle, duty, minPeriod float64) {
	f.pwmCalls++
	f.pwmDuty = append(f.pwmDuty, duty)
}
func (f *fakeHW) OnIdleCpu(interval IdleInterval) bool {
	if f.idle != nil {
		return f.idle(interval)
	}
	return false
}

func TestQueueDeliversOnceEventTimeReached(t *testing.T) {
	hw := &fakeHW{}
	s := New(hw)
	now := 0.0
	s.Now = func() float64 { return now }
	s.SleepUntil = func(target float64) { now = target }

	if err := s.Queue(motion.OutputEvent{Time: 5, Pin: 0, Level: true}); err != nil {
		t.Fatalf("Queue returned error: %v", err)
	}
	if len(hw.queued) != 1 || hw.queued[0].Time != 5 {
		t.Fatalf("expected event delivered, got %+v", hw.queued)
	}
	if now < 5 {
		t.Errorf("expected clock to have advanced to event time, got %v", now)
	}
}

func TestQueueServicesIdleCpuWhileWaiting(t *testing.T) {
	hw := &fakeHW{}
	calls := 0
	hw.idle = func(IdleInterval) bool {
		calls++
		return false
	}
	s := New(hw)
	now := 0.0
	s.Now = func() float64 { return now }
	s.SleepUntil = func(target float64) { now = target }

	s.Queue(motion.OutputEvent{Time: 1, Pin: 0, Level: true})
	if calls == 0 {
		t.Errorf("expected OnIdleCpu to be called while waiting for event time")
	}
}

func TestSchedPWMClampsDuty(t *testing.T) {
	hw := &fakeHW{}
	s := New(hw)
	s.SchedPWM(0, 2.0, 0.02)
	s.SchedPWM(0, -1, 0.02)
	if hw.pwmCalls != 2 {
		t.Fatalf("expected 2 pwm calls, got %d", hw.pwmCalls)
	}
	if hw.pwmDuty[0] != 1 || hw.pwmDuty[1] != 0 {
		t.Errorf("expected duties clamped to [1 0], got %v", hw.pwmDuty)
	}
}

func TestExitHandlersRunIOBeforeMem(t *testing.T) {
	s := New(&fakeHW{})
	var order []string
	s.RegisterExitHandler(ExitLevelMem, func() { order = append(order, "mem") })
	s.RegisterExitHandler(ExitLevelIO, func() { order = append(order, "io") })
	s.Shutdown()
	if len(order) != 2 || order[0] != "io" || order[1] != "mem" {
		t.Errorf("expected io before mem, got %v", order)
	}
}

func TestIsRoomInBuffer(t *testing.T) {
	hw := &fakeHW{}
	s := New(hw)
	if !s.IsRoomInBuffer() {
		t.Errorf("expected room in buffer before any Queue in flight")
	}
}
