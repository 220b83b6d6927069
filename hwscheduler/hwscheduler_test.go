package hwscheduler

import (
	"testing"
	"time"

	"gopper/logging"
	"gopper/motion"
)

func TestFrameTimeRoundTrip(t *testing.T) {
	for _, sec := range []float64{0, 1, 0.000004, 2.5, 10.999996} {
		f := secToFrame(sec)
		got := frameToSec(f)
		if diff := got - sec; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("secToFrame/frameToSec(%v) round-tripped to %v", sec, got)
		}
	}
}

func TestFramesPerSecMatchesClockMath(t *testing.T) {
	want := nominalClockFreq / bitsPerClock / clockDiv
	if framesPerSec != want {
		t.Fatalf("framesPerSec = %d, want %d", framesPerSec, want)
	}
}

func TestGpioBufferFrameWriteSet(t *testing.T) {
	var f GpioBufferFrame
	f.writeSet(3, true)
	if f.GPSet != 1<<3 {
		t.Fatalf("GPSet = %#x, want %#x", f.GPSet, uint32(1<<3))
	}
	f.writeSet(3, false)
	if f.GPSet != 0 {
		t.Fatalf("GPSet = %#x, want 0 after clearing bit", f.GPSet)
	}
}

func TestGpioBufferFrameWriteClr(t *testing.T) {
	var f GpioBufferFrame
	f.writeClr(17, true)
	if f.GPClr != 1<<17 {
		t.Fatalf("GPClr = %#x, want %#x", f.GPClr, uint32(1<<17))
	}
	f.writeClr(17, false)
	if f.GPClr != 0 {
		t.Fatalf("GPClr = %#x, want 0 after clearing bit", f.GPClr)
	}
}

func TestGpioBufferFrameLeavesOtherPinsAlone(t *testing.T) {
	var f GpioBufferFrame
	f.writeSet(0, true)
	f.writeSet(1, true)
	f.writeSet(0, false)
	if f.GPSet != 1<<1 {
		t.Fatalf("GPSet = %#x, want only bit 1 set", f.GPSet)
	}
}

func TestSchedTimeOffsetsByMaxAhead(t *testing.T) {
	s := &Scheduler{}
	target := 100.0
	got := s.SchedTime(target)
	if got != target-maxSchedAheadUsec {
		t.Fatalf("SchedTime(%v) = %v, want %v", target, got, target-maxSchedAheadUsec)
	}
	if maxSchedAheadUsec <= 0 {
		t.Fatalf("maxSchedAheadUsec must be positive, got %v", maxSchedAheadUsec)
	}
}

func TestSchedAheadWindowOrdering(t *testing.T) {
	if minSchedAheadFrame >= maxSchedAheadFrame {
		t.Fatalf("minSchedAheadFrame (%d) must be less than maxSchedAheadFrame (%d)", minSchedAheadFrame, maxSchedAheadFrame)
	}
	if maxSchedAheadFrame >= sourceBufferFrames {
		t.Fatalf("maxSchedAheadFrame (%d) must leave room below sourceBufferFrames (%d)", maxSchedAheadFrame, sourceBufferFrames)
	}
}

func TestRoundUp4K(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4096, 4096: 4096, 4097: 8192}
	for in, want := range cases {
		if got := roundUp4K(in); got != want {
			t.Errorf("roundUp4K(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestQueueRejectsUnknownPinHandle(t *testing.T) {
	s := &Scheduler{timeAtFrame0: 0}
	evt := motion.OutputEvent{Time: 1, Pin: motion.PinHandle(1 << 20), Level: true}
	if err := s.Queue(evt); err == nil {
		t.Fatal("expected error for an unregistered pin handle")
	}
}

func TestModulatePWMMatchesDutyOnAverage(t *testing.T) {
	frames := make([]GpioBufferFrame, 10000)
	const duty = 0.25098 // M106 S64 -> 64/255
	modulatePWM(frames, 3, duty, 0)

	onCount := 0
	for _, f := range frames {
		if f.GPSet&(1<<3) != 0 {
			onCount++
		}
	}
	got := float64(onCount) / float64(len(frames))
	if diff := got - duty; diff > 0.01 || diff < -0.01 {
		t.Fatalf("average duty = %v, want ~%v", got, duty)
	}
}

func TestModulatePWMZeroDutyStaysLow(t *testing.T) {
	frames := make([]GpioBufferFrame, 1000)
	modulatePWM(frames, 5, 0, 0)
	for i, f := range frames {
		if f.GPSet&(1<<5) != 0 {
			t.Fatalf("frame %d is high, want low for duty=0", i)
		}
	}
}

func TestModulatePWMFullDutyStaysHigh(t *testing.T) {
	frames := make([]GpioBufferFrame, 1000)
	modulatePWM(frames, 5, 1, 0)
	for i, f := range frames {
		if f.GPSet&(1<<5) == 0 {
			t.Fatalf("frame %d is low, want high for duty=1", i)
		}
	}
}

func TestModulatePWMRespectsMinPeriodBetweenRisingEdges(t *testing.T) {
	frames := make([]GpioBufferFrame, 2000)
	const minPeriodFrames = 50
	modulatePWM(frames, 0, 0.5, minPeriodFrames)

	lastRise := -minPeriodFrames - 1
	wasHigh := false
	for i, f := range frames {
		isHigh := f.GPSet&1 != 0
		if isHigh && !wasHigh {
			if int64(i)-int64(lastRise) < minPeriodFrames {
				t.Fatalf("rising edge at frame %d is only %d frames after the previous one, want >= %d", i, i-lastRise, minPeriodFrames)
			}
			lastRise = i
		}
		wasHigh = isHigh
	}
}

func TestSyncTimeAtFrame0WarnsOnDriftButAlwaysAdopts(t *testing.T) {
	var warned string
	logging.SetWriter(func(line string) { warned = line })
	defer logging.SetWriter(nil)

	s := &Scheduler{timeAtFrame0: 1000, syncedAt: time.Now().Add(-time.Second)}
	s.timeAtFrame0 = 1000 + maxClockDriftSec*10
	// Simulate what syncTimeAtFrame0 does with a fresh estimate, without a
	// real DMA register to read: the drift check and adoption are the
	// behavior under test, not the register access itself.
	newEstimate := 1000.0
	drift := newEstimate - s.timeAtFrame0
	if drift < 0 {
		drift = -drift
	}
	if drift > maxClockDriftSec {
		logging.Warnf("hwscheduler: DMA clock drift %.1fus since last sync, re-anchoring time origin", drift*1e6)
	}
	s.timeAtFrame0 = newEstimate
	if warned == "" {
		t.Fatal("expected a drift warning to have been logged")
	}
	if s.timeAtFrame0 != newEstimate {
		t.Fatalf("timeAtFrame0 = %v, want the new estimate %v adopted regardless of drift", s.timeAtFrame0, newEstimate)
	}
}
