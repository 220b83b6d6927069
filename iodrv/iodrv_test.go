package iodrv

import (
	"math"
	"testing"

	"gopper/motion"
)

type mockPin struct{ level Level }

func (m *mockPin) Set(l Level) { m.level = l }
func (m *mockPin) Get() Level  { return m.level }

func newTestPin(name string) *IoPin {
	return NewPin(name, &mockPin{}, false, Low)
}

func TestIoPinDefaultRestore(t *testing.T) {
	hw := &mockPin{}
	p := NewPin("heater0", hw, false, Low)
	p.SetLogical(High)
	if hw.level != High {
		t.Fatalf("expected pin driven high")
	}
	p.Close()
	if hw.level != Low {
		t.Errorf("Close did not restore default, got %v", hw.level)
	}
}

func TestIoPinInversion(t *testing.T) {
	hw := &mockPin{}
	p := NewPin("inverted", hw, true, Low)
	p.SetLogical(High)
	if hw.level != Low {
		t.Errorf("inverted pin should drive physically low for logical high")
	}
}

func TestRestoreAll(t *testing.T) {
	hw1, hw2 := &mockPin{}, &mockPin{}
	p1 := NewPin("a", hw1, false, High)
	p2 := NewPin("b", hw2, false, Low)
	p1.SetLogical(Low)
	p2.SetLogical(High)
	RestoreAll()
	if hw1.level != High || hw2.level != Low {
		t.Errorf("RestoreAll did not reset all pins: %v %v", hw1.level, hw2.level)
	}
	p1.Close()
	p2.Close()
}

func TestStepDirDriverExpand(t *testing.T) {
	step := newTestPin("step")
	dir := newTestPin("dir")
	drv := NewStepDirDriver(step, dir, nil, false)

	events := drv.Expand(motion.Event{Time: 1.0, Axis: 0, Dir: motion.Forward})
	if len(events) != 3 {
		t.Fatalf("expected 3 OutputEvents, got %d", len(events))
	}
	if events[0].Time != 1.0 || !events[0].Level {
		t.Errorf("DIR event wrong: %+v", events[0])
	}
	if events[1].Level {
		t.Errorf("STEP should go low first: %+v", events[1])
	}
	if !events[2].Level || events[2].Time <= events[1].Time {
		t.Errorf("STEP high event wrong: %+v", events[2])
	}
}

func TestFanDutyFromS(t *testing.T) {
	var gotPin *IoPin
	var gotDuty float64
	sink := fakeSink(func(pin *IoPin, duty, _ float64) {
		gotPin, gotDuty = pin, duty
	})
	pin := newTestPin("fan0")
	fan := NewFan(pin, sink)

	fan.SetDutyFromS(64)
	if math.Abs(gotDuty-64.0/255) > 1e-9 {
		t.Errorf("S=64 duty = %v, want ~0.251", gotDuty)
	}
	if gotPin != pin {
		t.Errorf("wrong pin passed to sink")
	}

	fan.SetDutyFromS(0.5)
	if gotDuty != 0.5 {
		t.Errorf("S=0.5 duty = %v, want 0.5", gotDuty)
	}
}

type fakeSink func(pin *IoPin, duty, minPeriod float64)

func (f fakeSink) SchedPWM(pin *IoPin, duty, minPeriod float64) { f(pin, duty, minPeriod) }

func TestEndstopTriggered(t *testing.T) {
	hw := &mockPin{}
	pin := NewPin("endstop", hw, false, Low)
	es := NewEndstop(pin)
	if es.Triggered() {
		t.Errorf("should not be triggered initially")
	}
	hw.Set(High)
	if !es.Triggered() {
		t.Errorf("should be triggered once pin reads high")
	}
}

func TestHeaterNoSensorLeavesOutputZero(t *testing.T) {
	var duty float64 = -1
	sink := fakeSink(func(_ *IoPin, d, _ float64) { duty = d })
	pin := newTestPin("heater")
	discharge := newTestPin("discharge")
	sense := newTestPin("sense")
	therm := NewRCThermistor(discharge, sense, 4700, 1e-7, 3.3, 3950, 100000, 25)
	h := NewHeater(pin, therm, sink, 0.1, 0.01, 0.01, 0, 300, 1.0, 1)
	h.SetTarget(200)
	h.Update(1.0)
	if duty != 0 {
		t.Errorf("heater with no sensor reading should stay off, got duty %v", duty)
	}
}
