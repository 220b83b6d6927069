package mconfig

import (
	"encoding/json"
	"testing"

	"gopper/iodrv"
)

type fakePin struct{ level iodrv.Level }

func (p *fakePin) Set(l iodrv.Level) { p.level = l }
func (p *fakePin) Get() iodrv.Level  { return p.level }

type fakeFactory struct{}

func (fakeFactory) Pin(gpio uint) iodrv.GPIOPin { return &fakePin{} }

type fakeSink struct{ calls int }

func (s *fakeSink) SchedPWM(pin *iodrv.IoPin, duty, minPeriod float64) { s.calls++ }

func cartesianConfigJSON() string {
	return `{
		"kinematics": "cartesian",
		"axes": [
			{"name": "x", "step_pin": {"gpio": 1}, "dir_pin": {"gpio": 2}, "steps_per_mm": 80, "max_position": 220},
			{"name": "y", "step_pin": {"gpio": 3}, "dir_pin": {"gpio": 4}, "steps_per_mm": 80, "max_position": 220},
			{"name": "z", "step_pin": {"gpio": 5}, "dir_pin": {"gpio": 6}, "steps_per_mm": 400, "max_position": 250},
			{"name": "e", "step_pin": {"gpio": 7}, "dir_pin": {"gpio": 8}, "steps_per_mm": 96, "max_position": 1e9}
		],
		"endstops": [
			{"pin": {"gpio": 20}},
			{"pin": {"gpio": 21}},
			{"pin": {"gpio": 22}}
		],
		"heaters": {
			"hotend": {
				"pin": {"gpio": 10},
				"thermistor": {"discharge_pin": {"gpio": 11}, "sense_pin": {"gpio": 12}, "series_resistance_ohms": 4700, "capacitance_farads": 1e-7, "beta_k": 3950, "r0_ohms": 100000, "t0_celsius": 25},
				"p": 0.1, "i": 0.01, "d": 0.02
			}
		},
		"fans": {"part_cooling": {"pin": {"gpio": 13}}},
		"servos": {"probe": {"pin": {"gpio": 14}}}
	}`
}

func TestLoadDefaultsAndValidate(t *testing.T) {
	var cfg MachineConfig
	if err := json.Unmarshal([]byte(cartesianConfigJSON()), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.DefaultMoveRate != 50 || cfg.MaxMoveRate != 300 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Heaters["hotend"].MaxTemp != 300 {
		t.Errorf("heater default MaxTemp not applied")
	}
}

func TestValidateRejectsUnknownKinematics(t *testing.T) {
	cfg := MachineConfig{Kinematics: "hexapod", Axes: [4]AxisConfig{{StepsPerMM: 1}, {StepsPerMM: 1}, {StepsPerMM: 1}, {StepsPerMM: 1}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized kinematic name")
	}
}

func TestValidateRejectsMissingGeometry(t *testing.T) {
	cfg := MachineConfig{Kinematics: "linear_delta", Axes: [4]AxisConfig{{StepsPerMM: 1}, {StepsPerMM: 1}, {StepsPerMM: 1}, {StepsPerMM: 1}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a linear_delta config missing its geometry block")
	}
}

func TestBuildCartesianMachine(t *testing.T) {
	var cfg MachineConfig
	if err := json.Unmarshal([]byte(cartesianConfigJSON()), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	m, err := Build(&cfg, fakeFactory{}, &fakeSink{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.CoordMap.NumAxes() != 4 {
		t.Errorf("NumAxes = %d, want 4", m.CoordMap.NumAxes())
	}
	if len(m.Steppers) != 4 {
		t.Errorf("len(Steppers) = %d, want 4", len(m.Steppers))
	}
	if len(m.Endstops) != 3 {
		t.Errorf("len(Endstops) = %d, want 3", len(m.Endstops))
	}
	if _, ok := m.Heaters["hotend"]; !ok {
		t.Error("hotend heater not wired")
	}
	if _, ok := m.Fans["part_cooling"]; !ok {
		t.Error("part_cooling fan not wired")
	}
	if _, ok := m.Servos["probe"]; !ok {
		t.Error("probe servo not wired")
	}
}

func TestClampMoveRate(t *testing.T) {
	m := &Machine{DefaultMoveRate: 50, MaxMoveRate: 300}
	if got := m.ClampMoveRate(0); got != 50 {
		t.Errorf("ClampMoveRate(0) = %v, want default 50", got)
	}
	if got := m.ClampMoveRate(1000); got != 300 {
		t.Errorf("ClampMoveRate(1000) = %v, want clamped 300", got)
	}
	if got := m.ClampMoveRate(100); got != 100 {
		t.Errorf("ClampMoveRate(100) = %v, want 100 unchanged", got)
	}
}
