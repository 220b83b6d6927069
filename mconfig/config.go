// Package mconfig loads a MachineConfig from JSON and builds the runtime
// Machine it describes: the CoordMap for the configured kinematic plus
// every IoDriver wired to its physical pins. This is gopper's equivalent
// of the original Printipi's compile-time-templated machines/*.h headers,
// adapted to the teacher's own runtime JSON config pattern
// (standalone/config/config.go) instead of Go generics.
package mconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// PinConfig names one physical GPIO and its wiring polarity.
type PinConfig struct {
	GPIO     uint `json:"gpio"`
	Inverted bool `json:"inverted"`
}

// AxisConfig wires one motor: a step/dir pair, an optional shared enable
// line, and its microstep scale (steps/mm for cartesian and linear-delta
// towers, steps/degree for angular-delta arms).
type AxisConfig struct {
	Name        string     `json:"name"`
	StepPin     PinConfig  `json:"step_pin"`
	DirPin      PinConfig  `json:"dir_pin"`
	EnablePin   *PinConfig `json:"enable_pin,omitempty"`
	InvertDir   bool       `json:"invert_dir"`
	StepsPerMM  float64    `json:"steps_per_mm"`
	MinPosition float64    `json:"min_position"`
	MaxPosition float64    `json:"max_position"`
}

// EndstopConfig wires one axis's homing switch.
type EndstopConfig struct {
	Pin PinConfig `json:"pin"`
}

// ThermistorConfig describes the RC charge-time sensing circuit for one
// heater's temperature channel.
type ThermistorConfig struct {
	DischargePin     PinConfig `json:"discharge_pin"`
	SensePin         PinConfig `json:"sense_pin"`
	SeriesResistance float64   `json:"series_resistance_ohms"`
	Capacitance      float64   `json:"capacitance_farads"`
	SupplyVoltage    float64   `json:"supply_voltage"`
	BetaK            float64   `json:"beta_k"`
	R0               float64   `json:"r0_ohms"`
	T0C              float64   `json:"t0_celsius"`
}

// HeaterConfig wires a PID-controlled heater (hotend or bed) to its pin,
// thermistor, and safety envelope.
type HeaterConfig struct {
	Pin          PinConfig        `json:"pin"`
	Thermistor   ThermistorConfig `json:"thermistor"`
	P            float64         `json:"p"`
	I            float64         `json:"i"`
	D            float64         `json:"d"`
	MinTemp      float64          `json:"min_temp"`
	MaxTemp      float64          `json:"max_temp"`
	MaxPower     float64          `json:"max_power"`
	MinPWMPeriod float64          `json:"min_pwm_period"`
}

// FanConfig wires a cooling fan to its pin.
type FanConfig struct {
	Pin PinConfig `json:"pin"`
}

// ServoConfig wires an RC servo (M280) to its pin and pulse-width range.
type ServoConfig struct {
	Pin      PinConfig `json:"pin"`
	Period   float64   `json:"period"`
	MinPulse float64   `json:"min_pulse"`
	MaxPulse float64   `json:"max_pulse"`
	MinAngle float64   `json:"min_angle"`
	MaxAngle float64   `json:"max_angle"`
}

// CartesianGeometry has no extra fields beyond per-axis bounds, which
// already live in AxisConfig.
type CartesianGeometry struct{}

// LinearDeltaGeometry describes a 3-tower linear-delta's fixed dimensions.
// Axes[0..2].StepsPerMM still carries each tower's carriage microstep
// scale; Axes[*].MinPosition/MaxPosition are unused for towers 0-2.
type LinearDeltaGeometry struct {
	TowerRadius float64 `json:"tower_radius"`
	RodLength   float64 `json:"rod_length"`
	HomeHeight  float64 `json:"home_height"`
	MinZ        float64 `json:"min_z"`
	MaxZ        float64 `json:"max_z"`
	BuildRadius float64 `json:"build_radius"`
}

// AngularDeltaGeometry describes a 3-arm angular-delta's fixed dimensions.
// Axes[0..2].StepsPerMM is interpreted as steps/degree of arm rotation.
type AngularDeltaGeometry struct {
	BaseSide      float64 `json:"base_side"`
	EffectorSide  float64 `json:"effector_side"`
	BicepLength   float64 `json:"bicep_length"`
	ForearmLength float64 `json:"forearm_length"`
	HomeAngleDeg  float64 `json:"home_angle_degrees"`
	ZOffset       float64 `json:"z_offset"`
}

// MachineConfig is the full JSON-serializable description of one printer:
// its kinematic, every physical pin, and the motion envelope State clamps
// commanded moves into. Axes is always exactly 4 entries: the three
// motor axes (X/Y/Z for cartesian, or tower/arm 0-2 for the deltas)
// followed by the extruder.
type MachineConfig struct {
	Kinematics string `json:"kinematics"` // "cartesian", "linear_delta", "angular_delta"

	Cartesian    *CartesianGeometry    `json:"cartesian,omitempty"`
	LinearDelta  *LinearDeltaGeometry  `json:"linear_delta,omitempty"`
	AngularDelta *AngularDeltaGeometry `json:"angular_delta,omitempty"`

	Axes     [4]AxisConfig    `json:"axes"`
	Endstops [3]EndstopConfig `json:"endstops"`

	DefaultMoveRate float64 `json:"default_move_rate"`
	MaxMoveRate     float64 `json:"max_move_rate"`
	HomeRate        float64 `json:"home_rate"`
	Acceleration    float64 `json:"acceleration"`
	MaxRetractRate  float64 `json:"max_retract_rate"`
	MaxExtrudeRate  float64 `json:"max_extrude_rate"`

	Heaters map[string]HeaterConfig `json:"heaters"` // keys: "hotend", "bed"
	Fans    map[string]FanConfig    `json:"fans"`
	Servos  map[string]ServoConfig  `json:"servos"`
}

// Load reads and parses a MachineConfig from path, filling in the fields
// applyDefaults covers when the file left them zero.
func Load(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mconfig: reading %s: %w", path, err)
	}
	var cfg MachineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mconfig: parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mconfig: %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in machine-motion parameters a config author is
// likely to omit, mirroring the teacher's applyDefaults in
// standalone/config/config.go.
func applyDefaults(cfg *MachineConfig) {
	if cfg.DefaultMoveRate == 0 {
		cfg.DefaultMoveRate = 50.0
	}
	if cfg.MaxMoveRate == 0 {
		cfg.MaxMoveRate = 300.0
	}
	if cfg.HomeRate == 0 {
		cfg.HomeRate = 10.0
	}
	if cfg.MaxExtrudeRate == 0 {
		cfg.MaxExtrudeRate = 50.0
	}
	if cfg.MaxRetractRate == 0 {
		cfg.MaxRetractRate = 50.0
	}
	for name, h := range cfg.Heaters {
		if h.MaxTemp == 0 {
			h.MaxTemp = 300.0
		}
		if h.MaxPower == 0 {
			h.MaxPower = 1.0
		}
		if h.MinPWMPeriod == 0 {
			h.MinPWMPeriod = 0.5
		}
		if h.Thermistor.SupplyVoltage == 0 {
			h.Thermistor.SupplyVoltage = 3.3
		}
		cfg.Heaters[name] = h
	}
	for name, s := range cfg.Servos {
		if s.Period == 0 {
			s.Period = 0.02
		}
		if s.MaxAngle == 0 && s.MinAngle == 0 {
			s.MinAngle, s.MaxAngle = 0, 180
		}
		cfg.Servos[name] = s
	}
}

// Validate reports the first structural problem found: an unknown
// kinematic name, a missing geometry block for the selected kinematic, or
// a non-positive steps-per-unit on a motor axis.
func (cfg *MachineConfig) Validate() error {
	switch cfg.Kinematics {
	case "cartesian":
		if cfg.Cartesian == nil {
			cfg.Cartesian = &CartesianGeometry{}
		}
	case "linear_delta":
		if cfg.LinearDelta == nil {
			return fmt.Errorf("kinematics %q requires a \"linear_delta\" geometry block", cfg.Kinematics)
		}
	case "angular_delta":
		if cfg.AngularDelta == nil {
			return fmt.Errorf("kinematics %q requires an \"angular_delta\" geometry block", cfg.Kinematics)
		}
	default:
		return fmt.Errorf("unknown kinematics %q (want cartesian, linear_delta, or angular_delta)", cfg.Kinematics)
	}
	for i, axis := range cfg.Axes {
		if axis.StepsPerMM <= 0 {
			return fmt.Errorf("axis %d (%q): steps_per_mm must be positive", i, axis.Name)
		}
	}
	return nil
}
