package mconfig

import (
	"fmt"

	"gopper/iodrv"
	"gopper/motion"
)

// PinFactory constructs the hardware-backed GPIOPin for a physical GPIO
// number. The production implementation (cmd/gopper-printer) wraps
// hwscheduler.NewDMAPin; tests supply an in-memory fake.
type PinFactory interface {
	Pin(gpio uint) iodrv.GPIOPin
}

// Machine is the fully wired runtime machine Build produces: the CoordMap
// driving the MotionPlanner, plus every IoDriver State dispatches G/M-codes
// to.
type Machine struct {
	CoordMap motion.CoordMap
	Endstops []motion.EndstopSensor

	Steppers []*iodrv.StepDirDriver // indexed by axis, parallel to CoordMap axes
	Heaters  map[string]*iodrv.Heater
	Fans     map[string]*iodrv.Fan
	Servos   map[string]*iodrv.Servo

	DefaultMoveRate float64
	MaxMoveRate     float64
	HomeRate        float64
	Acceleration    float64
	MaxRetractRate  float64
	MaxExtrudeRate  float64
}

// ClampMoveRate bounds a requested feed rate (mm/s) to the machine's
// configured maximum.
func (m *Machine) ClampMoveRate(rate float64) float64 {
	if rate <= 0 {
		return m.DefaultMoveRate
	}
	if rate > m.MaxMoveRate {
		return m.MaxMoveRate
	}
	return rate
}

// ClampHomeRate bounds a requested homing rate to the machine's configured
// maximum homing speed.
func (m *Machine) ClampHomeRate(rate float64) float64 {
	if rate <= 0 || rate > m.HomeRate {
		return m.HomeRate
	}
	return rate
}

func pin(f PinFactory, name string, pc PinConfig, def iodrv.Level) *iodrv.IoPin {
	return iodrv.NewPin(name, f.Pin(pc.GPIO), pc.Inverted, def)
}

// Build constructs the CoordMap for cfg.Kinematics and wires every IoDriver
// to its configured physical pin via f. sink receives PWM requests from
// fans/heaters (normally scheduler.Scheduler.SchedPWM, adapted through
// iodrv.HandleFor).
func Build(cfg *MachineConfig, f PinFactory, sink iodrv.PWMSink) (*Machine, error) {
	m := &Machine{
		Heaters:         map[string]*iodrv.Heater{},
		Fans:            map[string]*iodrv.Fan{},
		Servos:          map[string]*iodrv.Servo{},
		DefaultMoveRate: cfg.DefaultMoveRate,
		MaxMoveRate:     cfg.MaxMoveRate,
		HomeRate:        cfg.HomeRate,
		Acceleration:    cfg.Acceleration,
		MaxRetractRate:  cfg.MaxRetractRate,
		MaxExtrudeRate:  cfg.MaxExtrudeRate,
	}

	cm, err := buildCoordMap(cfg)
	if err != nil {
		return nil, err
	}
	m.CoordMap = cm

	for i, axis := range cfg.Axes {
		step := pin(f, axis.Name+"_step", axis.StepPin, iodrv.Low)
		dir := pin(f, axis.Name+"_dir", axis.DirPin, iodrv.Low)
		var enable *iodrv.IoPin
		if axis.EnablePin != nil {
			enable = pin(f, axis.Name+"_enable", *axis.EnablePin, iodrv.High) // most drivers: disabled (high) by default
		}
		m.Steppers = append(m.Steppers, iodrv.NewStepDirDriver(step, dir, enable, axis.InvertDir))
		_ = i
	}

	for i, es := range cfg.Endstops {
		p := pin(f, fmt.Sprintf("endstop%d", i), es.Pin, iodrv.Low)
		m.Endstops = append(m.Endstops, iodrv.NewEndstop(p))
	}

	for name, hc := range cfg.Heaters {
		heaterPin := pin(f, name+"_heat", hc.Pin, iodrv.Low)
		discharge := pin(f, name+"_therm_discharge", hc.Thermistor.DischargePin, iodrv.Low)
		sense := pin(f, name+"_therm_sense", hc.Thermistor.SensePin, iodrv.Low)
		therm := iodrv.NewRCThermistor(discharge, sense,
			hc.Thermistor.SeriesResistance, hc.Thermistor.Capacitance, hc.Thermistor.SupplyVoltage,
			hc.Thermistor.BetaK, hc.Thermistor.R0, hc.Thermistor.T0C)
		m.Heaters[name] = iodrv.NewHeater(heaterPin, therm, sink, hc.P, hc.I, hc.D, hc.MinTemp, hc.MaxTemp, hc.MaxPower, hc.MinPWMPeriod)
	}

	for name, fc := range cfg.Fans {
		p := pin(f, name+"_fan", fc.Pin, iodrv.Low)
		m.Fans[name] = iodrv.NewFan(p, sink)
	}

	for name, sc := range cfg.Servos {
		p := pin(f, name+"_servo", sc.Pin, iodrv.Low)
		m.Servos[name] = iodrv.NewServo(p, sc.Period, sc.MinPulse, sc.MaxPulse, sc.MinAngle, sc.MaxAngle)
	}

	return m, nil
}

func buildCoordMap(cfg *MachineConfig) (motion.CoordMap, error) {
	switch cfg.Kinematics {
	case "cartesian":
		var axes [4]motion.AxisSpec
		for i, a := range cfg.Axes {
			axes[i] = motion.AxisSpec{Name: a.Name, StepsPerMM: a.StepsPerMM, MinPosition: a.MinPosition, MaxPosition: a.MaxPosition}
		}
		return motion.NewCartesianCoordMap(axes), nil
	case "linear_delta":
		g := cfg.LinearDelta
		var stepsPerMM [3]float64
		for i := 0; i < 3; i++ {
			stepsPerMM[i] = cfg.Axes[i].StepsPerMM
		}
		return motion.NewLinearDeltaCoordMap(g.TowerRadius, g.RodLength, stepsPerMM, cfg.Axes[3].StepsPerMM, g.HomeHeight, g.MinZ, g.MaxZ, g.BuildRadius), nil
	case "angular_delta":
		g := cfg.AngularDelta
		var stepsPerDeg [3]float64
		for i := 0; i < 3; i++ {
			stepsPerDeg[i] = cfg.Axes[i].StepsPerMM
		}
		return motion.NewAngularDeltaCoordMap(g.BaseSide, g.EffectorSide, g.BicepLength, g.ForearmLength, stepsPerDeg, cfg.Axes[3].StepsPerMM, g.HomeAngleDeg, g.ZOffset), nil
	default:
		return nil, fmt.Errorf("mconfig: unknown kinematics %q", cfg.Kinematics)
	}
}
