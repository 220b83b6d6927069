// Package state ties the command parser, the MotionPlanner, the
// cooperative Scheduler, and the configured Machine's IoDrivers together:
// it tracks interpretation context (unit mode, position mode, host-zero
// offset), dispatches each parsed gparse.Command to the right operation,
// and drives the idle-cpu tending that advances motion and the
// self-scheduling IoDrivers (thermistors, heaters, servos).
package state

import (
	"io"

	"gopper/gparse"
	"gopper/mconfig"
	"gopper/motion"
	"gopper/scheduler"
)

// PositionMode selects how State interprets a host-supplied coordinate.
type PositionMode int

const (
	PosAbsolute PositionMode = iota
	PosRelative
)

// LengthUnit selects how State interprets a host-supplied distance.
type LengthUnit int

const (
	UnitMM LengthUnit = iota
	UnitIn
)

// mmPerIn converts inches to millimeters (G20).
const mmPerIn = 25.4

// NoTargetCelsius is the target-temperature sentinel reported before any
// M104/M109/M140 has set one, chosen the same way iodrv's thermistor
// reports "no reading yet": a value plainly below any real temperature.
const NoTargetCelsius = -300.0

// FileOpener resolves an M32 filename to a readable G-code stream. The
// production wiring (cmd/gopper-printer) resolves paths beneath a
// configured filesystem root; tests supply an in-memory stand-in.
type FileOpener func(path string) (io.ReadCloser, error)

// gcodeSource is one entry in the M32/M99 file stack: the Com reading it,
// plus the underlying handle to close when it's popped.
type gcodeSource struct {
	com    *gparse.Com
	closer io.Closer
}

// State is the single owner of interpretation context, the MotionPlanner,
// and everything driven off the Scheduler's idle-cpu callback. Exactly one
// goroutine (the one running State.Run) may ever touch it.
type State struct {
	machine *mconfig.Machine
	planner *motion.MotionPlanner
	sched   *scheduler.Scheduler
	opener  FileOpener

	// com is the persistent root communications channel, tended on every
	// wide idle-cpu tick regardless of what's active on the file stack, so
	// M112 (emergency stop) and M105 (temperature poll) still work while a
	// long M32 file prints. It is nil if the caller pushed its initial
	// stream onto the file stack instead of keeping it as a separate root
	// (see New's needPersistentCom parameter).
	com       *gparse.Com
	fileStack []gcodeSource

	positionMode    PositionMode
	extruderPosMode PositionMode
	unitMode        LengthUnit

	destX, destY, destZ, destE float64
	destMoveRate               float64

	hostZeroX, hostZeroY, hostZeroZ, hostZeroE float64

	isHomed            bool
	isWaitingForHotend bool

	lastMotionPlannedTime float64
	lastHeaterUpdate      float64
	haveLastHeaterUpdate  bool

	servos servoTender

	exiting  bool
	exitCode int
}

// New builds a State over machine, driving hardware output through sched.
// If needPersistentCom is false, com is pushed as the initial (and, absent
// any M32, only) entry on the G-code file stack rather than kept separately;
// this mirrors feeding either a host TTY or a single G-code file as the
// root source.
func New(machine *mconfig.Machine, sched *scheduler.Scheduler, com *gparse.Com, needPersistentCom bool, opener FileOpener) *State {
	s := &State{
		machine:         machine,
		sched:           sched,
		opener:          opener,
		positionMode:    PosAbsolute,
		extruderPosMode: PosAbsolute,
		unitMode:        UnitMM,
		servos:          newServoTender(machine.Servos),
	}
	s.planner = motion.NewMotionPlanner(machine.CoordMap, machine.Endstops)
	s.destMoveRate = machine.ClampMoveRate(machine.DefaultMoveRate)
	if needPersistentCom {
		s.com = com
	} else {
		s.fileStack = append(s.fileStack, gcodeSource{com: com})
	}
	return s
}

// Exiting reports whether M0, a root-level M99/EOF, or M112 has requested
// the event loop stop. ExitCode distinguishes a clean exit (0) from an
// emergency stop (1, from M112).
func (s *State) Exiting() bool { return s.exiting }
func (s *State) ExitCode() int { return s.exitCode }

// Unit conversion pipeline, per axis: to_primitive(p) = mm_per_unit *
// to_absolute(p) + host_zero. to_absolute folds in the current position
// when in relative mode; posUnitToMM folds in inches-vs-mm; host_zero is
// the G92-established offset.

func (s *State) xUnitToAbsolute(v float64) float64 {
	if s.positionMode == PosRelative {
		return v + s.destX
	}
	return v
}
func (s *State) yUnitToAbsolute(v float64) float64 {
	if s.positionMode == PosRelative {
		return v + s.destY
	}
	return v
}
func (s *State) zUnitToAbsolute(v float64) float64 {
	if s.positionMode == PosRelative {
		return v + s.destZ
	}
	return v
}
func (s *State) eUnitToAbsolute(v float64) float64 {
	if s.extruderPosMode == PosRelative {
		return v + s.destE
	}
	return v
}

func (s *State) posUnitToMM(v float64) float64 {
	if s.unitMode == UnitIn {
		return v * mmPerIn
	}
	return v
}

func (s *State) xUnitToPrimitive(v float64) float64 {
	return s.posUnitToMM(s.xUnitToAbsolute(v)) + s.hostZeroX
}
func (s *State) yUnitToPrimitive(v float64) float64 {
	return s.posUnitToMM(s.yUnitToAbsolute(v)) + s.hostZeroY
}
func (s *State) zUnitToPrimitive(v float64) float64 {
	return s.posUnitToMM(s.zUnitToAbsolute(v)) + s.hostZeroZ
}
func (s *State) eUnitToPrimitive(v float64) float64 {
	return s.posUnitToMM(s.eUnitToAbsolute(v)) + s.hostZeroE
}

// fUnitToPrimitive converts a host feed rate (distance/minute, subject to
// the current unit mode) to mm/s.
func (s *State) fUnitToPrimitive(v float64) float64 {
	return s.posUnitToMM(v) / 60
}

// setDestMoveRatePrimitive records a new feed rate (mm/s), clamped to the
// machine's configured envelope.
func (s *State) setDestMoveRatePrimitive(f float64) {
	s.destMoveRate = s.machine.ClampMoveRate(f)
}

// setHostZeroPos solves for the host-zero offsets that make the current
// destination read back as (x, y, z, e) in host units going forward (G92).
func (s *State) setHostZeroPos(x, y, z, e float64) {
	s.hostZeroX = s.destX - x
	s.hostZeroY = s.destY - y
	s.hostZeroZ = s.destZ - z
	s.hostZeroE = s.destE - e
}
