package state

import (
	"fmt"
	"math"

	"gopper/gparse"
	"gopper/logging"
	"gopper/vmath"
)

// Execute dispatches one parsed Command and returns the reply to send back
// on the channel it arrived on. Most opcodes reply Ok; a handful reply
// OkWithSuffix (M105's temperature report) or Null (a blank/comment-only
// line, or M0, M99 and M112, which may tear the process down before any
// reply would matter).
func (s *State) Execute(cmd gparse.Command) gparse.Response {
	if cmd.Empty() {
		return gparse.Null
	}

	switch cmd.Opcode() {
	case "G0", "G1":
		return s.gMove(cmd)
	case "G2", "G3":
		return s.gArc(cmd, cmd.Opcode() == "G2")
	case "G20":
		s.unitMode = UnitIn
		return gparse.Ok
	case "G21":
		s.unitMode = UnitMM
		return gparse.Ok
	case "G28":
		return s.gHome(cmd)
	case "G90":
		s.positionMode = PosAbsolute
		s.extruderPosMode = PosAbsolute
		return gparse.Ok
	case "G91":
		s.positionMode = PosRelative
		s.extruderPosMode = PosRelative
		return gparse.Ok
	case "G92":
		return s.gSetPosition(cmd)

	case "M0":
		s.requestExit(0)
		return gparse.Null
	case "M17":
		s.setSteppersEnabled(true)
		return gparse.Ok
	case "M18", "M84":
		s.setSteppersEnabled(false)
		return gparse.Ok
	case "M21":
		return gparse.Ok // "init SD card": no-op, filesystem access needs no setup here
	case "M32":
		return s.mStartFile(cmd)
	case "M82":
		s.extruderPosMode = PosAbsolute
		return gparse.Ok
	case "M83":
		s.extruderPosMode = PosRelative
		return gparse.Ok
	case "M99":
		s.popFile()
		return gparse.Null
	case "M104":
		s.setHeaterTarget("hotend", cmd.GetParam('S', NoTargetCelsius))
		return gparse.Ok
	case "M105":
		return gparse.OkWithSuffix(s.temperatureReport())
	case "M106":
		s.setFanRate("part_cooling", cmd.GetParam('S', 255))
		return gparse.Ok
	case "M107":
		s.setFanRate("part_cooling", 0)
		return gparse.Ok
	case "M109":
		s.setHeaterTarget("hotend", cmd.GetParam('S', NoTargetCelsius))
		s.isWaitingForHotend = true
		return gparse.Ok
	case "M110":
		return gparse.Ok // line-number reset: this parser never validates line numbers
	case "M112":
		s.requestExit(1)
		return gparse.Null
	case "M116":
		s.isWaitingForHotend = true
		return gparse.Ok
	case "M117", "M118":
		// Display message / host notification: nothing to display to, but
		// the command is well-formed and expects an ack.
		return gparse.Ok
	case "M140":
		s.setHeaterTarget("bed", cmd.GetParam('S', NoTargetCelsius))
		return gparse.Ok
	case "M190":
		s.setHeaterTarget("bed", cmd.GetParam('S', NoTargetCelsius))
		s.isWaitingForHotend = true
		return gparse.Ok
	case "M280":
		return s.mServo(cmd)
	}

	if len(cmd.Opcode()) > 0 && cmd.Opcode()[0] == 'T' {
		// Tn: select extruder/tool n. This machine exposes one extruder
		// channel, so any T-code is accepted and ignored.
		return gparse.Ok
	}

	logging.Debugf("unrecognized opcode %q acknowledged without action", cmd.Opcode())
	return gparse.Ok // unrecognized opcodes are acknowledged, not rejected: a host emitting an optional feature hint shouldn't halt a print over it
}

func (s *State) requestExit(code int) {
	s.exiting = true
	s.exitCode = code
}

func (s *State) setSteppersEnabled(enabled bool) {
	for _, st := range s.machine.Steppers {
		st.SetEnabled(enabled)
	}
}

func (s *State) setFanRate(name string, sValue float64) {
	f, ok := s.machine.Fans[name]
	if !ok {
		return
	}
	f.SetDutyFromS(sValue)
}

func (s *State) setHeaterTarget(name string, celsius float64) {
	h, ok := s.machine.Heaters[name]
	if !ok {
		return
	}
	h.SetTarget(celsius)
}

// isHotendReady reports whether every heater State is waiting on has
// reached its target within a small tolerance, or there's nothing to wait
// for.
func (s *State) isHotendReady() bool {
	const tolerance = 2.0 // degrees C
	for _, h := range s.machine.Heaters {
		if h.Target() <= 0 {
			continue
		}
		if math.Abs(h.Measured()-h.Target()) > tolerance {
			return false
		}
	}
	return true
}

func (s *State) temperatureReport() string {
	hotend := NoTargetCelsius
	bed := NoTargetCelsius
	if h, ok := s.machine.Heaters["hotend"]; ok {
		hotend = h.Measured()
	}
	if h, ok := s.machine.Heaters["bed"]; ok {
		bed = h.Measured()
	}
	return fmt.Sprintf("T:%.1f B:%.1f", hotend, bed)
}

func (s *State) mServo(cmd gparse.Command) gparse.Response {
	idx := int(cmd.GetParam('P', 0))
	name := fmt.Sprintf("servo%d", idx)
	if !cmd.HasParam('S') {
		s.servos.Stop(name)
		return gparse.Ok
	}
	s.servos.SetAngle(name, cmd.GetParam('S', 0))
	return gparse.Ok
}

// gMove dispatches G0/G1: a linear move to the commanded coordinates
// (omitted axes hold their current position) at the commanded feed rate
// (omitted: hold the previous rate).
func (s *State) gMove(cmd gparse.Command) gparse.Response {
	s.homeBeforeFirstMovementIfNeeded()

	cur := s.planner.CurrentCartesianPosition()
	target := s.destinationFromParams(cmd, cur)

	if cmd.HasParam('F') {
		s.setDestMoveRatePrimitive(s.fUnitToPrimitive(cmd.GetParam('F', 0)))
	}

	s.queueMovement(target)
	return gparse.Ok
}

// destinationFromParams resolves G-code X/Y/Z/E letters against cur (the
// planner's current position) through the unit-conversion pipeline, and
// records the resulting destination as State's new last-known position
// regardless of whether an actual move is queued for it (matching G92's
// "set without moving" semantics reusing the same bookkeeping).
func (s *State) destinationFromParams(cmd gparse.Command, cur vmath.Vector4) vmath.Vector4 {
	target := cur
	if cmd.HasParam('X') {
		target.X = s.xUnitToPrimitive(cmd.GetParam('X', 0))
	}
	if cmd.HasParam('Y') {
		target.Y = s.yUnitToPrimitive(cmd.GetParam('Y', 0))
	}
	if cmd.HasParam('Z') {
		target.Z = s.zUnitToPrimitive(cmd.GetParam('Z', 0))
	}
	if cmd.HasParam('E') {
		target.E = s.eUnitToPrimitive(cmd.GetParam('E', 0))
	}
	s.destX, s.destY, s.destZ, s.destE = target.X, target.Y, target.Z, target.E
	return target
}

// queueMovement starts a linear segment on the planner toward target,
// watermarked to begin after the previously planned motion (so consecutive
// moves chain without gaps or overlap). The planner holds only one active
// segment at a time (see motion.MotionPlanner), so any segment still
// running is drained to completion first rather than silently clobbered.
func (s *State) queueMovement(target vmath.Vector4) {
	s.drainActiveSegment()
	start := s.lastMotionPlannedTime
	s.planner.MoveTo(start, target, s.destMoveRate, 0, s.machine.MaxExtrudeRate, s.machine.Acceleration)
}

func (s *State) gArc(cmd gparse.Command, isCW bool) gparse.Response {
	s.homeBeforeFirstMovementIfNeeded()

	cur := s.planner.CurrentCartesianPosition()
	target := s.destinationFromParams(cmd, cur)

	i := s.posUnitToMM(cmd.GetParam('I', 0))
	j := s.posUnitToMM(cmd.GetParam('J', 0))
	k := s.posUnitToMM(cmd.GetParam('K', 0))
	center := cur.XYZ().Add(vmath.Vector3{X: i, Y: j, Z: k})

	if cmd.HasParam('F') {
		s.setDestMoveRatePrimitive(s.fUnitToPrimitive(cmd.GetParam('F', 0)))
	}

	s.queueArc(target, center, isCW)
	return gparse.Ok
}

func (s *State) queueArc(target vmath.Vector4, center vmath.Vector3, isCW bool) {
	s.drainActiveSegment()
	start := s.lastMotionPlannedTime
	s.planner.ArcTo(start, target, center, s.destMoveRate, 0, s.machine.MaxExtrudeRate, s.machine.Acceleration, isCW)
}

func (s *State) gHome(cmd gparse.Command) gparse.Response {
	s.homeEndstops()
	return gparse.Ok
}

// homeEndstops starts a homing segment at the machine's configured home
// rate. isHomed and the planner's resulting position are only authoritative
// once the segment completes (NextStep applies HomePosition when the
// homing segment ends).
func (s *State) homeEndstops() {
	s.drainActiveSegment()
	start := s.lastMotionPlannedTime
	s.planner.HomeEndstops(start, s.machine.ClampHomeRate(s.machine.HomeRate))
	s.isHomed = true
}

// homeBeforeFirstMovementIfNeeded injects an automatic G28 the first time a
// movement command is issued on a kinematic that requires homing before its
// mechanical-to-cartesian mapping is meaningful (delta machines: arm angle
// zero doesn't correspond to a known cartesian point until homed). The
// subsequent queueMovement/queueArc call drains this home segment to
// completion before starting the real move, since the planner holds only
// one active segment at a time.
func (s *State) homeBeforeFirstMovementIfNeeded() {
	if s.isHomed || !s.machine.CoordMap.DoHomeBeforeFirstMovement() {
		return
	}
	s.homeEndstops()
}

// gSetPosition implements G92: without moving the toolhead, declares that
// the current position is (X, Y, Z, E) in host units (any omitted axis is
// left at its current host-unit value).
func (s *State) gSetPosition(cmd gparse.Command) gparse.Response {
	x, y, z, e := s.hostUnitPosition()
	if cmd.HasParam('X') {
		x = cmd.GetParam('X', 0)
	}
	if cmd.HasParam('Y') {
		y = cmd.GetParam('Y', 0)
	}
	if cmd.HasParam('Z') {
		z = cmd.GetParam('Z', 0)
	}
	if cmd.HasParam('E') {
		e = cmd.GetParam('E', 0)
	}
	s.setHostZeroPos(s.posUnitToMM(x), s.posUnitToMM(y), s.posUnitToMM(z), s.posUnitToMM(e))
	return gparse.Ok
}

// hostUnitPosition inverts the unit-conversion pipeline for the current
// destination, returning what G92 without any parameter would see as the
// toolhead's position in the active unit/position mode.
func (s *State) hostUnitPosition() (x, y, z, e float64) {
	unscale := func(primitive, hostZero float64) float64 {
		mm := primitive - hostZero
		if s.unitMode == UnitIn {
			return mm / mmPerIn
		}
		return mm
	}
	return unscale(s.destX, s.hostZeroX), unscale(s.destY, s.hostZeroY), unscale(s.destZ, s.hostZeroZ), unscale(s.destE, s.hostZeroE)
}
