package state

import (
	"io"
	"strings"
	"testing"

	"gopper/gparse"
	"gopper/iodrv"
	"gopper/mconfig"
	"gopper/motion"
	"gopper/scheduler"
)

// fakePin is an in-memory iodrv.GPIOPin for tests that don't touch real
// hardware.
type fakePin struct{ level iodrv.Level }

func (p *fakePin) Set(l iodrv.Level) { p.level = l }
func (p *fakePin) Get() iodrv.Level  { return p.level }

type fakeFactory struct{}

func (fakeFactory) Pin(gpio uint) iodrv.GPIOPin { return &fakePin{} }

// fakeHW is a minimal scheduler.Interface that records every queued event
// and never reports idle-cpu work of its own, so State's own tending drives
// everything in these tests.
type fakeHW struct {
	queued []motion.OutputEvent
}

func (f *fakeHW) SchedTime(t float64) float64                           { return t }
func (f *fakeHW) Queue(evt motion.OutputEvent) error                    { f.queued = append(f.queued, evt); return nil }
func (f *fakeHW) QueuePWM(pin motion.PinHandle, duty, minPeriod float64) {}
func (f *fakeHW) OnIdleCpu(interval scheduler.IdleInterval) bool        { return false }

func cartesianTestConfig() *mconfig.MachineConfig {
	cfg := &mconfig.MachineConfig{
		Kinematics: "cartesian",
		Axes: [4]mconfig.AxisConfig{
			{Name: "x", StepsPerMM: 80, MaxPosition: 220},
			{Name: "y", StepsPerMM: 80, MaxPosition: 220},
			{Name: "z", StepsPerMM: 400, MaxPosition: 250},
			{Name: "e", StepsPerMM: 96, MaxPosition: 1e9},
		},
		// fakePin reads low, so inverted endstops report triggered and an
		// automatic home completes at once.
		Endstops: [3]mconfig.EndstopConfig{
			{Pin: mconfig.PinConfig{GPIO: 20, Inverted: true}},
			{Pin: mconfig.PinConfig{GPIO: 21, Inverted: true}},
			{Pin: mconfig.PinConfig{GPIO: 22, Inverted: true}},
		},
		DefaultMoveRate: 50,
		MaxMoveRate:     300,
		HomeRate:        10,
		Acceleration:    0,
		MaxExtrudeRate:  50,
	}
	return cfg
}

func newTestState(t *testing.T, needPersistentCom bool, script string) (*State, *gparse.Com, *scheduler.Scheduler, *fakeHW) {
	t.Helper()
	cfg := cartesianTestConfig()
	m, err := mconfig.Build(cfg, fakeFactory{}, &fakeSink{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hw := &fakeHW{}
	sched := scheduler.New(hw)
	now := 0.0
	sched.Now = func() float64 { return now }
	sched.SleepUntil = func(target float64) { now = target }

	var out strings.Builder
	com := gparse.NewCom(strings.NewReader(script), &out)
	s := New(m, sched, com, needPersistentCom, nil)
	return s, com, sched, hw
}

type fakeSink struct{}

func (fakeSink) SchedPWM(pin *iodrv.IoPin, duty, minPeriod float64) {}

func TestExecuteG1MovesAndReportsPosition(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.isHomed = true // skip the automatic home before the first movement, so only the G1 itself is planned

	resp := s.Execute(gparse.ParseLine("G1 X10 Y20 F600"))
	if resp.String() != "ok\n" {
		t.Fatalf("Execute(G1) = %q, want ok", resp.String())
	}
	if s.destX != 10 || s.destY != 20 {
		t.Fatalf("destX/destY = %v/%v, want 10/20", s.destX, s.destY)
	}
	if s.destMoveRate != 10 { // 600mm/min -> 10mm/s
		t.Errorf("destMoveRate = %v, want 10", s.destMoveRate)
	}
	if s.planner.ReadyForNextMove() {
		t.Error("expected a segment to be queued after G1")
	}
}

func TestExecuteG92SetsHostZero(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.destX, s.destY, s.destZ, s.destE = 10, 20, 30, 5

	s.Execute(gparse.ParseLine("G92 X0 Y0"))

	x, y, z, e := s.hostUnitPosition()
	if x != 0 || y != 0 {
		t.Errorf("hostUnitPosition X/Y = %v/%v, want 0/0", x, y)
	}
	if z != 30 || e != 5 {
		t.Errorf("hostUnitPosition Z/E = %v/%v, want 30/5 (unset axes preserved)", z, e)
	}
}

func TestRelativeModeAccumulatesFromCurrentPosition(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.Execute(gparse.ParseLine("G1 X10"))
	s.Execute(gparse.ParseLine("G91"))
	s.Execute(gparse.ParseLine("G1 X5"))
	if s.destX != 15 {
		t.Errorf("destX after relative move = %v, want 15", s.destX)
	}
}

func TestG20SwitchesToInches(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.Execute(gparse.ParseLine("G20"))
	s.Execute(gparse.ParseLine("G1 X1"))
	if got := s.destX; got < 25 || got > 26 {
		t.Errorf("destX after G1 X1 in inches = %v, want ~25.4", got)
	}
}

func TestM104SetsHeaterTargetAndM105Reports(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.machine.Heaters["hotend"] = iodrv.NewHeater(nil, iodrv.NewRCThermistor(nil, nil, 4700, 1e-7, 3.3, 3950, 100000, 25), &fakeSink{}, 0, 0, 0, 0, 300, 1, 0.5)

	s.Execute(gparse.ParseLine("M104 S200"))
	if s.machine.Heaters["hotend"].Target() != 200 {
		t.Fatalf("heater target = %v, want 200", s.machine.Heaters["hotend"].Target())
	}

	resp := s.Execute(gparse.ParseLine("M105"))
	if !strings.Contains(resp.String(), "T:") || !strings.Contains(resp.String(), "B:") {
		t.Errorf("M105 reply = %q, want a T:/B: report", resp.String())
	}
}

func TestM112RequestsEmergencyExit(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	resp := s.Execute(gparse.ParseLine("M112"))
	if !resp.IsNull() {
		t.Errorf("M112 reply = %q, want Null", resp.String())
	}
	if !s.Exiting() || s.ExitCode() != 1 {
		t.Errorf("Exiting/ExitCode = %v/%v, want true/1", s.Exiting(), s.ExitCode())
	}
}

func TestM0RequestsCleanExit(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.Execute(gparse.ParseLine("M0"))
	if !s.Exiting() || s.ExitCode() != 0 {
		t.Errorf("Exiting/ExitCode = %v/%v, want true/0", s.Exiting(), s.ExitCode())
	}
}

func TestM17M18TogglesSteppers(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	s.Execute(gparse.ParseLine("M17"))
	s.Execute(gparse.ParseLine("M18"))
	// No enable pins were configured in cartesianTestConfig, so this only
	// exercises that dispatch doesn't panic over a nil Enable line.
}

func TestUnknownOpcodeIsAcknowledged(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	resp := s.Execute(gparse.ParseLine("G999"))
	if resp.String() != "ok\n" {
		t.Errorf("unknown opcode reply = %q, want ok", resp.String())
	}
}

func TestEmptyCommandIsNull(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	resp := s.Execute(gparse.ParseLine("; just a comment"))
	if !resp.IsNull() {
		t.Errorf("comment-only line reply = %q, want Null", resp.String())
	}
}

func TestRunDrivesMotionUntilSegmentCompletes(t *testing.T) {
	s, _, sched, hw := newTestState(t, true, "")
	s.Execute(gparse.ParseLine("G1 X1 F6000")) // 1mm at 100mm/s: a handful of steps

	for i := 0; i < 10000 && !s.planner.ReadyForNextMove(); i++ {
		s.onIdleCpu(true)
	}
	if !s.planner.ReadyForNextMove() {
		t.Fatal("segment never completed")
	}
	if len(hw.queued) == 0 {
		t.Error("expected step events to have been queued")
	}
	_ = sched
}

func TestM32PushesFileStackAndM99Pops(t *testing.T) {
	s, _, _, _ := newTestState(t, false, "G1 X1\nM99\n")
	nestedOpened := false
	s.opener = func(name string) (io.ReadCloser, error) {
		nestedOpened = true
		return io.NopCloser(strings.NewReader("G1 X2\n")), nil
	}

	s.Execute(gparse.ParseLine("M32 nested.gcode"))
	if !nestedOpened || len(s.fileStack) != 2 {
		t.Fatalf("expected nested file pushed, fileStack depth = %d", len(s.fileStack))
	}

	s.onIdleCpu(true) // tends the top of the stack (the nested file)
	if s.destX != 2 {
		t.Fatalf("destX = %v, want 2 (from the nested file's G1 X2)", s.destX)
	}

	for i := 0; i < 10 && len(s.fileStack) > 1; i++ {
		s.onIdleCpu(true)
	}
	if len(s.fileStack) != 1 {
		t.Fatalf("expected the nested file to have been popped, depth = %d", len(s.fileStack))
	}
}

func TestFirstMovementTriggersAutoHome(t *testing.T) {
	s, _, _, _ := newTestState(t, true, "")
	if s.isHomed {
		t.Fatal("should start unhomed")
	}
	s.Execute(gparse.ParseLine("G1 X1"))
	if !s.isHomed {
		t.Error("expected the first movement to trigger an automatic home")
	}
}
