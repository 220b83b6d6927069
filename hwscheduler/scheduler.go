// Package hwscheduler implements the Raspberry Pi DMA-paced GPIO output
// engine: a ring of GPIO register snapshots streamed into the live GPSET/
// GPCLR registers by the DMA controller, paced by the PWM peripheral's
// DREQ signal so the transfer rate is accurate independent of what the
// CPU is doing. Queuing an event is just a memory write into the ring;
// all actual timing is done by dedicated silicon.
package hwscheduler

import (
	"fmt"
	"math"
	"time"

	"gopper/hal/bcm283x"
	"gopper/hal/pmem"
	"gopper/hal/videocore"
	"gopper/iodrv"
	"gopper/logging"
	"gopper/motion"
	"gopper/scheduler"
)

// Ring sizing and PWM pacing, chosen to give 250,000 GPIO frames/sec from
// the BCM283x's 500MHz PWM clock while keeping the ring's memory
// footprint (a few MB) reasonable. sourceBufferFrames must stay a power of
// two: the ring index is a straight modulus against it.
const (
	sourceBufferFrames = 65536
	nominalClockFreq   = 500000000 // PWM clock source, Hz
	bitsPerClock       = 10        // PWM bits consumed per FIFO sample
	clockDiv           = 200       // PWM clock divisor
)

// framesPerSec is how many ring slots the DMA engine drains per second:
// nominalClockFreq/bitsPerClock/clockDiv = 250,000 frames/sec at the
// constants above, i.e. one GPIO update every 4 microseconds.
const framesPerSec = nominalClockFreq / bitsPerClock / clockDiv

func secToFrame(s float64) int64 { return int64(math.Round(s * framesPerSec)) }
func frameToSec(f int64) float64 { return float64(f) / framesPerSec }

// minSchedAheadFrame guards against an event scheduled so close to the
// DMA's current position that timing jitter could cause it to land behind
// the read head instead of ahead of it.
const minSchedAheadFrame = sourceBufferFrames >> 8

// maxSchedAheadFrame guards the other wrap-around case: an event targeted
// so far ahead that it wraps around to collide with frames the DMA
// engine hasn't drained yet.
const maxSchedAheadFrame = sourceBufferFrames - sourceBufferFrames>>6

var maxSchedAheadUsec = frameToSec(maxSchedAheadFrame)

// GpioBufferFrame is one ring slot: the exact bit pattern DMA copies into
// GPSET0/GPCLR0 each tick. Only the first 32 GPIO lines are addressed
// (NUM_GPIO_WORDS=1); Raspberry Pi models exposing header pins beyond 31
// are out of scope here, matching the header pins actually broken out on
// the boards this targets.
type GpioBufferFrame struct {
	GPSet uint32
	GPClr uint32
}

func (f *GpioBufferFrame) writeSet(pin uint, level bool) {
	if level {
		f.GPSet |= 1 << pin
	} else {
		f.GPSet &^= 1 << pin
	}
}

func (f *GpioBufferFrame) writeClr(pin uint, level bool) {
	if level {
		f.GPClr |= 1 << pin
	} else {
		f.GPClr &^= 1 << pin
	}
}

// Scheduler owns the DMA control-block ring and the peripheral register
// mappings it is built from. It implements scheduler.Interface so the
// cooperative Scheduler in package scheduler can drive it.
type Scheduler struct {
	dmaChannel int

	gpio  *pmem.View
	dma   *pmem.View
	pwm   *pmem.View
	clock *pmem.View

	src    *videocore.Mem // GpioBufferFrame ring, live source for the GPIO-copy control block
	srcClr *videocore.Mem // all-zero ring, source for the clear-after-copy control block
	cb     *videocore.Mem // 3 control blocks per frame

	timeAtFrame0 float64
	syncedAt     time.Time
}

// New maps the GPIO, DMA, PWM, and clock peripheral register windows,
// allocates the frame ring and control-block chain through the VideoCore
// GPU, and starts the DMA engine on dmaChannel. Requires root (it opens
// /dev/mem and /dev/vcio).
func New(dmaChannel int) (*Scheduler, error) {
	s := &Scheduler{dmaChannel: dmaChannel}
	var err error
	if s.gpio, err = pmem.Map(bcm283x.GPIOBase(), 4096); err != nil {
		return nil, err
	}
	if s.dma, err = pmem.Map(bcm283x.DMABase(), 4096); err != nil {
		return nil, err
	}
	if s.pwm, err = pmem.Map(bcm283x.PWMBase(), 4096); err != nil {
		return nil, err
	}
	if s.clock, err = pmem.Map(bcm283x.ClockBase(), 4096); err != nil {
		return nil, err
	}
	if err := s.initRingAndControlBlocks(); err != nil {
		return nil, err
	}
	s.initPWM()
	s.initDMA()
	s.syncTimeAtFrame0()
	return s, nil
}

func (s *Scheduler) frames() []GpioBufferFrame {
	u := s.src.Uint32()
	n := len(u) / 2
	return unsafeFrameSlice(u, n)
}

// resetFrames returns the reset ring: the pattern each primary frame is
// copied back to after the DMA engine drains it (see CB(3k+2) in
// initRingAndControlBlocks). Since it's all-zero by default, a pin only
// ever pulses once from a Queue call. Writing a repeating waveform into it
// instead makes that waveform replay every cycle with no further software
// intervention, which is how QueuePWM achieves a steady-state duty cycle.
func (s *Scheduler) resetFrames() []GpioBufferFrame {
	u := s.srcClr.Uint32()
	n := len(u) / 2
	return unsafeFrameSlice(u, n)
}

// initRingAndControlBlocks lays out the three control blocks per frame:
// one paced by the PWM DREQ (so the whole chain advances at framesPerSec),
// one that copies the frame's GPSet/GPClr words into the live GPIO
// registers, and one that re-zeros the frame from srcClr so a pin that is
// never re-queued doesn't keep re-asserting a stale level.
func (s *Scheduler) initRingAndControlBlocks() error {
	frameBytes := sourceBufferFrames * 8 // 2 uint32 words per GpioBufferFrame
	var err error
	if s.src, err = videocore.Alloc(roundUp4K(frameBytes)); err != nil {
		return fmt.Errorf("hwscheduler: allocating frame ring: %w", err)
	}
	if s.srcClr, err = videocore.Alloc(roundUp4K(frameBytes)); err != nil {
		return fmt.Errorf("hwscheduler: allocating zero-frame ring: %w", err)
	}
	cbBytes := sourceBufferFrames * 3 * 32 // 3 control blocks/frame, 32 bytes/CB
	if s.cb, err = videocore.Alloc(roundUp4K(cbBytes)); err != nil {
		return fmt.Errorf("hwscheduler: allocating control blocks: %w", err)
	}

	cbs := controlBlocks(s.cb)
	srcBus := s.src.BusAddr()
	srcClrBus := s.srcClr.BusAddr()
	cbBus := s.cb.BusAddr()

	for i := 0; i < sourceBufferFrames; i++ {
		frameOff := uint32(i * 8)
		pace := &cbs[i*3]
		copyGPIO := &cbs[i*3+1]
		clear := &cbs[i*3+2]

		pwmFIFOBus := bcm283x.UncachedRAMAlias(bcm283x.ToBusAddress(bcm283x.PWMBase())) + pwmFIFOOffset
		gpioSetBus := bcm283x.UncachedRAMAlias(bcm283x.ToBusAddress(bcm283x.GPIOBase())) + gpioSetOffset

		pace.TransferInfo = uint32(bcm283x.PermapPWM | bcm283x.TIDestDREQ | bcm283x.TINoWideBursts)
		pace.SourceAddr = uint32(srcBus) + frameOff
		pace.DestAddr = uint32(pwmFIFOBus)
		pace.TransferLen = 4
		pace.Stride = uint32(i) // scratch: lets syncTimeAtFrame0 read back "which frame is this" cheaply
		pace.NextCB = uint32(cbBus) + uint32(i*3+1)*32

		// GPSET0 and GPCLR0 are 12 bytes apart, not contiguous, so the
		// GPSet/GPClr word pair is copied in 2D-stride mode: two rows of 4
		// bytes, jumping the destination pointer 12 bytes between rows.
		copyGPIO.TransferInfo = uint32(bcm283x.TISrcInc | bcm283x.TIDestInc | bcm283x.TINoWideBursts | bcm283x.TITDMode)
		copyGPIO.SourceAddr = uint32(srcBus) + frameOff
		copyGPIO.DestAddr = uint32(gpioSetBus)
		copyGPIO.TransferLen = bcm283x.TxfrLen2D(4, 2)
		copyGPIO.Stride = bcm283x.Stride2D(12, 0)
		copyGPIO.NextCB = uint32(cbBus) + uint32(i*3+2)*32

		clear.TransferInfo = uint32(bcm283x.TISrcInc | bcm283x.TIDestInc | bcm283x.TINoWideBursts)
		clear.SourceAddr = uint32(srcClrBus) + frameOff
		clear.DestAddr = uint32(srcBus) + frameOff
		clear.TransferLen = 8
		next := i + 1
		if next >= sourceBufferFrames {
			next = 0
		}
		clear.NextCB = uint32(cbBus) + uint32(next*3)*32
	}
	return nil
}

const (
	pwmFIFOOffset  = 0x18 // PWM_FIF1
	gpioSetOffset  = 0x1C // GPSET0; GPCLR0 follows 12 bytes later
)

// initPWM clocks the PWM peripheral so it drains framesPerSec words from
// its FIFO per second: the 500MHz PLLD source divided by clockDiv gives
// the PWM bit clock, and each FIFO word holds bitsPerClock bits.
func (s *Scheduler) initPWM() {
	clk := s.clock.Uint32()
	clk[bcm283x.RegCMPWMCTL] = bcm283x.CMPasswd | (clk[bcm283x.RegCMPWMCTL] &^ bcm283x.CMPWMCTLEnab)
	for clk[bcm283x.RegCMPWMCTL]&bcm283x.CMPWMCTLBusy != 0 {
	}
	clk[bcm283x.RegCMPWMDIV] = bcm283x.CMPasswd | bcm283x.CMPWMDivI(clockDiv)
	clk[bcm283x.RegCMPWMCTL] = bcm283x.CMPasswd | bcm283x.CMPWMCTLSrcPLLD
	clk[bcm283x.RegCMPWMCTL] = bcm283x.CMPasswd | bcm283x.CMPWMCTLSrcPLLD | bcm283x.CMPWMCTLEnab
	for clk[bcm283x.RegCMPWMCTL]&bcm283x.CMPWMCTLBusy == 0 {
	}

	pwm := s.pwm.Uint32()
	pwm[bcm283x.RegPWMDMAC] = 0
	pwm[bcm283x.RegPWMCTL] |= bcm283x.PWMCTLClrFifo
	time.Sleep(100 * time.Microsecond)
	pwm[bcm283x.RegPWMSTA] = bcm283x.PWMSTAErrors
	time.Sleep(100 * time.Microsecond)
	pwm[bcm283x.RegPWMDMAC] = bcm283x.PWMDMACEnable | bcm283x.PWMDMACDreq(1) | bcm283x.PWMDMACPanic(1)
	pwm[bcm283x.RegPWMRNG1] = bitsPerClock
	pwm[bcm283x.RegPWMCTL] = bcm283x.PWMCTLRepeatEmpty1 | bcm283x.PWMCTLEnable1 | bcm283x.PWMCTLUseFifo1
}

func (s *Scheduler) initDMA() {
	regs := s.dma.Uint32()
	base := s.dmaChannel * 0x100 / 4
	regs[base+bcm283x.RegDMACS] = uint32(bcm283x.DMACSAbort)
	time.Sleep(100 * time.Microsecond)
	regs[base+bcm283x.RegDMACS] = uint32(bcm283x.DMACSReset)
	time.Sleep(100 * time.Microsecond)
	regs[base+bcm283x.RegDMADebug] = 0x7 // clear READ_ERROR|FIFO_ERROR|READ_LAST_NOT_SET_ERROR
	regs[base+bcm283x.RegDMAConblkAd] = uint32(s.cb.BusAddr())
	regs[base+bcm283x.RegDMACS] = uint32(bcm283x.DMACSActive)
}

// maxStrideReadAttempts bounds how many times syncTimeAtFrame0 retries its
// double-read of the frame index before giving up and using a possibly-torn
// value; the DMA engine advances one frame every 1/framesPerSec seconds, far
// slower than two back-to-back register reads, so a mismatch should be rare.
const maxStrideReadAttempts = 4

// maxClockDriftSec is how far a freshly measured timeAtFrame0 may disagree
// with the previous estimate before it's worth a warning: beyond this, the
// ring's notional frame rate and the Pi's real-time clock have drifted
// enough that scheduled events may land further from their intended time
// than the spec's timing tolerance allows. The drift itself is not an
// error - syncTimeAtFrame0 always adopts the new estimate regardless.
const maxClockDriftSec = 20e-6

// syncTimeAtFrame0 reads the DMA engine's current control-block address
// and derives the wall-clock time frame index 0 of the ring corresponds
// to. Queue() uses this to translate an event's absolute time into a ring
// index.
func (s *Scheduler) syncTimeAtFrame0() {
	// STRIDE only has meaning in 2D-stride mode, which the pacing control
	// block never enables; we (ab)use it purely as a place for the DMA
	// engine to echo back the frame index it's currently executing,
	// written into each pacing CB at setup time. It's read twice
	// back-to-back so a frame advance landing between the two reads (which
	// would pair a stale index with a too-new timestamp) can be detected
	// and retried instead of silently corrupting the time origin.
	regs := s.dma.Uint32()
	base := s.dmaChannel * 0x100 / 4

	var idx int64
	var now time.Time
	for attempt := 0; attempt < maxStrideReadAttempts; attempt++ {
		first := int64(regs[base+bcm283x.RegDMAStride])
		now = time.Now()
		second := int64(regs[base+bcm283x.RegDMAStride])
		if first == second {
			idx = first
			break
		}
		logging.Debugf("hwscheduler: stride read unstable (%d != %d), retrying", first, second)
	}

	newTimeAtFrame0 := nowSeconds(now) - frameToSec(idx)
	if !s.syncedAt.IsZero() {
		drift := newTimeAtFrame0 - s.timeAtFrame0
		if drift < 0 {
			drift = -drift
		}
		if drift > maxClockDriftSec {
			logging.Warnf("hwscheduler: DMA clock drift %.1fus since last sync, re-anchoring time origin", drift*1e6)
		}
	}
	s.timeAtFrame0 = newTimeAtFrame0
	s.syncedAt = now
}

func nowSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

// SchedTime implements scheduler.Interface: events become eligible for
// Queue once this far in advance of their target time, giving the
// cooperative loop a window to write them into the ring before the DMA
// read head arrives.
func (s *Scheduler) SchedTime(t float64) float64 { return t - maxSchedAheadUsec }

// Queue implements scheduler.Interface. It resolves evt.Pin to a physical
// GPIO number and writes the corresponding bit into the ring frame whose
// playback time is nearest evt.Time.
func (s *Scheduler) Queue(evt motion.OutputEvent) error {
	pin := iodrv.PinByHandle(int(evt.Pin))
	if pin == nil {
		return fmt.Errorf("hwscheduler: unknown pin handle %d", evt.Pin)
	}
	dp, ok := pin.HardwarePin().(*DMAPin)
	if !ok {
		return fmt.Errorf("hwscheduler: pin %q is not DMA-backed", pin.Name)
	}

	framesFrom0 := secToFrame(evt.Time - s.timeAtFrame0)
	if framesFrom0 < minSchedAheadFrame || framesFrom0 > maxSchedAheadFrame {
		return fmt.Errorf("hwscheduler: event %.6fs outside schedulable window", evt.Time)
	}
	idx := int(framesFrom0 % sourceBufferFrames)
	frames := s.frames()
	frames[idx].writeSet(dp.pinNum, evt.Level)
	frames[idx].writeClr(dp.pinNum, !evt.Level)
	return nil
}

// QueuePWM implements scheduler.Interface by filling the reset ring (see
// resetFrames) with a repeating waveform at the requested duty cycle, so it
// replays every DMA cycle at zero further CPU cost. Each frame accumulates
// duty as fractional charge and outputs high while that charge is positive,
// low otherwise - a first-order sigma-delta modulator whose long-run average
// level converges on duty even when duty*framesPerSec isn't an integer.
// Rising edges closer together than minPeriod are suppressed (the charge
// they'd represent simply carries over to the next frame) so the pin never
// switches faster than the hardware driving it can settle.
func (s *Scheduler) QueuePWM(pin motion.PinHandle, duty, minPeriod float64) {
	p := iodrv.PinByHandle(int(pin))
	if p == nil {
		return
	}
	dp, ok := p.HardwarePin().(*DMAPin)
	if !ok {
		// Not DMA-backed: no ring to walk, so the best this scheduler can
		// do is an immediate on/off snap to the nearer steady state.
		p.SetLogical(iodrv.Level(duty >= 0.5))
		return
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}

	modulatePWM(s.resetFrames(), dp.pinNum, duty, secToFrame(minPeriod))
}

// modulatePWM is QueuePWM's waveform generator, split out as a pure
// function over a plain frame slice so the sigma-delta/edge-suppression
// logic is testable without a real DMA-backed ring.
func modulatePWM(frames []GpioBufferFrame, pinNum uint, duty float64, minPeriodFrames int64) {
	var charge float64
	level := false
	lastRise := -minPeriodFrames - 1
	for i := range frames {
		charge += duty
		want := charge > 0
		if want && !level && int64(i)-lastRise < minPeriodFrames {
			want = false // edge arrived too soon after the last one; hold low and keep the charge
		}
		if want && !level {
			lastRise = int64(i)
		}
		if want {
			charge -= 1
		}
		frames[i].writeSet(pinNum, want)
		frames[i].writeClr(pinNum, !want)
		level = want
	}
}

// OnIdleCpu implements scheduler.Interface. On a wide interval it
// resynchronizes timeAtFrame0 against the DMA engine's actual position,
// correcting for clock drift between the ring's notional frame rate and
// the Pi's real-time clock.
func (s *Scheduler) OnIdleCpu(interval scheduler.IdleInterval) bool {
	if interval == scheduler.IdleWide {
		s.syncTimeAtFrame0()
	}
	return false
}

// Close disables the DMA channel so it stops driving GPIO registers from
// memory this process is about to unmap, and unmaps every peripheral
// register window and ring allocation.
func (s *Scheduler) Close() error {
	if s.dma != nil {
		regs := s.dma.Uint32()
		base := s.dmaChannel * 0x100 / 4
		regs[base+bcm283x.RegDMACS] = 0
		time.Sleep(100 * time.Microsecond)
		regs[base+bcm283x.RegDMACS] = uint32(bcm283x.DMACSReset)
	}
	for _, v := range []*videocore.Mem{s.src, s.srcClr, s.cb} {
		if v != nil {
			v.Close()
		}
	}
	for _, v := range []*pmem.View{s.gpio, s.dma, s.pwm, s.clock} {
		if v != nil {
			v.Close()
		}
	}
	return nil
}

func roundUp4K(n int) int { return (n + 4095) &^ 4095 }
