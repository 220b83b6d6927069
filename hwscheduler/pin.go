package hwscheduler

import (
	"gopper/hal/bcm283x"
	"gopper/iodrv"
)

// DMAPin is an iodrv.GPIOPin backed by a physical BCM283x GPIO number
// whose timed transitions are driven by the DMA ring (via Scheduler.Queue)
// rather than by Set. Set/Get still work for immediate, untimed writes
// (configuring a pin before motion starts, or a non-timing-critical line
// like an enable pin sharing this scheduler's register mapping).
type DMAPin struct {
	sched  *Scheduler
	pinNum uint
}

var _ iodrv.GPIOPin = (*DMAPin)(nil)

// NewDMAPin wraps physical GPIO pinNum for immediate writes/reads through
// sched's register mapping. Pass the result to iodrv.NewPin; the
// resulting *iodrv.IoPin's handle is what motion.OutputEvent.Pin carries
// for DMA-timed transitions.
func NewDMAPin(sched *Scheduler, pinNum uint) *DMAPin {
	return &DMAPin{sched: sched, pinNum: pinNum}
}

func (p *DMAPin) Set(level iodrv.Level) {
	regs := p.sched.gpio.Uint32()
	bit := uint32(1) << (p.pinNum % 32)
	if level {
		regs[bcm283xGPSET(p.pinNum)] = bit
	} else {
		regs[bcm283xGPCLR(p.pinNum)] = bit
	}
}

func (p *DMAPin) Get() iodrv.Level {
	regs := p.sched.gpio.Uint32()
	word := regs[bcm283xGPLEV(p.pinNum)]
	return iodrv.Level(word&(1<<(p.pinNum%32)) != 0)
}

func bcm283xGPSET(pin uint) int {
	if pin < 32 {
		return bcm283x.RegGPSET0
	}
	return bcm283x.RegGPSET1
}

func bcm283xGPCLR(pin uint) int {
	if pin < 32 {
		return bcm283x.RegGPCLR0
	}
	return bcm283x.RegGPCLR1
}

func bcm283xGPLEV(pin uint) int {
	if pin < 32 {
		return bcm283x.RegGPLEV0
	}
	return bcm283x.RegGPLEV1
}
