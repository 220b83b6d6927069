// Package iodrv implements the per-peripheral IoDrivers: stepper step/dir
// drivers, the RC-thermistor temperature sensor, PID heater control,
// endstops, servos, and fans. Every IoPin they touch is registered in a
// process-wide registry so an emergency-stop or normal-exit handler can
// restore every pin to its configured default state.
package iodrv

import "sync"

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// GPIOPin is the minimal hardware-backed digital pin interface IoDrivers
// need. The hardware implementation lives in hwscheduler (DMAPin) and
// serves every pin, timing-critical or not.
type GPIOPin interface {
	Set(level Level)
	Get() Level
}

// IoPin is a handle to one physical GPIO. Every non-null IoPin owns its
// pin exclusively for its lifetime; at Close the pin is returned to its
// configured default. Inverted decouples logical from electrical polarity:
// SetLogical(true) drives the physical pin low when Inverted is set.
type IoPin struct {
	Name     string
	Inverted bool
	Default  Level
	hw       GPIOPin

	closed bool
}

// NewPin constructs an IoPin over a hardware pin, registers it in the
// process-wide registry, and returns it. The caller must call Close (or
// rely on RestoreAll at shutdown) to return the pin to its default state.
func NewPin(name string, hw GPIOPin, inverted bool, def Level) *IoPin {
	p := &IoPin{Name: name, Inverted: inverted, Default: def, hw: hw}
	register(p)
	return p
}

// SetLogical drives the pin to the given logical level, translating
// through Inverted to the physical level actually written.
func (p *IoPin) SetLogical(level Level) {
	if p.Inverted {
		level = !level
	}
	p.hw.Set(level)
}

// HardwarePin returns the GPIOPin backing this IoPin, so a caller that
// knows the concrete type (e.g. hwscheduler's DMAPin) can recover
// hardware-specific details an IoPin itself doesn't expose.
func (p *IoPin) HardwarePin() GPIOPin { return p.hw }

// GetLogical reads the pin's current logical level.
func (p *IoPin) GetLogical() Level {
	phys := p.hw.Get()
	if p.Inverted {
		phys = !phys
	}
	return phys
}

// Close restores the pin to its configured default and removes it from the
// registry. Safe to call more than once.
func (p *IoPin) Close() {
	if p.closed {
		return
	}
	p.hw.Set(p.Default)
	unregister(p)
	p.closed = true
}

var (
	registryMu sync.Mutex
	registry   = map[*IoPin]struct{}{}

	handleMu     sync.Mutex
	handles      = map[*IoPin]int{}
	pinsByHandle []*IoPin
)

// handleFor assigns (or returns the existing) small integer handle used to
// refer to p from the motion package's OutputEvent, which cannot import
// iodrv without creating an import cycle.
func handleFor(p *IoPin) int {
	handleMu.Lock()
	defer handleMu.Unlock()
	if h, ok := handles[p]; ok {
		return h
	}
	h := len(pinsByHandle)
	handles[p] = h
	pinsByHandle = append(pinsByHandle, p)
	return h
}

// PinByHandle resolves a handle previously returned by handleFor back to
// its *IoPin. Used by the hardware scheduler to dispatch an OutputEvent.
func PinByHandle(h int) *IoPin {
	handleMu.Lock()
	defer handleMu.Unlock()
	if h < 0 || h >= len(pinsByHandle) {
		return nil
	}
	return pinsByHandle[h]
}

func register(p *IoPin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p] = struct{}{}
}

func unregister(p *IoPin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, p)
}

// RestoreAll drives every still-registered pin to its configured default.
// Called from the emergency-stop and normal-exit paths before the
// memory-mapped peripherals are unmapped, so no pin is left toggling from
// freed DMA memory.
func RestoreAll() {
	registryMu.Lock()
	pins := make([]*IoPin, 0, len(registry))
	for p := range registry {
		pins = append(pins, p)
	}
	registryMu.Unlock()

	for _, p := range pins {
		p.hw.Set(p.Default)
	}
}
