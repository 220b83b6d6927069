// Package bcm283x describes the subset of the Broadcom BCM283x peripheral
// register map the hardware scheduler drives directly: the GPIO set/clear
// registers and the DMA controller's control-block format. Everything
// here is a register-layout description, not a driver; hwscheduler owns
// the actual engine.
package bcm283x

// Peripheral base addresses, physical. PeripheralBase is a variable so the
// window can be moved for other SoCs; nothing in this module changes it,
// and its initial value is the BCM2835 address.
var PeripheralBase uint64 = 0x20000000

// Register block byte offsets from PeripheralBase.
const (
	gpioOffset = 0x200000
	dmaOffset  = 0x007000
	pwmOffset  = 0x20C000
	clockOffset = 0x101000
)

func GPIOBase() uint64 { return PeripheralBase + gpioOffset }
func DMABase() uint64  { return PeripheralBase + dmaOffset }
func PWMBase() uint64  { return PeripheralBase + pwmOffset }
func ClockBase() uint64 { return PeripheralBase + clockOffset }

// peripheralBusBase is where the CPU's physical peripheral window
// (PeripheralBase) appears from the DMA engine's side of the bus: DMA
// control blocks must address peripherals and RAM in this space, never in
// ARM physical addresses.
const peripheralBusBase = 0x7E000000

// ToBusAddress converts an ARM physical peripheral address (as returned by
// GPIOBase/DMABase/PWMBase) to the bus address a DMA control block must
// use to reach it.
func ToBusAddress(armPhys uint64) uint64 {
	return armPhys - PeripheralBase + peripheralBusBase
}

// UncachedRAMAlias sets the bit that makes the DMA engine's view of a RAM
// bus address bypass the ARM L1 cache, for buffers the CPU also writes
// through a normal (cached) mapping.
func UncachedRAMAlias(busAddr uint64) uint64 { return busAddr | 0x40000000 }

// GPIO register words, indices into a mmap'd []uint32 starting at
// GPIOBase(). GPFSEL selects function per pin (3 bits each, 10 pins per
// word); GPSET/GPCLR are write-1-to-set/clear, one bit per pin, across two
// words for the 54 GPIO lines.
const (
	RegGPFSEL0 = 0
	RegGPSET0  = 7
	RegGPSET1  = 8
	RegGPCLR0  = 10
	RegGPCLR1  = 11
	RegGPLEV0  = 13
	RegGPLEV1  = 14
)

// FuncOutput is the GPFSEL bit pattern selecting a pin as a digital
// output.
const FuncOutput = 0x1

// DMA channel register block, word offsets within one channel's 256-byte
// window (DMABase() + channel*0x100).
const (
	RegDMACS       = 0 // control & status
	RegDMAConblkAd = 1 // control block address
	RegDMATI       = 2
	RegDMASourceAd = 3
	RegDMADestAd   = 4
	RegDMATxfrLen  = 5
	RegDMAStride   = 6 // only meaningful in 2D mode; otherwise free for scratch use
	RegDMANextConblk = 7
	RegDMADebug    = 8
)

// Clock manager registers (word offsets from ClockBase()) for the PWM
// clock generator, used to derive the DMA pacing rate from the 500MHz
// PLLD source.
const (
	RegCMPWMCTL = 0xA0 / 4
	RegCMPWMDIV = 0xA4 / 4
)

const (
	CMPasswd    = 0x5A000000
	CMPWMCTLBusy = 1 << 7
	CMPWMCTLEnab = 1 << 4
	CMPWMCTLSrcPLLD = 6
)

func CMPWMDivI(div uint32) uint32 { return (div & 0xFFF) << 12 }

// PWM peripheral registers (word offsets from PWMBase()).
const (
	RegPWMCTL  = 0x00 / 4
	RegPWMSTA  = 0x04 / 4
	RegPWMDMAC = 0x08 / 4
	RegPWMRNG1 = 0x10 / 4
	RegPWMFIF1 = 0x18 / 4
)

const (
	PWMCTLClrFifo     = 1 << 6
	PWMCTLUseFifo1    = 1 << 5
	PWMCTLRepeatEmpty1 = 1 << 2
	PWMCTLEnable1     = 1 << 0
	PWMSTAErrors      = 1<<8 | 0xf<<4 | 1<<3 | 1<<2
	PWMDMACEnable     = 1 << 31
)

func PWMDMACDreq(level uint32) uint32  { return level & 0xff }
func PWMDMACPanic(level uint32) uint32 { return (level & 0xff) << 8 }

// DMACS bits.
const (
	DMACSActive dmaWord = 1 << 0
	DMACSEnd    dmaWord = 1 << 1
	DMACSReset  dmaWord = 1 << 31
	DMACSAbort  dmaWord = 1 << 30
)

type dmaWord uint32

// TransferInfo bits (the TI word of a control block).
const (
	TIInterruptEnable dmaWord = 1 << 0
	TIWaitResp        dmaWord = 1 << 3
	TIDestInc         dmaWord = 1 << 4
	TISrcInc          dmaWord = 1 << 8
	TIDestDREQ        dmaWord = 1 << 6
	TISrcDREQ         dmaWord = 1 << 10
	TINoWideBursts    dmaWord = 1 << 26
	TITDMode          dmaWord = 1 << 1 // 2D stride mode: TransferLen/Stride hold (y,x) pairs instead of a flat length
	permapShift                = 16
)

// TxfrLen2D packs a 2D-mode transfer length: yCount rows of xBytes each.
func TxfrLen2D(xBytes, yCount uint32) uint32 {
	return ((yCount-1)&0x4fff)<<16 | xBytes&0xffff
}

// Stride2D packs the byte increment applied to the destination and source
// pointers at the end of each row in 2D mode.
func Stride2D(dstStride, srcStride uint32) uint32 {
	return (dstStride&0xffff)<<16 | srcStride&0xffff
}

// PermapPWM selects the PWM peripheral's DREQ signal as the transfer pacing
// source, so writes only advance at the rate the PWM FIFO drains — this is
// exactly what turns a plain memory-to-peripheral DMA copy into a
// hardware-paced GPIO waveform generator.
const PermapPWM = 5 << permapShift

// ControlBlock is the 8-word (32-byte) DMA control block format, laid out
// exactly as the DMA engine reads it from memory: callers place these back
// to back in a videocore.Mem allocation and chain them via NextCB (the bus
// address of the following block, or 0 to stop).
type ControlBlock struct {
	TransferInfo uint32
	SourceAddr   uint32
	DestAddr     uint32
	TransferLen  uint32
	Stride       uint32
	NextCB       uint32
	_reserved0   uint32
	_reserved1   uint32
}
