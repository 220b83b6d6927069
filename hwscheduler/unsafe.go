package hwscheduler

import (
	"unsafe"

	"gopper/hal/bcm283x"
	"gopper/hal/videocore"
)

// unsafeFrameSlice reinterprets a []uint32 (word pairs: GPSet, GPClr) as a
// []GpioBufferFrame without copying, so writes land directly in the
// GPU-allocated, DMA-visible ring.
func unsafeFrameSlice(words []uint32, n int) []GpioBufferFrame {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*GpioBufferFrame)(unsafe.Pointer(&words[0])), n)
}

// controlBlocks reinterprets mem's bytes as the DMA control-block array.
func controlBlocks(mem *videocore.Mem) []bcm283x.ControlBlock {
	words := mem.Uint32()
	n := len(words) * 4 / 32 // 32 bytes (8 words) per control block
	return unsafe.Slice((*bcm283x.ControlBlock)(unsafe.Pointer(&words[0])), n)
}
