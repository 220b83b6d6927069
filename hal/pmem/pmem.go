// Package pmem maps physical memory ranges into the process's address
// space so register blocks and DMA-visible buffers can be accessed as Go
// slices. It is Raspberry Pi specific: it opens /dev/mem directly, which
// requires root, and is the same mechanism used to reach the BCM283x
// peripheral register windows and GPU-allocated DMA buffers.
package pmem

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize is the granularity /dev/mem mmap offsets and lengths must be
// aligned to.
const pageSize = 4096

// View is a memory-mapped window of physical memory, usable as a []uint32
// register block or as a raw []byte DMA buffer.
type View struct {
	Bytes []byte
	orig  []byte // full page-aligned mapping; Bytes may be a sub-slice of this
}

// Uint32 reinterprets the view's bytes as a []uint32, for register access.
func (v *View) Uint32() []uint32 {
	n := len(v.Bytes) / 4
	return unsafe.Slice((*uint32)(unsafe.Pointer(&v.Bytes[0])), n)
}

// PhysAddr is the address callers pass to the DMA controller for this
// view's underlying memory: the bus address, with the ARM-to-VC alias bit
// set so the DMA engine bypasses the L1 cache.
func (v *View) PhysAddr(base uint64) uint64 { return base | busAddressAlias }

// busAddressAlias selects the uncached SDRAM alias view of physical memory
// for access by the VideoCore DMA engines, per the BCM2835 peripheral
// address map (physical RAM is also reachable through this alias).
const busAddressAlias = 0xC0000000

// Close unmaps the view from the process's address space.
func (v *View) Close() error {
	if v.orig == nil {
		return nil
	}
	return unix.Munmap(v.orig)
}

var (
	mu        sync.Mutex
	devMem    *os.File
	devMemErr error
)

func openDevMem() (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()
	if devMem == nil && devMemErr == nil {
		devMem, devMemErr = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	}
	return devMem, devMemErr
}

// Map returns a view of the physical memory range [base, base+size),
// rounded outward to page boundaries as unix.Mmap requires.
func Map(base uint64, size int) (*View, error) {
	f, err := openDevMem()
	if err != nil {
		return nil, fmt.Errorf("pmem: opening /dev/mem: %w", err)
	}
	offset := int(base % pageSize)
	mapped, err := unix.Mmap(
		int(f.Fd()),
		int64(base-uint64(offset)),
		(size+offset+pageSize-1)&^(pageSize-1),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pmem: mmap at 0x%x: %w", base, err)
	}
	return &View{Bytes: mapped[offset : offset+size], orig: mapped}, nil
}
