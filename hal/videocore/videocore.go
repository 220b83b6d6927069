// Package videocore allocates physically contiguous, DMA-visible memory
// through the VideoCore GPU's mailbox property interface. The hardware
// scheduler uses it for the DMA control-block ring and the GPIO output
// buffer frames that ring references, since plain Go-heap memory is
// neither physically contiguous nor guaranteed to stay put.
package videocore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"gopper/hal/pmem"
)

// Mem is a contiguous block of physical memory locked down by the GPU and
// mapped into this process's address space.
type Mem struct {
	*pmem.View
	handle  uint32
	busAddr uint64
}

// BusAddr is the address the DMA engine must use to reach this memory,
// bypassing the ARM L1 cache.
func (m *Mem) BusAddr() uint64 { return m.busAddr }

// Close unmaps the memory and releases the GPU's lock on it. The
// allocation otherwise survives until reboot.
func (m *Mem) Close() error {
	if err := m.View.Close(); err != nil {
		return err
	}
	if _, err := mailboxTx32(mbUnlockMemory, m.handle); err != nil {
		return err
	}
	_, err := mailboxTx32(mbReleaseMemory, m.handle)
	return err
}

// Alloc allocates size bytes of physically contiguous, uncached memory.
// size must be a multiple of 4096.
func Alloc(size int) (*Mem, error) {
	if size <= 0 || size&0xFFF != 0 {
		return nil, errors.New("videocore: size must be a positive multiple of 4096")
	}
	if err := openMailbox(); err != nil {
		return nil, fmt.Errorf("videocore: %w", err)
	}
	handle, err := mailboxTx32(mbAllocateMemory, uint32(size), 4096, flagDirect)
	if err != nil {
		return nil, err
	}
	if handle == 0 {
		return nil, fmt.Errorf("videocore: failed to allocate %d bytes", size)
	}
	busAddr, err := mailboxTx32(mbLockMemory, handle)
	if err != nil {
		return nil, err
	}
	if busAddr == 0 {
		return nil, errors.New("videocore: failed to lock memory")
	}
	v, err := pmem.Map(uint64(busAddr&^0xC0000000), size)
	if err != nil {
		return nil, err
	}
	return &Mem{View: v, handle: handle, busAddr: uint64(busAddr) | 0xC0000000}, nil
}

var (
	mu         sync.Mutex
	mailbox    *os.File
	mailboxErr error
)

const (
	mbIoctl = 0xc0046400

	mbAllocateMemory = 0x3000C
	mbLockMemory     = 0x3000D
	mbUnlockMemory   = 0x3000E
	mbReleaseMemory  = 0x3000F
	mbReply          = 0x80000000

	flagDirect = 1 << 2 // uncached alias, required for DMA-visible buffers
)

func openMailbox() error {
	mu.Lock()
	defer mu.Unlock()
	if mailbox != nil {
		return mailboxErr
	}
	mailbox, mailboxErr = os.OpenFile("/dev/vcio", os.O_RDWR|os.O_SYNC, 0)
	return mailboxErr
}

// genPacket builds a mailbox property-channel message. The buffer must be
// 16-byte aligned; only the upper 28 bits of its address are transmitted
// since the low 4 bits select the mailbox channel.
func genPacket(cmd uint32, replyLen uint32, args ...uint32) []uint32 {
	p := make([]uint32, 48)
	offset := uintptr(unsafe.Pointer(&p[0])) & 15
	b := p[16-offset : 32+16-offset]
	max := uint32(len(args) * 4)
	if replyLen > max {
		max = replyLen
	}
	max = ((max + 3) / 4) * 4
	b[0] = uint32(6*4) + max
	b[2] = cmd
	b[3] = uint32(len(args)) * 4
	b[4] = replyLen
	copy(b[5:], args)
	return b[:6+max/4]
}

func mailboxTx32(cmd uint32, args ...uint32) (uint32, error) {
	b := genPacket(cmd, 4, args...)
	if err := ioctl(mailbox.Fd(), mbIoctl, uintptr(unsafe.Pointer(&b[0]))); err != nil {
		return 0, fmt.Errorf("videocore: ioctl: %w", err)
	}
	if b[1] != mbReply {
		return 0, fmt.Errorf("videocore: unexpected reply bit 0x%08x", b[1])
	}
	if b[4] != mbReply|4 {
		return 0, fmt.Errorf("videocore: unexpected reply size 0x%08x", b[4])
	}
	return b[5], nil
}
