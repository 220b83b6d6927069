package videocore

import "golang.org/x/sys/unix"

// ioctl issues the mailbox property-channel ioctl directly: arg is a pointer
// to the request/reply buffer, not a scalar, so this goes through the raw
// syscall rather than one of unix's typed Ioctl* helpers.
func ioctl(fd uintptr, op uint32, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(op), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
