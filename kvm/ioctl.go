package kvm

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ioctl request layout, see include/uapi/asm-generic/ioctl.h.
const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	kvmio = 0xAE
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<dirShift | kvmio<<typeShift | nr<<nrShift | size<<sizeShift
}

// IIO encodes a KVM ioctl request that carries no argument buffer.
func IIO(nr uintptr) uintptr {
	return ioc(iocNone, nr, 0)
}

// IIOR encodes a KVM ioctl request the kernel writes size bytes into.
func IIOR(nr, size uintptr) uintptr {
	return ioc(iocRead, nr, size)
}

// IIOW encodes a KVM ioctl request the kernel reads size bytes from.
func IIOW(nr, size uintptr) uintptr {
	return ioc(iocWrite, nr, size)
}

// IIOWR encodes a KVM ioctl request whose buffer travels both ways.
func IIOWR(nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, nr, size)
}

// Ioctl issues one ioctl on fd with an integer argument. A call
// interrupted by a signal is reissued; any other failure is returned as
// the raw unix.Errno.
func Ioctl(fd, op, arg uintptr) (uintptr, error) {
	return retryEINTR(func() (uintptr, uintptr, unix.Errno) {
		return unix.Syscall(unix.SYS_IOCTL, fd, op, arg)
	})
}

// IoctlPtr is Ioctl with a pointer argument. arg stays a live pointer
// until the syscall itself converts it.
func IoctlPtr(fd, op uintptr, arg unsafe.Pointer) (uintptr, error) {
	return retryEINTR(func() (uintptr, uintptr, unix.Errno) {
		return unix.Syscall(unix.SYS_IOCTL, fd, op, uintptr(arg))
	})
}

func retryEINTR(call func() (uintptr, uintptr, unix.Errno)) (uintptr, error) {
	for {
		res, _, errno := call()

		if errno == 0 {
			return res, nil
		}

		if errors.Is(errno, unix.EINTR) {
			continue
		}

		return res, errno
	}
}

// Caller issues control operations on behalf of a Device and everything
// created from it. Operations whose argument is a buffer go through
// IoctlPtr, all others through Ioctl.
type Caller interface {
	Ioctl(fd, op, arg uintptr) (uintptr, error)
	IoctlPtr(fd, op uintptr, arg unsafe.Pointer) (uintptr, error)
}

// Syscalls is the default Caller: it issues real ioctls.
type Syscalls struct{}

func (Syscalls) Ioctl(fd, op, arg uintptr) (uintptr, error) {
	return Ioctl(fd, op, arg)
}

func (Syscalls) IoctlPtr(fd, op uintptr, arg unsafe.Pointer) (uintptr, error) {
	return IoctlPtr(fd, op, arg)
}
