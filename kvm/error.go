package kvm

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrAPIVersion is returned by Open when the device speaks a KVM API
	// other than APIVersion. It matches os.ErrNotExist.
	ErrAPIVersion = fmt.Errorf("unexpected kvm api version: %w", os.ErrNotExist)

	// ErrTooManyVCPUs is returned by CreateVCPU once the VM holds MaxVCPUs
	// vcpus. It matches os.ErrExist.
	ErrTooManyVCPUs = fmt.Errorf("would exceed max vcpus: %w", os.ErrExist)

	// ErrEmptyRegion rejects a zero-length memory slot.
	ErrEmptyRegion = errors.New("empty memory region")

	// ErrReadonlyUnsupported rejects MemReadonly on a VM without
	// CapReadonlyMem.
	ErrReadonlyUnsupported = errors.New("read-only memory slots not supported")

	// ErrWrongExit is returned by an ExitEvent accessor whose variant does
	// not match the exit reason.
	ErrWrongExit = errors.New("exit reason does not match accessor")

	// ErrIODataRange means the io data window lies outside the run page.
	ErrIODataRange = errors.New("io data outside run page")

	// ErrUnexpectedExitReason is any exit the caller does not handle.
	ErrUnexpectedExitReason = errors.New("unexpected kvm exit reason")

	// ErrDebug is a debug exit, caused by single step or breakpoint.
	ErrDebug = errors.New("debug exit")
)
