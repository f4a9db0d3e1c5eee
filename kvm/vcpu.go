package kvm

import (
	"os"
	"unsafe"
)

// VCPU is one virtual cpu of a VM. A VCPU is not safe for concurrent use;
// run each one from its own goroutine.
type VCPU struct {
	vm   *VM
	id   int
	file *os.File
	fd   uintptr
	run  Mapping
}

// CreateVCPU adds a vcpu with the next free id. It fails with
// ErrTooManyVCPUs once MaxVCPUs exist, and logs a warning past
// RecommendedVCPUs.
func (v *VM) CreateVCPU() (*VCPU, error) {
	maxVCPUs := v.dev.MaxVCPUs()
	recommended := v.dev.RecommendedVCPUs()

	v.mu.Lock()

	n := v.numVCPUs
	if n >= maxVCPUs {
		v.mu.Unlock()

		return nil, ErrTooManyVCPUs
	}

	if n >= recommended {
		v.dev.log.Warn("exceeding recommended vcpus", "vcpus", n+1, "recommended", recommended)
	}

	fd, err := v.dev.call(v.fd, OpCreateVCPU, uintptr(n))
	if err != nil {
		v.mu.Unlock()

		return nil, err
	}

	v.numVCPUs++
	v.mu.Unlock()

	c := &VCPU{
		vm:   v,
		id:   int(n),
		file: os.NewFile(fd, "kvm-vcpu"),
		fd:   fd,
	}

	// The id is spent either way; only the fd is given back.
	defer func() {
		if c.run == nil {
			c.file.Close()
		}
	}()

	size, err := v.dev.vcpuMmapSize()
	if err != nil {
		return nil, err
	}

	if c.run, err = v.dev.mapper.Map(fd, size); err != nil {
		return nil, err
	}

	return c, nil
}

// ID is the vcpu id, also its index in creation order.
func (c *VCPU) ID() int {
	return c.id
}

// Fd is the vcpu file descriptor.
func (c *VCPU) Fd() uintptr {
	return c.fd
}

// VM is the VM the vcpu belongs to.
func (c *VCPU) VM() *VM {
	return c.vm
}

func (c *VCPU) ioctl(op uintptr, p unsafe.Pointer) error {
	_, err := c.vm.dev.callPtr(c.fd, op, p)

	return err
}

// GetRegs gets the general purpose registers.
func (c *VCPU) GetRegs() (*Regs, error) {
	regs := &Regs{}
	err := c.ioctl(OpGetRegs, unsafe.Pointer(regs))

	return regs, err
}

// SetRegs sets the general purpose registers.
func (c *VCPU) SetRegs(regs *Regs) error {
	err := c.ioctl(OpSetRegs, unsafe.Pointer(regs))

	return err
}

// GetSregs gets the special registers.
func (c *VCPU) GetSregs() (*Sregs, error) {
	sregs := &Sregs{}
	err := c.ioctl(OpGetSregs, unsafe.Pointer(sregs))

	return sregs, err
}

// SetSregs sets the special registers.
func (c *VCPU) SetSregs(sregs *Sregs) error {
	err := c.ioctl(OpSetSregs, unsafe.Pointer(sregs))

	return err
}

// GetDebugRegs gets the debug registers.
func (c *VCPU) GetDebugRegs() (*DebugRegs, error) {
	dregs := &DebugRegs{}
	err := c.ioctl(OpGetDebugRegs, unsafe.Pointer(dregs))

	return dregs, err
}

// SetDebugRegs sets the debug registers.
func (c *VCPU) SetDebugRegs(dregs *DebugRegs) error {
	err := c.ioctl(OpSetDebugRegs, unsafe.Pointer(dregs))

	return err
}

// SetGuestDebug enables or disables single stepping and breakpoints. With
// GuestDebugEnable|GuestDebugSingleStep every instruction ends in an
// EXITDEBUG.
func (c *VCPU) SetGuestDebug(dbg GuestDebug) error {
	err := c.ioctl(OpSetGuestDebug, unsafe.Pointer(&dbg))

	return err
}

// SingleStep turns single stepping on or off.
func (c *VCPU) SingleStep(onoff bool) error {
	dbg := GuestDebug{}
	if onoff {
		dbg.Control = GuestDebugEnable | GuestDebugSingleStep
	}

	return c.SetGuestDebug(dbg)
}

// GetFPU gets the floating point state.
func (c *VCPU) GetFPU() (*FPU, error) {
	fpu := &FPU{}
	err := c.ioctl(OpGetFPU, unsafe.Pointer(fpu))

	return fpu, err
}

// SetFPU sets the floating point state.
func (c *VCPU) SetFPU(fpu *FPU) error {
	err := c.ioctl(OpSetFPU, unsafe.Pointer(fpu))

	return err
}

// GetVCPUEvents gets pending exceptions, interrupts and NMIs.
func (c *VCPU) GetVCPUEvents() (*VCPUEvents, error) {
	ev := &VCPUEvents{}
	err := c.ioctl(OpGetVCPUEvents, unsafe.Pointer(ev))

	return ev, err
}

// SetVCPUEvents sets pending exceptions, interrupts and NMIs.
func (c *VCPU) SetVCPUEvents(ev *VCPUEvents) error {
	err := c.ioctl(OpSetVCPUEvents, unsafe.Pointer(ev))

	return err
}

// GetMPState gets the multiprocessing state.
func (c *VCPU) GetMPState() (*MPState, error) {
	mp := &MPState{}
	err := c.ioctl(OpGetMPState, unsafe.Pointer(mp))

	return mp, err
}

// SetCPUID2 sets the cpuid the guest sees. Only the first Nent entries
// are passed.
func (c *VCPU) SetCPUID2(cpuid *CPUID) error {
	_, err := c.vm.dev.callPtr(c.fd, OpSetCPUID2, cpuid.ptr())

	return err
}

// Run enters the guest until the next exit. The returned ExitEvent views
// the run page and is overwritten by the next Run.
func (c *VCPU) Run() (ExitEvent, error) {
	if _, err := c.vm.dev.call(c.fd, OpRun, 0); err != nil {
		return ExitEvent{}, err
	}

	return NewExitEvent(c.run.Bytes()), nil
}

// RunData is the fixed part of the run page, valid between runs, for
// example to set ImmediateExit.
func (c *VCPU) RunData() *RunData {
	return NewExitEvent(c.run.Bytes()).Header()
}

// Close unmaps the run page and closes the vcpu fd.
func (c *VCPU) Close() error {
	err := c.run.Close()

	if cerr := c.file.Close(); err == nil {
		err = cerr
	}

	return err
}
