package kvm

import (
	"os"
	"sync"
	"unsafe"
)

const (
	// DefaultTSSAddr is where SetTSSAddr places the three page TSS
	// region, just below the 4GiB boundary and out of the way of RAM.
	DefaultTSSAddr = 0xffffd000

	// DefaultIdentityMapAddr is the page before DefaultTSSAddr.
	DefaultIdentityMapAddr = 0xffffc000
)

// VM is a KVM virtual machine.
type VM struct {
	dev  *Device
	file *os.File
	fd   uintptr

	// vmCheck records whether KVM_CHECK_EXTENSION works on the VM fd.
	vmCheck bool

	mu       sync.Mutex
	slots    []MemorySlot
	numVCPUs uint32
}

// CreateVM creates a VM with the default machine type.
func (d *Device) CreateVM() (*VM, error) {
	fd, err := d.call(d.fd, OpCreateVM, 0)
	if err != nil {
		return nil, err
	}

	return &VM{
		dev:     d,
		file:    os.NewFile(fd, "kvm-vm"),
		fd:      fd,
		vmCheck: d.CheckCapability(CapCheckExtensionVM) != 0,
	}, nil
}

// Device is the device the VM was created from.
func (v *VM) Device() *Device {
	return v.dev
}

// Fd is the VM file descriptor.
func (v *VM) Fd() uintptr {
	return v.fd
}

// CheckCapability is like Device.CheckCapability, but asks about this VM
// when the kernel supports per VM queries.
func (v *VM) CheckCapability(c Capability) int {
	if !v.vmCheck {
		return v.dev.CheckCapability(c)
	}

	return checkExtension(v.dev.caller, v.fd, c)
}

// SetUserMemoryRegion maps mem at guest physical address physAddr in the
// next free slot and returns the slot index. mem is borrowed: it must stay
// mapped for as long as the VM exists.
func (v *VM) SetUserMemoryRegion(physAddr uint64, mem []byte, flags MemoryFlag) (int, error) {
	if len(mem) == 0 {
		return 0, ErrEmptyRegion
	}

	if flags&MemReadonly != 0 && v.CheckCapability(CapReadonlyMem) == 0 {
		return 0, ErrReadonlyUnsupported
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	slot := len(v.slots)
	region := UserspaceMemoryRegion{
		Slot:          uint32(slot),
		Flags:         uint32(flags),
		GuestPhysAddr: physAddr,
		MemorySize:    uint64(len(mem)),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}

	_, err := v.dev.callPtr(v.fd, OpSetUserMemoryRegion, unsafe.Pointer(&region))
	if err != nil {
		return 0, err
	}

	v.slots = append(v.slots, MemorySlot{
		Slot:     slot,
		PhysAddr: physAddr,
		Flags:    flags,
		Mem:      mem,
	})

	return slot, nil
}

// Slots returns the registered memory slots in slot order.
func (v *VM) Slots() []MemorySlot {
	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]MemorySlot(nil), v.slots...)
}

// NumVCPUs is the number of vcpus created so far.
func (v *VM) NumVCPUs() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.numVCPUs
}

// SetTSSAddr defines the physical address of a three page region in the
// guest physical address space. Intel hosts need it before the first
// vcpu runs.
func (v *VM) SetTSSAddr(addr uint32) error {
	_, err := v.dev.call(v.fd, OpSetTSSAddr, uintptr(addr))

	return err
}

// SetIdentityMapAddr defines the physical address of a one page region
// in the guest physical address space, used by real mode emulation.
func (v *VM) SetIdentityMapAddr(addr uint64) error {
	_, err := v.dev.callPtr(v.fd, OpSetIdentityMapAddr, unsafe.Pointer(&addr))

	return err
}

// CreateIRQChip creates the in kernel PIC, IOAPIC and local APICs. It
// has to come before the first vcpu.
func (v *VM) CreateIRQChip() error {
	_, err := v.dev.call(v.fd, OpCreateIRQChip, 0)

	return err
}

// IRQLine raises (level 1) or lowers (level 0) an input of the in kernel
// irq chip.
func (v *VM) IRQLine(irq, level uint32) error {
	l := IRQLevel{IRQ: irq, Level: level}

	_, err := v.dev.callPtr(v.fd, OpIRQLine, unsafe.Pointer(&l))

	return err
}

// CreatePIT2 creates the in kernel i8254 timer. It needs CreateIRQChip.
func (v *VM) CreatePIT2(flags uint32) error {
	c := PITConfig{Flags: flags}

	_, err := v.dev.callPtr(v.fd, OpCreatePIT2, unsafe.Pointer(&c))

	return err
}

// GetPIT2 reads the in kernel timer state.
func (v *VM) GetPIT2() (*PITState2, error) {
	s := &PITState2{}

	_, err := v.dev.callPtr(v.fd, OpGetPIT2, unsafe.Pointer(s))

	return s, err
}

// SetPIT2 writes back a state from GetPIT2.
func (v *VM) SetPIT2(s *PITState2) error {
	_, err := v.dev.callPtr(v.fd, OpSetPIT2, unsafe.Pointer(s))

	return err
}

// Close closes the VM fd. The kernel frees the VM once every vcpu is
// closed too.
func (v *VM) Close() error {
	return v.file.Close()
}
