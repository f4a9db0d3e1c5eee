// Package kvmtest provides an in-memory KVM device for tests that cannot
// rely on /dev/kvm.
package kvmtest

import (
	"os"
	"sync"
	"unsafe"

	"github.com/bobuhiro11/kvmctl/kvm"
	"golang.org/x/sys/unix"
)

// RunFunc scripts one KVM_RUN of the vcpu fd: it writes the exit into
// page, or returns an errno.
type RunFunc func(fd uintptr, page []byte) error

// Device implements kvm.Caller and kvm.Mapper. Register state is kept
// per vcpu fd; KVM_RUN calls Run.
type Device struct {
	mu sync.Mutex

	Version  int
	Caps     map[kvm.Capability]int
	MMapSize int
	Run      RunFunc

	// CPUID is what KVM_GET_SUPPORTED_CPUID returns. A buffer with fewer
	// entries is refused with E2BIG, or with ENOMEM and the needed count
	// in nent when CPUIDNoMem is set. CPUIDShort refuses every buffer,
	// CPUIDErr fails every call.
	CPUID      []kvm.CPUIDEntry2
	CPUIDNoMem bool
	CPUIDShort bool
	CPUIDErr   error

	MSRs []uint32

	// RegionErr fails KVM_SET_USER_MEMORY_REGION.
	RegionErr error

	regs       map[uintptr]kvm.Regs
	sregs      map[uintptr]kvm.Sregs
	debug      map[uintptr]kvm.GuestDebug
	pages      map[uintptr][]byte
	vcpus      []uintptr
	vcpuIDs    []uintptr
	slots      []kvm.UserspaceMemoryRegion
	counts     map[uintptr]int
	cpuidCalls []int
}

// New returns a device that answers like a kernel with no optional
// capabilities.
func New() *Device {
	return &Device{
		Version:  kvm.APIVersion,
		Caps:     map[kvm.Capability]int{},
		MMapSize: 3 * 4096,
		CPUID: []kvm.CPUIDEntry2{
			{Function: 0},
			{Function: 1},
			{Function: 0x40000000},
		},
		regs:   map[uintptr]kvm.Regs{},
		sregs:  map[uintptr]kvm.Sregs{},
		debug:  map[uintptr]kvm.GuestDebug{},
		pages:  map[uintptr][]byte{},
		counts: map[uintptr]int{},
	}
}

// Options routes a kvm.Open through d. The path is /dev/null so that the
// device file opens everywhere.
func (d *Device) Options() []kvm.Option {
	return []kvm.Option{kvm.WithPath(os.DevNull), kvm.WithCaller(d), kvm.WithMapper(d)}
}

// nullFD hands out a real descriptor so that closing VM and vcpu files
// never touches someone else's fd.
func nullFD() (uintptr, error) {
	fd, err := unix.Open(os.DevNull, unix.O_RDWR|unix.O_CLOEXEC, 0)

	return uintptr(fd), err
}

// Ioctl implements kvm.Caller for operations with an integer argument.
func (d *Device) Ioctl(fd, op, arg uintptr) (uintptr, error) {
	d.mu.Lock()

	d.counts[op]++

	if op == kvm.OpRun {
		run, page := d.Run, d.pages[fd]
		d.mu.Unlock()

		if run == nil {
			return 0, unix.ENOSYS
		}

		return 0, run(fd, page)
	}

	defer d.mu.Unlock()

	switch op {
	case kvm.OpGetAPIVersion:
		return uintptr(d.Version), nil
	case kvm.OpCheckExtension:
		return uintptr(d.Caps[kvm.Capability(arg)]), nil
	case kvm.OpGetVCPUMMapSize:
		return uintptr(d.MMapSize), nil
	case kvm.OpCreateVM:
		return nullFD()
	case kvm.OpCreateVCPU:
		vfd, err := nullFD()
		if err == nil {
			d.vcpus = append(d.vcpus, vfd)
			d.vcpuIDs = append(d.vcpuIDs, arg)
		}

		return vfd, err
	}

	return 0, nil
}

// IoctlPtr implements kvm.Caller for operations with a buffer argument.
//
//nolint:cyclop,funlen
func (d *Device) IoctlPtr(fd, op uintptr, arg unsafe.Pointer) (uintptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counts[op]++

	switch op {
	case kvm.OpSetUserMemoryRegion:
		if d.RegionErr != nil {
			return 0, d.RegionErr
		}

		d.slots = append(d.slots, *(*kvm.UserspaceMemoryRegion)(arg))
	case kvm.OpGetSupportedCPUID:
		return d.supportedCPUID(arg)
	case kvm.OpGetMSRIndexList:
		n := (*uint32)(arg)
		if int(*n) < len(d.MSRs) {
			*n = uint32(len(d.MSRs))

			return 0, unix.E2BIG
		}

		*n = uint32(len(d.MSRs))
		copy(unsafe.Slice((*uint32)(unsafe.Add(arg, 4)), len(d.MSRs)), d.MSRs)
	case kvm.OpGetRegs:
		*(*kvm.Regs)(arg) = d.regs[fd]
	case kvm.OpSetRegs:
		d.regs[fd] = *(*kvm.Regs)(arg)
	case kvm.OpGetSregs:
		*(*kvm.Sregs)(arg) = d.sregs[fd]
	case kvm.OpSetSregs:
		d.sregs[fd] = *(*kvm.Sregs)(arg)
	case kvm.OpSetGuestDebug:
		d.debug[fd] = *(*kvm.GuestDebug)(arg)
	}

	return 0, nil
}

func (d *Device) supportedCPUID(arg unsafe.Pointer) (uintptr, error) {
	nent := (*uint32)(arg)
	d.cpuidCalls = append(d.cpuidCalls, int(*nent))

	if d.CPUIDErr != nil {
		return 0, d.CPUIDErr
	}

	if int(*nent) < len(d.CPUID) || d.CPUIDShort {
		if d.CPUIDNoMem {
			*nent = uint32(len(d.CPUID))

			return 0, unix.ENOMEM
		}

		return 0, unix.E2BIG
	}

	*nent = uint32(len(d.CPUID))
	copy(unsafe.Slice((*kvm.CPUIDEntry2)(unsafe.Add(arg, 8)), len(d.CPUID)), d.CPUID)

	return 0, nil
}

type page struct {
	buf []byte
}

func (p *page) Bytes() []byte { return p.buf }
func (p *page) Close() error  { return nil }

// Map implements kvm.Mapper with plain memory.
func (d *Device) Map(fd uintptr, size int) (kvm.Mapping, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, size)
	d.pages[fd] = buf

	return &page{buf: buf}, nil
}

// VCPUs returns the vcpu fds in creation order.
func (d *Device) VCPUs() []uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]uintptr(nil), d.vcpus...)
}

// VCPUIDs returns the ids passed to KVM_CREATE_VCPU, in order.
func (d *Device) VCPUIDs() []uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]uintptr(nil), d.vcpuIDs...)
}

// Slots returns every registered memory region.
func (d *Device) Slots() []kvm.UserspaceMemoryRegion {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]kvm.UserspaceMemoryRegion(nil), d.slots...)
}

// CPUIDCalls returns the nent of every KVM_GET_SUPPORTED_CPUID.
func (d *Device) CPUIDCalls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]int(nil), d.cpuidCalls...)
}

// GuestDebug is the last KVM_SET_GUEST_DEBUG of vcpu fd.
func (d *Device) GuestDebug(fd uintptr) kvm.GuestDebug {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.debug[fd]
}

// SetRegionErr changes RegionErr while the device is in use.
func (d *Device) SetRegionErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.RegionErr = err
}

// Count is how often op was issued.
func (d *Device) Count(op uintptr) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.counts[op]
}
