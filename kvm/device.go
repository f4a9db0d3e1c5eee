package kvm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"github.com/bobuhiro11/kvmctl/memory"
	"golang.org/x/sys/unix"
)

const (
	// DefaultPath is the KVM device node.
	DefaultPath = "/dev/kvm"

	// defaultVCPUs is the recommended count when CapNRVCPUs is missing.
	// From api.txt: if KVM_CAP_NR_VCPUS does not exist, you should
	// assume that max_vcpus is 4 cpus max.
	defaultVCPUs = 4
)

// Mapping is a shared memory mapping, such as a vcpu run page.
type Mapping interface {
	Bytes() []byte
	Close() error
}

// Mapper maps size bytes of fd read/write and shared.
type Mapper interface {
	Map(fd uintptr, size int) (Mapping, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(fd uintptr, size int) (Mapping, error)

// Map calls f(fd, size).
func (f MapperFunc) Map(fd uintptr, size int) (Mapping, error) {
	return f(fd, size)
}

func mapShared(fd uintptr, size int) (Mapping, error) {
	return memory.MapShared(fd, 0, size)
}

// Device is an open KVM device. Every VM and VCPU created from it issues
// its control operations through the Device's Caller.
type Device struct {
	file   *os.File
	fd     uintptr
	caller Caller
	mapper Mapper
	log    *slog.Logger
	path   string
}

// Option configures Open.
type Option func(*Device)

// WithPath opens path instead of DefaultPath.
func WithPath(path string) Option {
	return func(d *Device) { d.path = path }
}

// WithCaller routes every control operation through c.
func WithCaller(c Caller) Option {
	return func(d *Device) { d.caller = c }
}

// WithMapper maps vcpu run pages through m.
func WithMapper(m Mapper) Option {
	return func(d *Device) { d.mapper = m }
}

// WithLogger sets the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// Open opens the KVM device read/write and checks its API version.
func Open(opts ...Option) (*Device, error) {
	d := &Device{
		caller: Syscalls{},
		mapper: MapperFunc(mapShared),
		log:    slog.Default(),
		path:   DefaultPath,
	}

	for _, opt := range opts {
		opt(d)
	}

	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	d.file = f
	d.fd = f.Fd()

	version, err := d.APIVersion()
	if err != nil {
		f.Close()

		return nil, err
	}

	if version != APIVersion {
		f.Close()

		return nil, fmt.Errorf("%w: %s reports %d, want %d", ErrAPIVersion, d.path, version, APIVersion)
	}

	return d, nil
}

func (d *Device) call(fd, op, arg uintptr) (uintptr, error) {
	return d.caller.Ioctl(fd, op, arg)
}

func (d *Device) callPtr(fd, op uintptr, arg unsafe.Pointer) (uintptr, error) {
	return d.caller.IoctlPtr(fd, op, arg)
}

// Fd is the device file descriptor.
func (d *Device) Fd() uintptr {
	return d.fd
}

// Logger is the logger given to Open.
func (d *Device) Logger() *slog.Logger {
	return d.log
}

// Close closes the device. VMs already created stay usable.
func (d *Device) Close() error {
	return d.file.Close()
}

// APIVersion returns KVM_GET_API_VERSION.
func (d *Device) APIVersion() (int, error) {
	v, err := d.call(d.fd, OpGetAPIVersion, 0)

	return int(v), err
}

// CheckCapability returns KVM_CHECK_EXTENSION for c on the device: 0 when
// c is unsupported, otherwise a positive value whose meaning depends on c.
// A failed query reads as unsupported.
func (d *Device) CheckCapability(c Capability) int {
	return checkExtension(d.caller, d.fd, c)
}

func checkExtension(caller Caller, fd uintptr, c Capability) int {
	r, err := caller.Ioctl(fd, OpCheckExtension, uintptr(c))
	if err != nil {
		return 0
	}

	return int(int32(r))
}

// RecommendedVCPUs is the number of vcpus KVM recommends per VM.
func (d *Device) RecommendedVCPUs() uint32 {
	if r := d.CheckCapability(CapNRVCPUs); r > 0 {
		return uint32(r)
	}

	return defaultVCPUs
}

// MaxVCPUs is the hard limit of vcpus per VM. It is never below
// RecommendedVCPUs.
func (d *Device) MaxVCPUs() uint32 {
	rec := d.RecommendedVCPUs()

	if r := d.CheckCapability(CapMaxVCPUs); r > 0 && uint32(r) >= rec {
		return uint32(r)
	}

	return rec
}

// vcpuMmapSize is the size of the vcpu run page mapping. A size smaller
// than RunData means the kernel ABI differs from this package's and
// nothing read from the page could be trusted, so it panics.
func (d *Device) vcpuMmapSize() (int, error) {
	r, err := d.call(d.fd, OpGetVCPUMMapSize, 0)
	if err != nil {
		return 0, err
	}

	if int(r) < int(unsafe.Sizeof(RunData{})) {
		panic(fmt.Sprintf("kvm: vcpu mmap size %d smaller than kvm_run (%d)", int(r), unsafe.Sizeof(RunData{})))
	}

	return int(r), nil
}

// msrListHeader is the fixed part of struct kvm_msr_list.
type msrListHeader struct {
	NMSRs uint32
}

// MSRIndexList returns the MSR indices KVM_GET_MSRS/KVM_SET_MSRS
// accept. The list varies by kvm version and host processor, but does
// not change otherwise.
func (d *Device) MSRIndexList() ([]uint32, error) {
	n := 64

	for {
		buf := make([]uint32, 1+n)
		buf[0] = uint32(n)

		_, err := d.callPtr(d.fd, OpGetMSRIndexList, unsafe.Pointer(&buf[0]))
		if err == nil {
			return buf[1 : 1+min(int(buf[0]), n)], nil
		}

		// On E2BIG the kernel wrote back the count it needs.
		want := int(buf[0])
		if !errors.Is(err, unix.E2BIG) || want <= n {
			return nil, err
		}

		n = want
	}
}
