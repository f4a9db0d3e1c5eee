package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/bobuhiro11/kvmctl/cpuid"
	"github.com/bobuhiro11/kvmctl/device"
	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/memory"
)

var (
	ErrBadCPU      = errors.New("no such cpu")
	ErrMemRange    = errors.New("guest physical range outside memory")
	ErrUnhandled   = errors.New("unhandled port io")
	ErrShutdown    = errors.New("guest shut down")
	ErrEntryFail   = errors.New("vm entry failed")
	ErrInternal    = errors.New("kvm internal error")
	ErrMemTooSmall = fmt.Errorf("memory smaller than %#x", MinMemSize)
)

// IOHandler serves one item of a port io exit. For kvm.EXITIOIN it fills
// data; for kvm.EXITIOOUT it consumes it.
type IOHandler func(cpu int, port uint16, dir kvm.IODirection, data []byte) error

// Machine is a VM with one memory slot at guest physical 0 and a set of
// vcpus in flat protected mode.
type Machine struct {
	dev  *kvm.Device
	vm   *kvm.VM
	cpus []*kvm.VCPU
	mem  *memory.Region
	log  *slog.Logger

	mu  sync.RWMutex
	ios map[uint16]IOHandler

	// last holds the most recent exit of each cpu.
	last []kvm.ExitEvent
}

// New opens the KVM device at dev and builds a VM with memSize bytes of
// RAM and nCpus vcpus. opts are passed to kvm.Open after the path.
func New(dev string, nCpus, memSize int, opts ...kvm.Option) (*Machine, error) {
	if memSize < MinMemSize {
		return nil, fmt.Errorf("%w: %#x", ErrMemTooSmall, memSize)
	}

	d, err := kvm.Open(append([]kvm.Option{kvm.WithPath(dev)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dev, err)
	}

	m := &Machine{
		dev:  d,
		log:  d.Logger(),
		ios:  map[uint16]IOHandler{},
		last: make([]kvm.ExitEvent, nCpus),
	}

	if err := m.init(nCpus, memSize); err != nil {
		m.Close()

		return nil, err
	}

	return m, nil
}

func (m *Machine) init(nCpus, memSize int) error {
	var err error

	if m.vm, err = m.dev.CreateVM(); err != nil {
		return fmt.Errorf("CreateVM: %w", err)
	}

	if err := m.vm.SetTSSAddr(kvm.DefaultTSSAddr); err != nil {
		return fmt.Errorf("SetTSSAddr: %w", err)
	}

	if err := m.vm.SetIdentityMapAddr(kvm.DefaultIdentityMapAddr); err != nil {
		return fmt.Errorf("SetIdentityMapAddr: %w", err)
	}

	if m.mem, err = memory.Anonymous(memSize); err != nil {
		return fmt.Errorf("allocating %#x bytes of guest memory: %w", memSize, err)
	}

	// 0 is valid instruction and if you start running in the middle of
	// all those 0's it is impossible to diagnose.
	m.mem.Poison(0)

	if _, err := m.vm.SetUserMemoryRegion(0, m.mem.Bytes(), 0); err != nil {
		return fmt.Errorf("SetUserMemoryRegion: %w", err)
	}

	ids, err := m.dev.SupportedCPUID()
	if err != nil {
		return fmt.Errorf("SupportedCPUID: %w", err)
	}

	cpuid.SetSignature(ids)

	for i := 0; i < nCpus; i++ {
		c, err := m.vm.CreateVCPU()
		if err != nil {
			return fmt.Errorf("CreateVCPU %d: %w", i, err)
		}

		m.cpus = append(m.cpus, c)

		if err := c.SetCPUID2(ids); err != nil {
			return fmt.Errorf("SetCPUID2 %d: %w", i, err)
		}

		if err := m.SetupFlat(i, CodeAddr); err != nil {
			return err
		}
	}

	return nil
}

// Device is the KVM device the machine runs on.
func (m *Machine) Device() *kvm.Device {
	return m.dev
}

// VM is the underlying virtual machine.
func (m *Machine) VM() *kvm.VM {
	return m.vm
}

// NCPUs is the number of vcpus.
func (m *Machine) NCPUs() int {
	return len(m.cpus)
}

// Mem is guest physical memory starting at address 0.
func (m *Machine) Mem() []byte {
	return m.mem.Bytes()
}

func (m *Machine) cpu(i int) (*kvm.VCPU, error) {
	if i < 0 || i >= len(m.cpus) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadCPU, i, len(m.cpus))
	}

	return m.cpus[i], nil
}

// SetupFlat puts cpu i in 32 bit protected mode with flat 4GiB segments,
// no paging, and rip at entry.
func (m *Machine) SetupFlat(i int, entry uint64) error {
	c, err := m.cpu(i)
	if err != nil {
		return err
	}

	sregs, err := c.GetSregs()
	if err != nil {
		return fmt.Errorf("GetSregs %d: %w", i, err)
	}

	code := kvm.Segment{
		Base: 0, Limit: 0xffffffff, Selector: codeSelector, Typ: codeSegType,
		Present: 1, S: 1, DB: 1, G: 1,
	}
	data := kvm.Segment{
		Base: 0, Limit: 0xffffffff, Selector: dataSelector, Typ: dataSegType,
		Present: 1, S: 1, DB: 1, G: 1,
	}

	// set all segment flat
	sregs.CS = code
	sregs.DS, sregs.ES, sregs.FS, sregs.GS, sregs.SS = data, data, data, data, data
	sregs.CR0 = flatCR0

	if err := c.SetSregs(sregs); err != nil {
		return fmt.Errorf("SetSregs %d: %w", i, err)
	}

	if err := c.SetRegs(&kvm.Regs{RIP: entry, RFLAGS: 2}); err != nil {
		return fmt.Errorf("SetRegs %d: %w", i, err)
	}

	return nil
}

// LoadCode copies code to guest physical addr.
func (m *Machine) LoadCode(addr uint64, code []byte) error {
	_, err := m.WriteAt(code, int64(addr))

	return err
}

// ReadAt reads guest physical memory.
func (m *Machine) ReadAt(b []byte, off int64) (int, error) {
	mem := m.mem.Bytes()
	if off < 0 || off > int64(len(mem)) || int64(len(b)) > int64(len(mem))-off {
		return 0, fmt.Errorf("%w: [%#x, %#x)", ErrMemRange, off, off+int64(len(b)))
	}

	return copy(b, mem[off:]), nil
}

// WriteAt writes guest physical memory.
func (m *Machine) WriteAt(b []byte, off int64) (int, error) {
	mem := m.mem.Bytes()
	if off < 0 || off > int64(len(mem)) || int64(len(b)) > int64(len(mem))-off {
		return 0, fmt.Errorf("%w: [%#x, %#x)", ErrMemRange, off, off+int64(len(b)))
	}

	return copy(mem[off:], b), nil
}

// GetRegs gets the registers of cpu i.
func (m *Machine) GetRegs(i int) (*kvm.Regs, error) {
	c, err := m.cpu(i)
	if err != nil {
		return nil, err
	}

	return c.GetRegs()
}

// SetRegs sets the registers of cpu i.
func (m *Machine) SetRegs(i int, r *kvm.Regs) error {
	c, err := m.cpu(i)
	if err != nil {
		return err
	}

	return c.SetRegs(r)
}

// GetSregs gets the special registers of cpu i.
func (m *Machine) GetSregs(i int) (*kvm.Sregs, error) {
	c, err := m.cpu(i)
	if err != nil {
		return nil, err
	}

	return c.GetSregs()
}

// SetSregs sets the special registers of cpu i.
func (m *Machine) SetSregs(i int, s *kvm.Sregs) error {
	c, err := m.cpu(i)
	if err != nil {
		return err
	}

	return c.SetSregs(s)
}

// SingleStep enables or disables single stepping on every cpu.
func (m *Machine) SingleStep(onoff bool) error {
	for i, c := range m.cpus {
		if err := c.SingleStep(onoff); err != nil {
			return fmt.Errorf("single step %d: %w", i, err)
		}
	}

	return nil
}

// HandleIO routes port io on port to h.
func (m *Machine) HandleIO(port uint16, h IOHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ios[port] = h
}

// AddDevice routes every port of d to it.
func (m *Machine) AddDevice(d device.IODevice) {
	h := func(_ int, port uint16, dir kvm.IODirection, data []byte) error {
		if dir == kvm.EXITIOIN {
			return d.Read(uint64(port), data)
		}

		return d.Write(uint64(port), data)
	}

	for p := d.IOPort(); p < d.IOPort()+d.Size(); p++ {
		m.HandleIO(uint16(p), h)
	}
}

// LastExit is the most recent exit of cpu i, valid until it runs again.
func (m *Machine) LastExit(i int) kvm.ExitEvent {
	return m.last[i]
}

// Step runs cpu i until its next exit and returns it unhandled.
func (m *Machine) Step(i int) (kvm.ExitEvent, error) {
	c, err := m.cpu(i)
	if err != nil {
		return kvm.ExitEvent{}, err
	}

	ev, err := c.Run()
	if err != nil {
		return ev, err
	}

	m.last[i] = ev

	return ev, nil
}

// RunInfiniteLoop calls RunOnce on cpu i until the guest stops or fails.
func (m *Machine) RunInfiniteLoop(i int) error {
	// https://www.kernel.org/doc/Documentation/virtual/kvm/api.txt
	// - vcpu ioctls: These query and set attributes that control the operation
	//   of a single virtual cpu.
	//
	//   vcpu ioctls should be issued from the same thread that was used to create
	//   the vcpu, except for asynchronous vcpu ioctl that are marked as such in
	//   the documentation.  Otherwise, the first ioctl after switching threads
	//   could see a performance impact.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		isContinue, err := m.RunOnce(i)
		if err != nil {
			return err
		}

		if !isContinue {
			return nil
		}
	}
}

// RunOnce runs cpu i to its next exit and handles it. It reports whether
// the cpu should keep running. A debug exit is returned as kvm.ErrDebug
// so that the caller can trace.
func (m *Machine) RunOnce(i int) (bool, error) {
	ev, err := m.Step(i)
	if err != nil {
		return false, err
	}

	m.log.Debug("vcpu exit", "cpu", i, "reason", ev.Reason())

	switch ev.Reason() {
	case kvm.EXITHLT:
		return false, nil
	case kvm.EXITIO:
		return true, m.handleIO(i, ev)
	case kvm.EXITDEBUG:
		return false, kvm.ErrDebug
	case kvm.EXITINTR, kvm.EXITIRQWINDOWOPEN:
		// When a signal is sent to the thread hosting the VM it will result in EINTR
		// refs https://gist.github.com/mcastelino/df7e65ade874f6890f618dc51778d83a
		return true, nil
	case kvm.EXITSHUTDOWN:
		return false, ErrShutdown
	case kvm.EXITFAILENTRY:
		fe, _ := ev.FailEntry()

		return false, fmt.Errorf("%w: hardware reason %#x on cpu %d", ErrEntryFail, fe.HardwareEntryFailureReason, fe.CPU)
	case kvm.EXITINTERNALERROR:
		ie, _ := ev.InternalError()

		return false, fmt.Errorf("%w: suberror %d data %#x", ErrInternal, ie.Suberror, ie.Valid())
	case kvm.EXITSYSTEMEVENT:
		se, _ := ev.SystemEvent()
		m.log.Info("system event", "cpu", i, "type", se.Type)

		return false, nil
	}

	return false, fmt.Errorf("%w: %v", kvm.ErrUnexpectedExitReason, ev.Reason())
}

func (m *Machine) handleIO(i int, ev kvm.ExitEvent) error {
	io, err := ev.IO()
	if err != nil {
		return err
	}

	data, err := ev.IOData()
	if err != nil {
		return err
	}

	m.mu.RLock()
	h, ok := m.ios[io.Port]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %v port %#x size %d", ErrUnhandled, io.Direction, io.Port, io.Size)
	}

	for n := 0; n < int(io.Count); n++ {
		item := data[n*int(io.Size) : (n+1)*int(io.Size)]
		if err := h(i, io.Port, io.Direction, item); err != nil {
			return err
		}
	}

	return nil
}

// Close releases vcpus, the VM, guest memory and the device.
func (m *Machine) Close() error {
	var errs []error

	for _, c := range m.cpus {
		errs = append(errs, c.Close())
	}

	if m.vm != nil {
		errs = append(errs, m.vm.Close())
	}

	if m.mem != nil {
		errs = append(errs, m.mem.Close())
	}

	errs = append(errs, m.dev.Close())

	return errors.Join(errs...)
}
