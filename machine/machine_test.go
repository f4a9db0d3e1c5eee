package machine_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/kvmctl/device"
	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/kvm/kvmtest"
	"github.com/bobuhiro11/kvmctl/machine"
	"github.com/bobuhiro11/kvmctl/memory"
)

// inAL1 is `in al, 0x01`.
var inAL1 = []byte{0xe4, 0x01}

func newFake(t *testing.T, nCpus int) (*machine.Machine, *kvmtest.Device) {
	t.Helper()

	f := kvmtest.New()

	m, err := machine.New("", nCpus, machine.MinMemSize, f.Options()...)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { m.Close() })

	return m, f
}

func TestNew(t *testing.T) {
	t.Parallel()

	m, f := newFake(t, 2)

	if m.NCPUs() != 2 || len(f.VCPUs()) != 2 {
		t.Fatalf("have %d cpus", m.NCPUs())
	}

	slots := f.Slots()
	if len(slots) != 1 || slots[0].GuestPhysAddr != 0 || slots[0].MemorySize != machine.MinMemSize {
		t.Errorf("unexpected memory slots %+v", slots)
	}

	if string(m.Mem()[:len(memory.Poison)]) != memory.Poison {
		t.Errorf("memory is not poisoned")
	}

	for i := 0; i < m.NCPUs(); i++ {
		s, err := m.GetSregs(i)
		if err != nil {
			t.Fatal(err)
		}

		if s.CS.Selector != 8 || s.CS.Limit != 0xffffffff || s.CR0 != 0x50033 {
			t.Errorf("cpu %d: cs %+v cr0 %#x", i, s.CS, s.CR0)
		}

		r, err := m.GetRegs(i)
		if err != nil {
			t.Fatal(err)
		}

		if r.RIP != machine.CodeAddr || r.RFLAGS != 2 {
			t.Errorf("cpu %d: rip %#x rflags %#x", i, r.RIP, r.RFLAGS)
		}
	}
}

func TestNewTooSmall(t *testing.T) {
	t.Parallel()

	if _, err := machine.New("", 1, 4096, kvmtest.New().Options()...); !errors.Is(err, machine.ErrMemTooSmall) {
		t.Errorf("have %v, want %v", err, machine.ErrMemTooSmall)
	}
}

func TestRunOnceIO(t *testing.T) {
	t.Parallel()

	m, f := newFake(t, 1)
	f.Run = func(_ uintptr, page []byte) error {
		kvmtest.WriteIO(page, kvm.EXITIOIN, 1, 1, 1, nil)

		return nil
	}

	if _, err := m.RunOnce(0); !errors.Is(err, machine.ErrUnhandled) {
		t.Fatalf("no handler: have %v, want %v", err, machine.ErrUnhandled)
	}

	var calls int

	m.HandleIO(1, func(cpu int, port uint16, dir kvm.IODirection, data []byte) error {
		calls++

		if cpu != 0 || port != 1 || dir != kvm.EXITIOIN || len(data) != 1 {
			t.Errorf("handler got cpu %d port %d dir %v data %v", cpu, port, dir, data)
		}

		data[0] = 0x42

		return nil
	})

	ok, err := m.RunOnce(0)
	if err != nil || !ok {
		t.Fatalf("have (%v, %v), want (true, nil)", ok, err)
	}

	data, err := m.LastExit(0).IOData()
	if err != nil {
		t.Fatal(err)
	}

	if calls != 1 || data[0] != 0x42 {
		t.Errorf("have %d calls, data %v", calls, data)
	}
}

func TestAddDevice(t *testing.T) {
	t.Parallel()

	m, f := newFake(t, 1)
	f.Run = func(_ uintptr, page []byte) error {
		kvmtest.WriteIO(page, kvm.EXITIOOUT, device.PostCodePort, 1, 2, []byte{0x55, 0xaa})

		return nil
	}

	p := &device.PostCodeDevice{}
	m.AddDevice(p)

	if ok, err := m.RunOnce(0); err != nil || !ok {
		t.Fatalf("have (%v, %v), want (true, nil)", ok, err)
	}

	if got := p.Codes(); len(got) != 2 || got[0] != 0x55 || got[1] != 0xaa {
		t.Errorf("post codes: have %#x", got)
	}
}

func TestRunOnceExits(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name     string
		reason   kvm.ExitType
		runErr   error
		wantNext bool
		wantErr  error
	}{
		{name: "HLT", reason: kvm.EXITHLT},
		{name: "INTR", reason: kvm.EXITINTR, wantNext: true},
		{name: "Debug", reason: kvm.EXITDEBUG, wantErr: kvm.ErrDebug},
		{name: "Shutdown", reason: kvm.EXITSHUTDOWN, wantErr: machine.ErrShutdown},
		{name: "FailEntry", reason: kvm.EXITFAILENTRY, wantErr: machine.ErrEntryFail},
		{name: "InternalError", reason: kvm.EXITINTERNALERROR, wantErr: machine.ErrInternal},
		{name: "Unexpected", reason: kvm.EXITNMI, wantErr: kvm.ErrUnexpectedExitReason},
		{name: "RunFails", runErr: errors.New("boom"), wantErr: nil},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			m, f := newFake(t, 1)
			f.Run = func(_ uintptr, page []byte) error {
				kvmtest.WriteExit(page, test.reason)

				return test.runErr
			}

			next, err := m.RunOnce(0)

			if test.runErr != nil {
				if !errors.Is(err, test.runErr) {
					t.Fatalf("have %v, want %v", err, test.runErr)
				}

				return
			}

			if next != test.wantNext || !errors.Is(err, test.wantErr) {
				t.Errorf("have (%v, %v), want (%v, %v)", next, err, test.wantNext, test.wantErr)
			}
		})
	}
}

func TestRunInfiniteLoop(t *testing.T) {
	t.Parallel()

	m, f := newFake(t, 1)

	var n int

	f.Run = func(_ uintptr, page []byte) error {
		n++
		if n < 3 {
			kvmtest.WriteIO(page, kvm.EXITIOOUT, 0x80, 1, 1, []byte{byte(n)})
		} else {
			kvmtest.WriteExit(page, kvm.EXITHLT)
		}

		return nil
	}

	var seen []byte

	m.HandleIO(0x80, func(_ int, _ uint16, _ kvm.IODirection, data []byte) error {
		seen = append(seen, data[0])

		return nil
	})

	if err := m.RunInfiniteLoop(0); err != nil {
		t.Fatal(err)
	}

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("have %v, want [1 2]", seen)
	}
}

func TestBadCPU(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	if _, err := m.GetRegs(1); !errors.Is(err, machine.ErrBadCPU) {
		t.Errorf("GetRegs(1): have %v, want %v", err, machine.ErrBadCPU)
	}

	if _, err := m.Step(-1); !errors.Is(err, machine.ErrBadCPU) {
		t.Errorf("Step(-1): have %v, want %v", err, machine.ErrBadCPU)
	}

	if err := m.LoadCode(machine.MinMemSize-1, inAL1); !errors.Is(err, machine.ErrMemRange) {
		t.Errorf("LoadCode past the end: have %v, want %v", err, machine.ErrMemRange)
	}
}

func TestSingleStep(t *testing.T) {
	t.Parallel()

	m, f := newFake(t, 2)

	if err := m.SingleStep(true); err != nil {
		t.Fatal(err)
	}

	for _, fd := range f.VCPUs() {
		if c := f.GuestDebug(fd).Control; c != kvm.GuestDebugEnable|kvm.GuestDebugSingleStep {
			t.Errorf("vcpu fd %d: have control %#x", fd, c)
		}
	}

	if err := m.SingleStep(false); err != nil {
		t.Fatal(err)
	}

	for _, fd := range f.VCPUs() {
		if c := f.GuestDebug(fd).Control; c != 0 {
			t.Errorf("vcpu fd %d: have control %#x", fd, c)
		}
	}
}

func TestSaveRestoreCPUState(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	s, err := m.SaveCPUState(0)
	if err != nil {
		t.Fatal(err)
	}

	if s.Regs.RIP != machine.CodeAddr {
		t.Errorf("have rip %#x", s.Regs.RIP)
	}

	s.Regs.RAX = 0xdead

	if err := m.RestoreCPUState(0, s); err != nil {
		t.Fatal(err)
	}

	r, err := m.GetRegs(0)
	if err != nil {
		t.Fatal(err)
	}

	if r.RAX != 0xdead {
		t.Errorf("have rax %#x", r.RAX)
	}
}
