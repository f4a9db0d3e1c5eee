package machine_test

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/machine"
	"golang.org/x/arch/x86/x86asm"
)

func TestDebug(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	rsp := uintptr(0x10_000)

	r, err := m.GetRegs(0)
	if err != nil {
		t.Fatalf("GetRegs: got %v, want nil", err)
	}

	r.RCX, r.RDX, r.R8, r.R9, r.RSP = 1, 2, 3, 4, uint64(rsp)
	if err := m.SetRegs(0, r); err != nil {
		t.Fatalf("SetRegs: got %v, want nil", err)
	}

	if err := m.WriteWord(0, rsp+0x28, 5); err != nil {
		t.Fatalf("WriteWord(0, %#x, 5): %v != nil", rsp+0x28, err)
	}

	if v, err := m.ReadWord(0, rsp+0x28); err != nil || v != 5 {
		t.Fatalf("ReadWord(0, %#x): got (%d, %v), want (5, nil)", rsp+0x28, v, err)
	}

	if err := m.WriteWord(0, rsp+0x30, 6); err != nil {
		t.Fatalf("WriteWord(0, %#x, 6): %v != nil", rsp+0x30, err)
	}

	if _, err := m.Args(1024, r, 1); err == nil {
		t.Errorf("m.Args(1024, ...): got nil, want err")
	}

	if _, err := m.Args(0, r, 800); err == nil {
		t.Errorf("m.Args(0, r, 800): got nil, want err")
	}

	args := []uintptr{1, 2, 3, 4, 5, 6}
	// Just run the Arg code.
	for i := 1; i < 7; i++ {
		a, err := m.Args(0, r, i)
		if err != nil {
			t.Errorf("m.Args(0, r, %d): %v != nil", i, err)
		}

		if !reflect.DeepEqual(a, args[:i]) {
			t.Errorf("m.Args(0, r, %d): got %#x, want %#x, r.RSP %#x", i, a, args[:i], r.RSP)
		}
	}

	if _, err := m.Pop(1024, r); err == nil {
		t.Errorf("Pop(1024,...): got nil, want err")
	}

	if err := m.WriteWord(0, rsp, 0x1234); err != nil {
		t.Fatal(err)
	}

	if v, err := m.Pop(0, r); err != nil || v != 0x1234 || r.RSP != uint64(rsp)+8 {
		t.Errorf("Pop(0, r): got (%#x, %v) rsp %#x, want (0x1234, nil)", v, err, r.RSP)
	}
}

func TestInst(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	if err := m.LoadCode(machine.CodeAddr, inAL1); err != nil {
		t.Fatal(err)
	}

	if _, _, _, err := m.Inst(1024); err == nil {
		t.Errorf("m.Inst(1024): got nil, want err")
	}

	i, r, s, err := m.Inst(0)
	if err != nil {
		t.Fatalf("m.Inst(0): got %v, want nil", err)
	}

	if i.Op != x86asm.IN || i.Len != 2 || r.RIP != machine.CodeAddr {
		t.Errorf("have %v len %d at %#x", i.Op, i.Len, r.RIP)
	}

	if !strings.HasPrefix(s, "in ") {
		t.Errorf("have %q, want GNU syntax in", s)
	}

	if a := machine.Asm(i, machine.CodeAddr); !strings.Contains(a, "in") {
		t.Errorf("Asm: have %s", a)
	}

	if _, err := m.Pointer(i, r, 1024); err == nil {
		t.Errorf("m.Pointer(arg 1024): got nil, want error")
	}

	// in al, imm8 has no memory operand.
	if _, err := m.Pointer(i, r, 1); err == nil {
		t.Errorf("m.Pointer(i, r, 1): got nil, want err")
	}

	// Not sure what to test, but call it anyway
	t.Logf("CallInfo: %s", machine.CallInfo(i, r))
}

func TestPointer(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	// mov eax, [ebx+ecx*4+0x10]
	if err := m.LoadCode(machine.CodeAddr, []byte{0x8b, 0x44, 0x8b, 0x10}); err != nil {
		t.Fatal(err)
	}

	i, r, _, err := m.Inst(0)
	if err != nil {
		t.Fatal(err)
	}

	r.RBX, r.RCX = 0x1000, 2

	p, err := m.Pointer(i, r, 1)
	if err != nil {
		t.Fatal(err)
	}

	if p != 0x1018 {
		t.Errorf("have %#x, want 0x1018", p)
	}

	if _, err := machine.GetReg(r, x86asm.CS); !errors.Is(err, machine.ErrBadRegister) {
		t.Errorf("GetReg(CS): have %v, want %v", err, machine.ErrBadRegister)
	}
}

func putEntry(t *testing.T, m *machine.Machine, addr, e uint64) {
	t.Helper()

	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], e)

	if _, err := m.WriteAt(b[:], int64(addr)); err != nil {
		t.Fatal(err)
	}
}

func TestVtoP(t *testing.T) {
	t.Parallel()

	m, _ := newFake(t, 1)

	const (
		pml4 = 0x10000
		pdpt = 0x11000
		pd   = 0x12000
		pt   = 0x13000
		rw   = machine.PDE64xPRESENT | machine.PDE64xRW
	)

	if _, err := m.WriteAt(make([]byte, 0x4000), pml4); err != nil {
		t.Fatal(err)
	}

	putEntry(t, m, pml4, pdpt|rw)
	putEntry(t, m, pdpt, pd|rw)
	putEntry(t, m, pdpt+8, 0x4000_0000|rw|machine.PDE64xPS) // 1GiB at 1GiB
	putEntry(t, m, pd, 0|rw|machine.PDE64xPS)               // 2MiB at 0
	putEntry(t, m, pd+8, pt|rw)                             // 4KiB pages at 2MiB
	putEntry(t, m, pt, 0x15_0000|rw)

	s, err := m.GetSregs(0)
	if err != nil {
		t.Fatal(err)
	}

	s.CR0 |= machine.CR0xPG
	if err := m.SetSregs(0, s); err != nil {
		t.Fatal(err)
	}

	if _, err := m.VtoP(0, 0x1234); !errors.Is(err, machine.ErrPagingMode) {
		t.Errorf("32 bit paging: have %v, want %v", err, machine.ErrPagingMode)
	}

	s.CR3, s.CR4, s.EFER = pml4, machine.CR4xPAE, machine.EFERxLME|machine.EFERxLMA
	if err := m.SetSregs(0, s); err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		vaddr uintptr
		want  int64
		err   error
	}{
		{vaddr: 0x1234, want: 0x1234},
		{vaddr: 0x20_0abc, want: 0x15_0abc},
		{vaddr: 0x4012_3456, want: 0x4012_3456},
		{vaddr: 0x20_1000, err: machine.ErrNotPresent},
		{vaddr: 0x80_0000_0000, err: machine.ErrNotPresent},
	} {
		pa, err := m.VtoP(0, test.vaddr)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Errorf("VtoP(%#x): have %v, want %v", test.vaddr, err, test.err)
			}

			continue
		}

		if err != nil || pa != test.want {
			t.Errorf("VtoP(%#x): have (%#x, %v), want %#x", test.vaddr, pa, err, test.want)
		}
	}
}

func TestHardwareIORead(t *testing.T) {
	t.Parallel()

	m, err := machine.New(kvm.DefaultPath, 1, machine.MinMemSize)
	if err != nil {
		t.Skipf("Skipping test: %v", err)
	}

	defer m.Close()

	if err := m.LoadCode(machine.CodeAddr, inAL1); err != nil {
		t.Fatal(err)
	}

	ev, err := m.Step(0)
	if err != nil {
		t.Fatal(err)
	}

	io, err := ev.IO()
	if err != nil {
		t.Fatalf("exit %v: %v", ev.Reason(), err)
	}

	if io.Direction != kvm.EXITIOIN || io.Size != 1 || io.Port != 1 {
		t.Errorf("unexpected io exit %+v", *io)
	}
}
