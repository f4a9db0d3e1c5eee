package machine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bobuhiro11/kvmctl/kvm"
	"golang.org/x/arch/x86/x86asm"
)

var (
	// ErrBadRegister indicates a bad register was used.
	ErrBadRegister = errors.New("bad register")

	// ErrBadArg is an argument index the instruction or calling
	// convention does not have.
	ErrBadArg = errors.New("bad argument index")

	// ErrNotPresent is a page walk that hit a non present entry.
	ErrNotPresent = errors.New("page not present")

	// ErrPagingMode is a paging mode VtoP cannot walk.
	ErrPagingMode = errors.New("only 4-level paging is supported")
)

const (
	physAddrMask = 0x000ffffffffff000
	pageShift    = 12
)

// Args returns the top nargs args, going down the stack if needed. The max is 6.
// This is UEFI calling convention.
func (m *Machine) Args(cpu int, r *kvm.Regs, nargs int) ([]uintptr, error) {
	if _, err := m.cpu(cpu); err != nil {
		return nil, err
	}

	regs := []uintptr{uintptr(r.RCX), uintptr(r.RDX), uintptr(r.R8), uintptr(r.R9)}

	switch {
	case nargs < 0 || nargs > 6:
		return nil, fmt.Errorf("%w: %d args", ErrBadArg, nargs)
	case nargs <= 4:
		return regs[:nargs], nil
	}

	sp := uintptr(r.RSP)

	for off := uintptr(0x28); len(regs) < nargs; off += 8 {
		w, err := m.ReadWord(cpu, sp+off)
		if err != nil {
			return nil, err
		}

		regs = append(regs, uintptr(w))
	}

	return regs, nil
}

// GetReg returns a pointer to the 64 bit register holding reg in r. The
// 32, 16 and 8 bit names of a register resolve to the same field.
func GetReg(r *kvm.Regs, reg x86asm.Reg) (*uint64, error) {
	switch reg {
	case x86asm.RAX, x86asm.EAX, x86asm.AX, x86asm.AL:
		return &r.RAX, nil
	case x86asm.RBX, x86asm.EBX, x86asm.BX, x86asm.BL:
		return &r.RBX, nil
	case x86asm.RCX, x86asm.ECX, x86asm.CX, x86asm.CL:
		return &r.RCX, nil
	case x86asm.RDX, x86asm.EDX, x86asm.DX, x86asm.DL:
		return &r.RDX, nil
	case x86asm.RSI, x86asm.ESI, x86asm.SI:
		return &r.RSI, nil
	case x86asm.RDI, x86asm.EDI, x86asm.DI:
		return &r.RDI, nil
	case x86asm.RSP, x86asm.ESP, x86asm.SP:
		return &r.RSP, nil
	case x86asm.RBP, x86asm.EBP, x86asm.BP:
		return &r.RBP, nil
	case x86asm.R8:
		return &r.R8, nil
	case x86asm.R9:
		return &r.R9, nil
	case x86asm.R10:
		return &r.R10, nil
	case x86asm.R11:
		return &r.R11, nil
	case x86asm.R12:
		return &r.R12, nil
	case x86asm.R13:
		return &r.R13, nil
	case x86asm.R14:
		return &r.R14, nil
	case x86asm.R15:
		return &r.R15, nil
	case x86asm.RIP, x86asm.EIP:
		return &r.RIP, nil
	}

	return nil, fmt.Errorf("%v:%w", reg, ErrBadRegister)
}

// Pointer returns the address of the memory operand args[arg].
func (m *Machine) Pointer(inst *x86asm.Inst, r *kvm.Regs, arg int) (uintptr, error) {
	if arg < 0 || arg >= len(inst.Args) || inst.Args[arg] == nil {
		return 0, fmt.Errorf("%w: %d", ErrBadArg, arg)
	}

	// A Mem is a memory reference.
	// The general form is Segment:[Base+Scale*Index+Disp].
	mem, ok := inst.Args[arg].(x86asm.Mem)
	if !ok {
		return 0, fmt.Errorf("%w: %v is not a memory operand", ErrBadArg, inst.Args[arg])
	}

	b, err := GetReg(r, mem.Base)
	if err != nil {
		return 0, fmt.Errorf("base reg %v in %v:%w", mem.Base, mem, ErrBadRegister)
	}

	addr := *b + uint64(mem.Disp)

	x, err := GetReg(r, mem.Index)
	if err == nil {
		addr += uint64(mem.Scale) * (*x)
	}

	return uintptr(addr), nil
}

// Pop pops the stack and returns what was at TOS.
// It is most often used to get the caller PC (cpc).
func (m *Machine) Pop(cpu int, r *kvm.Regs) (uint64, error) {
	cpc, err := m.ReadWord(cpu, uintptr(r.RSP))
	if err != nil {
		return 0, err
	}

	r.RSP += 8

	return cpc, nil
}

// decodeMode is the x86asm mode the cpu executes in.
func decodeMode(s *kvm.Sregs) int {
	switch {
	case s.EFER&EFERxLMA != 0 && s.CS.L == 1:
		return 64
	case s.CR0&CR0xPE != 0 && s.CS.DB == 1:
		return 32
	}

	return 16
}

// Inst retrieves an instruction from the guest, at RIP.
// It returns an x86asm.Inst, the registers, a string in GNU syntax, and
// and error.
func (m *Machine) Inst(cpu int) (*x86asm.Inst, *kvm.Regs, string, error) {
	r, err := m.GetRegs(cpu)
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst:Getregs:%w", err)
	}

	s, err := m.GetSregs(cpu)
	if err != nil {
		return nil, nil, "", fmt.Errorf("Inst:GetSregs:%w", err)
	}

	pc := uintptr(s.CS.Base + r.RIP)

	// We know the PC; grab a bunch of bytes there, then decode and print
	insn := make([]byte, 16)
	if _, err := m.ReadBytes(cpu, insn, pc); err != nil {
		return nil, nil, "", fmt.Errorf("reading PC at #%x:%w", pc, err)
	}

	d, err := x86asm.Decode(insn, decodeMode(s))
	if err != nil {
		return nil, nil, "", fmt.Errorf("decoding %#02x:%w", insn, err)
	}

	return &d, r, x86asm.GNUSyntax(d, r.RIP, nil), nil
}

// Asm returns a string for the given instruction at the given pc.
func Asm(d *x86asm.Inst, pc uint64) string {
	return "\"" + x86asm.GNUSyntax(*d, pc, nil) + "\""
}

func show(prefix string, r *kvm.Regs) string {
	return fmt.Sprintf("%srip %#x rsp %#x rax %#x rbx %#x rcx %#x rdx %#x rsi %#x rdi %#x rflags %#x",
		prefix, r.RIP, r.RSP, r.RAX, r.RBX, r.RCX, r.RDX, r.RSI, r.RDI, r.RFLAGS)
}

// CallInfo provides calling info for a function.
func CallInfo(inst *x86asm.Inst, r *kvm.Regs) string {
	l := fmt.Sprintf("%s[", show("", r))
	for _, a := range inst.Args {
		if a == nil {
			break
		}

		l += fmt.Sprintf("%v,", a)
	}

	l += fmt.Sprintf("(%#x, %#x, %#x, %#x)", r.RCX, r.RDX, r.R8, r.R9)

	return l
}

// VtoP translates a guest virtual address of cpu to a guest physical
// one. Without paging the two are the same.
func (m *Machine) VtoP(cpu int, vaddr uintptr) (int64, error) {
	s, err := m.GetSregs(cpu)
	if err != nil {
		return -1, err
	}

	if s.CR0&CR0xPG == 0 {
		return int64(vaddr), nil
	}

	if s.CR4&CR4xPAE == 0 || s.EFER&EFERxLMA == 0 {
		return -1, ErrPagingMode
	}

	table := s.CR3 & physAddrMask

	for level, shift := range []uint{39, 30, 21, 12} {
		idx := (uint64(vaddr) >> shift) & 0x1ff

		var b [8]byte
		if _, err := m.ReadAt(b[:], int64(table+idx*8)); err != nil {
			return -1, err
		}

		e := binary.LittleEndian.Uint64(b[:])
		if e&PDE64xPRESENT == 0 {
			return -1, fmt.Errorf("%w: %#x at level %d", ErrNotPresent, vaddr, level)
		}

		offMask := uint64(1)<<shift - 1

		// 1GiB and 2MiB pages end the walk early.
		if shift == pageShift || (shift != 39 && e&PDE64xPS != 0) {
			return int64(e&physAddrMask&^offMask | uint64(vaddr)&offMask), nil
		}

		table = e & physAddrMask
	}

	return -1, ErrNotPresent
}

// WriteWord writes the given word into the guest's virtual address space.
func (m *Machine) WriteWord(cpu int, vaddr uintptr, word uint64) error {
	pa, err := m.VtoP(cpu, vaddr)
	if err != nil {
		return err
	}

	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], word)
	_, err = m.WriteAt(b[:], pa)

	return err
}

// ReadBytes reads bytes from the CPUs virtual address space.
func (m *Machine) ReadBytes(cpu int, b []byte, vaddr uintptr) (int, error) {
	pa, err := m.VtoP(cpu, vaddr)
	if err != nil {
		return -1, err
	}

	return m.ReadAt(b, pa)
}

// ReadWord reads the given word from the cpu's virtual address space.
func (m *Machine) ReadWord(cpu int, vaddr uintptr) (uint64, error) {
	var b [8]byte
	if _, err := m.ReadBytes(cpu, b[:], vaddr); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b[:]), nil
}
