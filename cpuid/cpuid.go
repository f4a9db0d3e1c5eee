package cpuid

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/kvmctl/kvm"
)

// Leaves the hypervisor owns, see
// https://www.kernel.org/doc/html/latest/virt/kvm/x86/cpuid.html
const (
	FuncPerMon    = 0x0A
	FuncSignature = 0x40000000
	FuncFeatures  = 0x40000001
)

// Signature is the hypervisor vendor in leaf FuncSignature: ebx, ecx and
// edx spell "KVMKVMKVM\0\0\0".
const Signature = "KVMKVMKVM"

func cpuidLow(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) // implemented in cpuid_amd64.s

// CPUID runs the cpuid instruction on the host.
func CPUID(leaf uint32) (uint32, uint32, uint32, uint32) {
	return cpuidLow(leaf, 0)
}

// CPUIDIndex runs the cpuid instruction on the host for a subleaf.
func CPUIDIndex(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	return cpuidLow(leaf, subleaf)
}

// Register selects one of the four output registers of a cpuid entry.
type Register int

const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

func (r Register) String() string {
	switch r {
	case EAX:
		return "eax"
	case EBX:
		return "ebx"
	case ECX:
		return "ecx"
	case EDX:
		return "edx"
	}

	return fmt.Sprintf("Register(%d)", int(r))
}

func (r Register) of(e *kvm.CPUIDEntry2) (*uint32, error) {
	switch r {
	case EAX:
		return &e.Eax, nil
	case EBX:
		return &e.Ebx, nil
	case ECX:
		return &e.Ecx, nil
	case EDX:
		return &e.Edx, nil
	}

	return nil, fmt.Errorf("%w: %v", errInvalidPatchset, r)
}

// Patch sets or clears one feature bit of the entry matching Function
// and Index.
type Patch struct {
	Function uint32
	Index    uint32
	Reg      Register
	Bit      uint8
	Clear    bool
}

var errInvalidPatchset = errors.New("invalid patch")

// Apply patches the cpuid before it is handed to SetCPUID2. Entries that
// no patch names are left alone.
func Apply(ids *kvm.CPUID, patches []Patch) error {
	for _, p := range patches {
		if p.Bit >= 32 {
			return fmt.Errorf("%w: bit %d out of range", errInvalidPatchset, p.Bit)
		}
	}

	entries := ids.Entries()

	for i := range entries {
		for _, p := range patches {
			if entries[i].Function != p.Function || entries[i].Index != p.Index {
				continue
			}

			reg, err := p.Reg.of(&entries[i])
			if err != nil {
				return err
			}

			if p.Clear {
				*reg &^= 1 << p.Bit
			} else {
				*reg |= 1 << p.Bit
			}
		}
	}

	return nil
}

// SetSignature advertises KVM in the hypervisor leaves and disables the
// performance monitoring leaf, which a guest cannot use without an
// emulated PMU.
func SetSignature(ids *kvm.CPUID) {
	entries := ids.Entries()

	for i := range entries {
		switch entries[i].Function {
		case FuncPerMon:
			entries[i].Eax = 0
		case FuncSignature:
			entries[i].Eax = FuncFeatures
			entries[i].Ebx = 0x4b4d564b // KVMK
			entries[i].Ecx = 0x564b4d56 // VMKV
			entries[i].Edx = 0x4d       // M
		}
	}
}

// Vendor decodes the 12 byte vendor string held in ebx, ecx, edx of leaf
// 0 or FuncSignature. Trailing NULs are dropped.
func Vendor(ebx, ecx, edx uint32) string {
	b := make([]byte, 0, 12)
	for _, x := range []uint32{ebx, ecx, edx} {
		b = append(b, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
	}

	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}

	return string(b)
}
