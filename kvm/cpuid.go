package kvm

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// initialCPUIDEntries is the first guess of SupportedCPUID.
	initialCPUIDEntries = 64

	// maxCPUIDEntries bounds the doubling in SupportedCPUID. The kernel
	// itself never reports more than 256.
	maxCPUIDEntries = 4096
)

// cpuidHeader is the fixed part of struct kvm_cpuid2.
type cpuidHeader struct {
	Nent    uint32
	Padding uint32
}

// CPUIDEntry2 is one entry for CPUID. It took 2 tries to get it right :-)
// Thanks x86 :-).
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// CPUID is a struct kvm_cpuid2: a header followed by a variable number of
// entries, held in one allocation.
type CPUID struct {
	buf []byte
}

// NewCPUID allocates room for n entries and sets the entry count to n.
func NewCPUID(n int) *CPUID {
	if n < 0 {
		n = 0
	}

	size := int(unsafe.Sizeof(cpuidHeader{})) + n*int(unsafe.Sizeof(CPUIDEntry2{}))
	c := &CPUID{buf: make([]byte, size)}
	c.header().Nent = uint32(n)

	return c
}

func (c *CPUID) header() *cpuidHeader {
	return (*cpuidHeader)(unsafe.Pointer(&c.buf[0]))
}

func (c *CPUID) ptr() unsafe.Pointer {
	return unsafe.Pointer(&c.buf[0])
}

// Nent is the entry count as last written by the kernel or SetNent. It
// can exceed Cap after the kernel reports a larger requirement.
func (c *CPUID) Nent() uint32 {
	return c.header().Nent
}

// SetNent sets the entry count, clamped to Cap.
func (c *CPUID) SetNent(n int) {
	if n < 0 {
		n = 0
	}

	if n > c.Cap() {
		n = c.Cap()
	}

	c.header().Nent = uint32(n)
}

// Cap is the number of entries the allocation can hold.
func (c *CPUID) Cap() int {
	return (len(c.buf) - int(unsafe.Sizeof(cpuidHeader{}))) / int(unsafe.Sizeof(CPUIDEntry2{}))
}

// Len is the number of valid entries.
func (c *CPUID) Len() int {
	if n := int(c.Nent()); n < c.Cap() {
		return n
	}

	return c.Cap()
}

// Entries returns the valid entries. The slice aliases the buffer, so
// edits are seen by SetCPUID2.
func (c *CPUID) Entries() []CPUIDEntry2 {
	if c.Cap() == 0 {
		return nil
	}

	first := (*CPUIDEntry2)(unsafe.Pointer(&c.buf[unsafe.Sizeof(cpuidHeader{})]))

	return unsafe.Slice(first, c.Len())
}

// Find returns the entry for function and index, or nil.
func (c *CPUID) Find(function, index uint32) *CPUIDEntry2 {
	entries := c.Entries()

	for i := range entries {
		if entries[i].Function == function && entries[i].Index == index {
			return &entries[i]
		}
	}

	return nil
}

// SupportedCPUID returns every CPUID entry KVM can expose to a guest on
// this host. The entry count is not known up front, so the buffer is
// grown until the kernel accepts it.
func (d *Device) SupportedCPUID() (*CPUID, error) {
	nent := initialCPUIDEntries
	corrected := false

	for {
		c := NewCPUID(nent)

		_, err := d.callPtr(d.fd, OpGetSupportedCPUID, c.ptr())

		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, unix.E2BIG):
			if nent*2 > maxCPUIDEntries {
				return nil, err
			}

			nent *= 2
		case errors.Is(err, unix.ENOMEM):
			// The kernel wrote back the count it needs.
			want := int(c.Nent())
			if corrected || want <= 0 || want > maxCPUIDEntries {
				return nil, err
			}

			nent = want
			corrected = true
		default:
			return nil, err
		}
	}
}
