package kvm

// MemoryFlag is the flags word of a user memory region.
type MemoryFlag uint32

const (
	// MemLogDirtyPages asks KVM to keep track of writes to memory within
	// the slot. This is useful in many situations, including migration.
	MemLogDirtyPages MemoryFlag = 1 << 0

	// MemReadonly makes the slot read only for the guest. It needs
	// CapReadonlyMem.
	MemReadonly MemoryFlag = 1 << 1
)

// UserspaceMemoryRegion is struct kvm_userspace_memory_region.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// MemorySlot is a registered guest physical range. Mem is borrowed from
// the caller and must stay valid for as long as the VM exists.
type MemorySlot struct {
	Slot     int
	PhysAddr uint64
	Flags    MemoryFlag
	Mem      []byte
}

// Contains reports whether the guest physical address falls in the slot.
func (s MemorySlot) Contains(addr uint64) bool {
	return addr >= s.PhysAddr && addr-s.PhysAddr < uint64(len(s.Mem))
}
