package kvm

import "unsafe"

// APIVersion is the only KVM_GET_API_VERSION answer this package accepts.
const APIVersion = 12

// ioctl numbers, see include/uapi/linux/kvm.h.
const (
	kvmGetAPIVersion       = 0x00
	kvmCreateVM            = 0x01
	kvmGetMSRIndexList     = 0x02
	kvmCheckExtension      = 0x03
	kvmGetVCPUMMapSize     = 0x04
	kvmGetSupportedCPUID   = 0x05
	kvmCreateVCPU          = 0x41
	kvmSetUserMemoryRegion = 0x46
	kvmSetTSSAddr          = 0x47
	kvmSetIdentityMapAddr  = 0x48
	kvmCreateIRQChip       = 0x60
	kvmIRQLine             = 0x61
	kvmCreatePIT2          = 0x77
	kvmRun                 = 0x80
	kvmGetRegs             = 0x81
	kvmSetRegs             = 0x82
	kvmGetSregs            = 0x83
	kvmSetSregs            = 0x84
	kvmGetFPU              = 0x8c
	kvmSetFPU              = 0x8d
	kvmSetCPUID2           = 0x90
	kvmGetMPState          = 0x98
	kvmSetGuestDebug       = 0x9b
	kvmGetVCPUEvents       = 0x9f
	kvmSetVCPUEvents       = 0xa0
	kvmGetDebugRegs        = 0xa1
	kvmSetDebugRegs        = 0xa2

	// Same numbers as the vcpu events pair, told apart by size.
	kvmGetPIT2 = 0x9f
	kvmSetPIT2 = 0xa0
)

// Request numbers of the operations issued by this package. A Caller
// sees one of these as its op argument.
//
//nolint:gochecknoglobals
var (
	OpGetAPIVersion       = IIO(kvmGetAPIVersion)
	OpCreateVM            = IIO(kvmCreateVM)
	OpGetMSRIndexList     = IIOWR(kvmGetMSRIndexList, unsafe.Sizeof(msrListHeader{}))
	OpCheckExtension      = IIO(kvmCheckExtension)
	OpGetVCPUMMapSize     = IIO(kvmGetVCPUMMapSize)
	OpGetSupportedCPUID   = IIOWR(kvmGetSupportedCPUID, unsafe.Sizeof(cpuidHeader{}))
	OpCreateVCPU          = IIO(kvmCreateVCPU)
	OpSetUserMemoryRegion = IIOW(kvmSetUserMemoryRegion, unsafe.Sizeof(UserspaceMemoryRegion{}))
	OpSetTSSAddr          = IIO(kvmSetTSSAddr)
	OpSetIdentityMapAddr  = IIOW(kvmSetIdentityMapAddr, unsafe.Sizeof(uint64(0)))
	OpCreateIRQChip       = IIO(kvmCreateIRQChip)
	OpIRQLine             = IIOW(kvmIRQLine, unsafe.Sizeof(IRQLevel{}))
	OpCreatePIT2          = IIOW(kvmCreatePIT2, unsafe.Sizeof(PITConfig{}))
	OpGetPIT2             = IIOR(kvmGetPIT2, unsafe.Sizeof(PITState2{}))
	OpSetPIT2             = IIOW(kvmSetPIT2, unsafe.Sizeof(PITState2{}))
	OpRun                 = IIO(kvmRun)
	OpGetRegs             = IIOR(kvmGetRegs, unsafe.Sizeof(Regs{}))
	OpSetRegs             = IIOW(kvmSetRegs, unsafe.Sizeof(Regs{}))
	OpGetSregs            = IIOR(kvmGetSregs, unsafe.Sizeof(Sregs{}))
	OpSetSregs            = IIOW(kvmSetSregs, unsafe.Sizeof(Sregs{}))
	OpGetFPU              = IIOR(kvmGetFPU, unsafe.Sizeof(FPU{}))
	OpSetFPU              = IIOW(kvmSetFPU, unsafe.Sizeof(FPU{}))
	OpSetCPUID2           = IIOW(kvmSetCPUID2, unsafe.Sizeof(cpuidHeader{}))
	OpGetMPState          = IIOR(kvmGetMPState, unsafe.Sizeof(MPState{}))
	OpSetGuestDebug       = IIOW(kvmSetGuestDebug, unsafe.Sizeof(GuestDebug{}))
	OpGetVCPUEvents       = IIOR(kvmGetVCPUEvents, unsafe.Sizeof(VCPUEvents{}))
	OpSetVCPUEvents       = IIOW(kvmSetVCPUEvents, unsafe.Sizeof(VCPUEvents{}))
	OpGetDebugRegs        = IIOR(kvmGetDebugRegs, unsafe.Sizeof(DebugRegs{}))
	OpSetDebugRegs        = IIOW(kvmSetDebugRegs, unsafe.Sizeof(DebugRegs{}))
)
