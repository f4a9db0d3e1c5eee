package kvm

import "fmt"

// Capability is a KVM extension identifier as passed to
// KVM_CHECK_EXTENSION.
type Capability int

const (
	CapIRQChip                  Capability = 0
	CapHLT                      Capability = 1
	CapMMUShadowCacheControl    Capability = 2
	CapUserMemory               Capability = 3
	CapSetTSSAddr               Capability = 4
	CapVAPIC                    Capability = 6
	CapEXTCPUID                 Capability = 7
	CapClockSource              Capability = 8
	CapNRVCPUs                  Capability = 9
	CapNRMemSlots               Capability = 10
	CapPIT                      Capability = 11
	CapNopIODelay               Capability = 12
	CapPVMMU                    Capability = 13
	CapMPState                  Capability = 14
	CapCoalescedMMIO            Capability = 15
	CapSyncMMU                  Capability = 16
	CapIOMMU                    Capability = 18
	CapDestroyMemoryRegionWorks Capability = 21
	CapUserNMI                  Capability = 22
	CapSetGuestDebug            Capability = 23
	CapReinjectControl          Capability = 24
	CapIRQRouting               Capability = 25
	CapIRQInjectStatus          Capability = 26
	CapMCE                      Capability = 31
	CapIRQFD                    Capability = 32
	CapPIT2                     Capability = 33
	CapSetBootCPUID             Capability = 34
	CapPITState2                Capability = 35
	CapIOEventFD                Capability = 36
	CapSetIdentityMapAddr       Capability = 37
	CapAdjustClock              Capability = 39
	CapInternalErrorData        Capability = 40
	CapVCPUEvents               Capability = 41
	CapINTRShadow               Capability = 49
	CapDebugRegs                Capability = 50
	CapEnableCap                Capability = 54
	CapXSave                    Capability = 55
	CapXCRS                     Capability = 56
	CapTSCControl               Capability = 60
	CapGetTSCKHz                Capability = 61
	CapMaxVCPUs                 Capability = 66
	CapONEREG                   Capability = 70
	CapTSCDeadlineTimer         Capability = 72
	CapSyncRegs                 Capability = 74
	CapKVMClockCtrl             Capability = 76
	CapSignalMSI                Capability = 77
	CapReadonlyMem              Capability = 81
	CapCheckExtensionVM         Capability = 105
	CapMaxVCPUID                Capability = 128
	CapX2APICAPI                Capability = 129
	CapImmediateExit            Capability = 136
)

//nolint:gochecknoglobals
var capabilityNames = map[Capability]string{
	CapIRQChip:                  "CapIRQChip",
	CapHLT:                      "CapHLT",
	CapMMUShadowCacheControl:    "CapMMUShadowCacheControl",
	CapUserMemory:               "CapUserMemory",
	CapSetTSSAddr:               "CapSetTSSAddr",
	CapVAPIC:                    "CapVAPIC",
	CapEXTCPUID:                 "CapEXTCPUID",
	CapClockSource:              "CapClockSource",
	CapNRVCPUs:                  "CapNRVCPUs",
	CapNRMemSlots:               "CapNRMemSlots",
	CapPIT:                      "CapPIT",
	CapNopIODelay:               "CapNopIODelay",
	CapPVMMU:                    "CapPVMMU",
	CapMPState:                  "CapMPState",
	CapCoalescedMMIO:            "CapCoalescedMMIO",
	CapSyncMMU:                  "CapSyncMMU",
	CapIOMMU:                    "CapIOMMU",
	CapDestroyMemoryRegionWorks: "CapDestroyMemoryRegionWorks",
	CapUserNMI:                  "CapUserNMI",
	CapSetGuestDebug:            "CapSetGuestDebug",
	CapReinjectControl:          "CapReinjectControl",
	CapIRQRouting:               "CapIRQRouting",
	CapIRQInjectStatus:          "CapIRQInjectStatus",
	CapMCE:                      "CapMCE",
	CapIRQFD:                    "CapIRQFD",
	CapPIT2:                     "CapPIT2",
	CapSetBootCPUID:             "CapSetBootCPUID",
	CapPITState2:                "CapPITState2",
	CapIOEventFD:                "CapIOEventFD",
	CapSetIdentityMapAddr:       "CapSetIdentityMapAddr",
	CapAdjustClock:              "CapAdjustClock",
	CapInternalErrorData:        "CapInternalErrorData",
	CapVCPUEvents:               "CapVCPUEvents",
	CapINTRShadow:               "CapINTRShadow",
	CapDebugRegs:                "CapDebugRegs",
	CapEnableCap:                "CapEnableCap",
	CapXSave:                    "CapXSave",
	CapXCRS:                     "CapXCRS",
	CapTSCControl:               "CapTSCControl",
	CapGetTSCKHz:                "CapGetTSCKHz",
	CapMaxVCPUs:                 "CapMaxVCPUs",
	CapONEREG:                   "CapONEREG",
	CapTSCDeadlineTimer:         "CapTSCDeadlineTimer",
	CapSyncRegs:                 "CapSyncRegs",
	CapKVMClockCtrl:             "CapKVMClockCtrl",
	CapSignalMSI:                "CapSignalMSI",
	CapReadonlyMem:              "CapReadonlyMem",
	CapCheckExtensionVM:         "CapCheckExtensionVM",
	CapMaxVCPUID:                "CapMaxVCPUID",
	CapX2APICAPI:                "CapX2APICAPI",
	CapImmediateExit:            "CapImmediateExit",
}

func (c Capability) String() string {
	if s, ok := capabilityNames[c]; ok {
		return s
	}

	return fmt.Sprintf("Capability(%d)", int(c))
}

// Capabilities lists every named capability in ascending order.
func Capabilities() []Capability {
	caps := make([]Capability, 0, len(capabilityNames))

	for c := Capability(0); c <= CapImmediateExit; c++ {
		if _, ok := capabilityNames[c]; ok {
			caps = append(caps, c)
		}
	}

	return caps
}
