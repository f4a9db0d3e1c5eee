package kvm

import "fmt"

// ExitType is the reason KVM_RUN returned to userspace.
type ExitType uint32

const (
	EXITUNKNOWN       ExitType = 0
	EXITEXCEPTION     ExitType = 1
	EXITIO            ExitType = 2
	EXITHYPERCALL     ExitType = 3
	EXITDEBUG         ExitType = 4
	EXITHLT           ExitType = 5
	EXITMMIO          ExitType = 6
	EXITIRQWINDOWOPEN ExitType = 7
	EXITSHUTDOWN      ExitType = 8
	EXITFAILENTRY     ExitType = 9
	EXITINTR          ExitType = 10
	EXITSETTPR        ExitType = 11
	EXITTPRACCESS     ExitType = 12
	EXITS390SIEIC     ExitType = 13
	EXITS390RESET     ExitType = 14
	EXITDCR           ExitType = 15
	EXITNMI           ExitType = 16
	EXITINTERNALERROR ExitType = 17
	EXITOSI           ExitType = 18
	EXITPAPRHCALL     ExitType = 19
	EXITS390UCONTROL  ExitType = 20
	EXITWATCHDOG      ExitType = 21
	EXITS390TSCH      ExitType = 22
	EXITEPR           ExitType = 23
	EXITSYSTEMEVENT   ExitType = 24
	EXITS390STSI      ExitType = 25
	EXITIOAPICEOI     ExitType = 26
	EXITHYPERV        ExitType = 27
	EXITARMNISV       ExitType = 28
	EXITX86RDMSR      ExitType = 29
	EXITX86WRMSR      ExitType = 30
	EXITDIRTYRINGFULL ExitType = 31
	EXITAPRESETHOLD   ExitType = 32
	EXITX86BUSLOCK    ExitType = 33
	EXITXEN           ExitType = 34
	EXITRISCVSBI      ExitType = 35
	EXITRISCVCSR      ExitType = 36
	EXITNOTIFY        ExitType = 37
)

//nolint:gochecknoglobals
var exitNames = [...]string{
	EXITUNKNOWN:       "EXITUNKNOWN",
	EXITEXCEPTION:     "EXITEXCEPTION",
	EXITIO:            "EXITIO",
	EXITHYPERCALL:     "EXITHYPERCALL",
	EXITDEBUG:         "EXITDEBUG",
	EXITHLT:           "EXITHLT",
	EXITMMIO:          "EXITMMIO",
	EXITIRQWINDOWOPEN: "EXITIRQWINDOWOPEN",
	EXITSHUTDOWN:      "EXITSHUTDOWN",
	EXITFAILENTRY:     "EXITFAILENTRY",
	EXITINTR:          "EXITINTR",
	EXITSETTPR:        "EXITSETTPR",
	EXITTPRACCESS:     "EXITTPRACCESS",
	EXITS390SIEIC:     "EXITS390SIEIC",
	EXITS390RESET:     "EXITS390RESET",
	EXITDCR:           "EXITDCR",
	EXITNMI:           "EXITNMI",
	EXITINTERNALERROR: "EXITINTERNALERROR",
	EXITOSI:           "EXITOSI",
	EXITPAPRHCALL:     "EXITPAPRHCALL",
	EXITS390UCONTROL:  "EXITS390UCONTROL",
	EXITWATCHDOG:      "EXITWATCHDOG",
	EXITS390TSCH:      "EXITS390TSCH",
	EXITEPR:           "EXITEPR",
	EXITSYSTEMEVENT:   "EXITSYSTEMEVENT",
	EXITS390STSI:      "EXITS390STSI",
	EXITIOAPICEOI:     "EXITIOAPICEOI",
	EXITHYPERV:        "EXITHYPERV",
	EXITARMNISV:       "EXITARMNISV",
	EXITX86RDMSR:      "EXITX86RDMSR",
	EXITX86WRMSR:      "EXITX86WRMSR",
	EXITDIRTYRINGFULL: "EXITDIRTYRINGFULL",
	EXITAPRESETHOLD:   "EXITAPRESETHOLD",
	EXITX86BUSLOCK:    "EXITX86BUSLOCK",
	EXITXEN:           "EXITXEN",
	EXITRISCVSBI:      "EXITRISCVSBI",
	EXITRISCVCSR:      "EXITRISCVCSR",
	EXITNOTIFY:        "EXITNOTIFY",
}

func (e ExitType) String() string {
	if int(e) < len(exitNames) {
		return exitNames[e]
	}

	return fmt.Sprintf("ExitType(%d)", uint32(e))
}

// IODirection is the direction of a port io exit.
type IODirection uint8

const (
	EXITIOIN  IODirection = 0
	EXITIOOUT IODirection = 1
)

func (d IODirection) String() string {
	switch d {
	case EXITIOIN:
		return "in"
	case EXITIOOUT:
		return "out"
	}

	return fmt.Sprintf("IODirection(%d)", uint8(d))
}

// ExitIO is the payload of EXITIO. The data lives in the run page at
// DataOffset: Count items of Size bytes each.
type ExitIO struct {
	Direction  IODirection
	Size       uint8
	Port       uint16
	Count      uint32
	DataOffset uint64
}

// ExitMMIO is the payload of EXITMMIO. For reads the host stores the
// result in Data before the next run.
type ExitMMIO struct {
	PhysAddr uint64
	Data     [8]uint8
	Len      uint32
	IsWrite  uint8
}

// ExitHypercall is the payload of EXITHYPERCALL.
type ExitHypercall struct {
	Nr       uint64
	Args     [6]uint64
	Ret      uint64
	LongMode uint32
	_        uint32
}

// ExitUnknown is the payload of EXITUNKNOWN.
type ExitUnknown struct {
	HardwareExitReason uint64
}

// ExitFailEntry is the payload of EXITFAILENTRY.
type ExitFailEntry struct {
	HardwareEntryFailureReason uint64
	CPU                        uint32
}

// ExitException is the payload of EXITEXCEPTION.
type ExitException struct {
	Exception uint32
	ErrorCode uint32
}

// ExitDebug is the x86 payload of EXITDEBUG.
type ExitDebug struct {
	Exception uint32
	_         uint32
	PC        uint64
	DR6       uint64
	DR7       uint64
}

// ExitTPRAccess is the payload of EXITTPRACCESS.
type ExitTPRAccess struct {
	RIP     uint64
	IsWrite uint32
	_       uint32
}

// Internal error sub reasons.
const (
	InternalErrorEmulation            = 1
	InternalErrorSimulEx              = 2
	InternalErrorDeliveryEv           = 3
	InternalErrorUnexpectedExitReason = 4
)

// ExitInternalError is the payload of EXITINTERNALERROR.
type ExitInternalError struct {
	Suberror uint32
	NData    uint32
	Data     [16]uint64
}

// Valid returns the data words the kernel filled in.
func (e *ExitInternalError) Valid() []uint64 {
	return e.Data[:min(int(e.NData), len(e.Data))]
}

// System event types.
const (
	SystemEventShutdown = 1
	SystemEventReset    = 2
	SystemEventCrash    = 3
)

// ExitSystemEvent is the payload of EXITSYSTEMEVENT.
type ExitSystemEvent struct {
	Type  uint32
	NData uint32
	Data  [16]uint64
}
