package kvm

import (
	"fmt"
	"unsafe"
)

const (
	exitUnionSize = 256
	syncRegsSize  = 2048
)

// RunData is struct kvm_run as mapped at the start of every vcpu run page.
// The exit union is reached through ExitEvent, never directly.
type RunData struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IFFlag                     uint8
	Flags                      uint16
	CR8                        uint64
	APICBase                   uint64
	exit                       [exitUnionSize]byte
	ValidRegs                  uint64
	DirtyRegs                  uint64
	sync                       [syncRegsSize]byte
}

// Every payload must fit in the exit union.
var (
	_ [exitUnionSize - unsafe.Sizeof(ExitIO{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitMMIO{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitHypercall{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitUnknown{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitFailEntry{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitException{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitDebug{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitTPRAccess{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitInternalError{})]struct{}
	_ [exitUnionSize - unsafe.Sizeof(ExitSystemEvent{})]struct{}
)

// ExitEvent is a view of a vcpu run page after KVM_RUN returned. It is
// only valid until the next Run on the same vcpu, which overwrites the
// page.
type ExitEvent struct {
	page []byte
	run  *RunData
}

// NewExitEvent views page as a run page. It panics if page is smaller
// than RunData.
func NewExitEvent(page []byte) ExitEvent {
	if len(page) < int(unsafe.Sizeof(RunData{})) {
		panic(fmt.Sprintf("kvm: run page of %d bytes smaller than kvm_run (%d)", len(page), unsafe.Sizeof(RunData{})))
	}

	return ExitEvent{page: page, run: (*RunData)(unsafe.Pointer(&page[0]))}
}

// Header is the fixed part of the run page.
func (e ExitEvent) Header() *RunData {
	return e.run
}

// Reason is why the vcpu exited.
func (e ExitEvent) Reason() ExitType {
	return ExitType(e.run.ExitReason)
}

func (e ExitEvent) String() string {
	return e.Reason().String()
}

// exitPayload reinterprets the exit union as T if the exit reason is want.
func exitPayload[T any](e ExitEvent, want ExitType) (*T, error) {
	if got := e.Reason(); got != want {
		return nil, fmt.Errorf("%w: exit is %v, not %v", ErrWrongExit, got, want)
	}

	return (*T)(unsafe.Pointer(&e.run.exit[0])), nil
}

// IO is the payload of an EXITIO.
func (e ExitEvent) IO() (*ExitIO, error) {
	return exitPayload[ExitIO](e, EXITIO)
}

// IOData is the data area of an EXITIO: Count*Size bytes of the run page.
// For EXITIOIN the host fills it before the next Run.
func (e ExitEvent) IOData() ([]byte, error) {
	io, err := e.IO()
	if err != nil {
		return nil, err
	}

	start := io.DataOffset
	end := start + uint64(io.Count)*uint64(io.Size)

	if start > uint64(len(e.page)) || end > uint64(len(e.page)) || end < start {
		return nil, fmt.Errorf("%w: [%#x, %#x) outside %#x byte page", ErrIODataRange, start, end, len(e.page))
	}

	return e.page[start:end], nil
}

// MMIO is the payload of an EXITMMIO.
func (e ExitEvent) MMIO() (*ExitMMIO, error) {
	return exitPayload[ExitMMIO](e, EXITMMIO)
}

// Hypercall is the payload of an EXITHYPERCALL.
func (e ExitEvent) Hypercall() (*ExitHypercall, error) {
	return exitPayload[ExitHypercall](e, EXITHYPERCALL)
}

// FailEntry is the payload of an EXITFAILENTRY.
func (e ExitEvent) FailEntry() (*ExitFailEntry, error) {
	return exitPayload[ExitFailEntry](e, EXITFAILENTRY)
}

// Unknown is the payload of an EXITUNKNOWN.
func (e ExitEvent) Unknown() (*ExitUnknown, error) {
	return exitPayload[ExitUnknown](e, EXITUNKNOWN)
}

// Exception is the payload of an EXITEXCEPTION.
func (e ExitEvent) Exception() (*ExitException, error) {
	return exitPayload[ExitException](e, EXITEXCEPTION)
}

// Debug is the payload of an EXITDEBUG.
func (e ExitEvent) Debug() (*ExitDebug, error) {
	return exitPayload[ExitDebug](e, EXITDEBUG)
}

// TPRAccess is the payload of an EXITTPRACCESS.
func (e ExitEvent) TPRAccess() (*ExitTPRAccess, error) {
	return exitPayload[ExitTPRAccess](e, EXITTPRACCESS)
}

// InternalError is the payload of an EXITINTERNALERROR.
func (e ExitEvent) InternalError() (*ExitInternalError, error) {
	return exitPayload[ExitInternalError](e, EXITINTERNALERROR)
}

// SystemEvent is the payload of an EXITSYSTEMEVENT.
func (e ExitEvent) SystemEvent() (*ExitSystemEvent, error) {
	return exitPayload[ExitSystemEvent](e, EXITSYSTEMEVENT)
}
