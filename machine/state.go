package machine

// state.go – vcpu snapshot helpers.
// SaveCPUState captures what KVM exposes for one vcpu, RestoreCPUState
// writes it back.

import (
	"fmt"

	"github.com/bobuhiro11/kvmctl/kvm"
)

// CPUState is everything needed to resume a vcpu elsewhere, short of
// in-kernel device state.
type CPUState struct {
	Regs      kvm.Regs
	Sregs     kvm.Sregs
	FPU       kvm.FPU
	Events    kvm.VCPUEvents
	DebugRegs kvm.DebugRegs
	MPState   kvm.MPState
}

// SaveCPUState snapshots cpu.
func (m *Machine) SaveCPUState(cpu int) (*CPUState, error) {
	c, err := m.cpu(cpu)
	if err != nil {
		return nil, err
	}

	s := &CPUState{}

	regs, err := c.GetRegs()
	if err != nil {
		return nil, fmt.Errorf("GetRegs: %w", err)
	}

	sregs, err := c.GetSregs()
	if err != nil {
		return nil, fmt.Errorf("GetSregs: %w", err)
	}

	fpu, err := c.GetFPU()
	if err != nil {
		return nil, fmt.Errorf("GetFPU: %w", err)
	}

	events, err := c.GetVCPUEvents()
	if err != nil {
		return nil, fmt.Errorf("GetVCPUEvents: %w", err)
	}

	dregs, err := c.GetDebugRegs()
	if err != nil {
		return nil, fmt.Errorf("GetDebugRegs: %w", err)
	}

	mp, err := c.GetMPState()
	if err != nil {
		return nil, fmt.Errorf("GetMPState: %w", err)
	}

	s.Regs, s.Sregs, s.FPU = *regs, *sregs, *fpu
	s.Events, s.DebugRegs, s.MPState = *events, *dregs, *mp

	return s, nil
}

// RestoreCPUState writes s back into cpu, sregs before regs. The mp
// state is only reported, not restored.
func (m *Machine) RestoreCPUState(cpu int, s *CPUState) error {
	c, err := m.cpu(cpu)
	if err != nil {
		return err
	}

	if err := c.SetSregs(&s.Sregs); err != nil {
		return fmt.Errorf("SetSregs: %w", err)
	}

	if err := c.SetRegs(&s.Regs); err != nil {
		return fmt.Errorf("SetRegs: %w", err)
	}

	if err := c.SetFPU(&s.FPU); err != nil {
		return fmt.Errorf("SetFPU: %w", err)
	}

	if err := c.SetVCPUEvents(&s.Events); err != nil {
		return fmt.Errorf("SetVCPUEvents: %w", err)
	}

	if err := c.SetDebugRegs(&s.DebugRegs); err != nil {
		return fmt.Errorf("SetDebugRegs: %w", err)
	}

	return nil
}
