package vmm

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/machine"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config describes the VM to build.
type Config struct {
	Dev        string
	NCPUs      int
	MemSize    int
	TraceCount int
	Port       uint16
}

// Result is how one vcpu stopped.
type Result struct {
	CPU    int
	Reason kvm.ExitType
	IO     kvm.ExitIO
	Inst   string
	Steps  int
}

func (r Result) String() string {
	if r.Reason != kvm.EXITIO {
		return fmt.Sprintf("cpu %d: %v after %d steps", r.CPU, r.Reason, r.Steps)
	}

	return fmt.Sprintf("cpu %d: %v %v size %d port %#x: %s",
		r.CPU, r.Reason, r.IO.Direction, r.IO.Size, r.IO.Port, r.Inst)
}

// VMM runs one machine built from a Config.
type VMM struct {
	*machine.Machine
	Config

	log  *slog.Logger
	opts []kvm.Option
}

// New returns a VMM for c. opts are passed on to kvm.Open.
func New(c Config, opts ...kvm.Option) *VMM {
	return &VMM{
		Machine: nil,
		Config:  c,
		log:     slog.Default(),
		opts:    opts,
	}
}

// Init instantiates a machine.
func (v *VMM) Init() error {
	m, err := machine.New(v.Dev, v.Config.NCPUs, v.MemSize, v.opts...)
	if err != nil {
		return errors.Wrap(err, "creating machine")
	}

	v.Machine = m
	v.log = m.Device().Logger()

	return nil
}

// Setup loads `in al, Port` at machine.CodeAddr, where every vcpu starts.
func (v *VMM) Setup() error {
	code := []byte{0xe4, byte(v.Port)}
	if v.Port > 0xff {
		// mov dx, Port; in al, dx
		code = []byte{0x66, 0xba, byte(v.Port), byte(v.Port >> 8), 0xec}
	}

	return errors.Wrap(v.LoadCode(machine.CodeAddr, code), "loading code")
}

// Boot runs every vcpu on its own goroutine until it leaves the guest
// through port io or halts. With TraceCount > 0 the vcpus single step and
// every TraceCount-th instruction is logged.
func (v *VMM) Boot(ctx context.Context) ([]Result, error) {
	trace := v.TraceCount > 0
	if err := v.SingleStep(trace); err != nil {
		return nil, errors.Wrapf(err, "setting trace to %v", trace)
	}

	results := make([]Result, v.Config.NCPUs)
	g, ctx := errgroup.WithContext(ctx)

	for cpu := 0; cpu < v.Config.NCPUs; cpu++ {
		cpu := cpu

		g.Go(func() error {
			v.log.Debug("start cpu", "cpu", cpu, "of", v.Config.NCPUs)

			r, err := v.run(ctx, cpu)
			if err != nil {
				return errors.Wrapf(err, "cpu %d", cpu)
			}

			results[cpu] = r
			v.log.Debug("cpu exits", "cpu", cpu, "reason", r.Reason)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (v *VMM) run(ctx context.Context, cpu int) (Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := Result{CPU: cpu}

	for tc := 0; ; tc++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}

		ev, err := v.Step(cpu)
		if err != nil {
			return r, err
		}

		r.Reason, r.Steps = ev.Reason(), tc

		switch ev.Reason() {
		case kvm.EXITDEBUG:
			if v.TraceCount == 0 || tc%v.TraceCount != 0 {
				continue
			}

			_, regs, s, err := v.Inst(cpu)
			if err != nil {
				v.log.Warn("disassembling after debug exit", "cpu", cpu, "err", err)
			} else {
				v.log.Info("trace", "cpu", cpu, "rip", fmt.Sprintf("%#x", regs.RIP), "inst", s)
			}
		case kvm.EXITIO:
			io, err := ev.IO()
			if err != nil {
				return r, err
			}

			r.IO = *io

			if _, _, s, err := v.Inst(cpu); err == nil {
				r.Inst = s
			}

			return r, nil
		case kvm.EXITHLT:
			return r, nil
		case kvm.EXITINTR:
			continue
		default:
			return r, errors.Wrapf(kvm.ErrUnexpectedExitReason, "%v", ev.Reason())
		}
	}
}
