package flag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/probe"
	"github.com/bobuhiro11/kvmctl/vmm"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
)

// Globals are flags shared by every command.
type Globals struct {
	Dev     string `short:"D" default:"/dev/kvm" help:"path of kvm device"`
	Verbose bool   `short:"v" help:"log every vcpu exit"`
	Profile string `enum:"none,cpu,mem" default:"none" help:"write a cpu or mem profile to the current directory"`

	out io.Writer `kong:"-"`
}

type ProbeCMD struct {
	Format string `short:"f" enum:"text,yaml" default:"text" help:"output format (text or yaml)"`
}

type IOReadCMD struct {
	NCPUs      int    `name:"cpus" short:"c" default:"1" help:"number of cpus"`
	MemSize    string `short:"m" default:"2M" help:"memory size: as number[gGmM], optional units, defaults to M"`
	Port       uint16 `short:"p" default:"1" help:"io port the guest reads"`
	TraceCount string `name:"trace" short:"T" default:"0" help:"how many instructions to skip between trace prints -- 0 means tracing disabled"`
}

type CLI struct {
	Globals

	Probe  ProbeCMD  `cmd:"" help:"report what the KVM device supports"`
	IORead IOReadCMD `cmd:"" name:"ioread" help:"run 'in al, port' in a fresh VM on every cpu and report the exit"`
}

const (
	programName = "kvmctl"
	programDesc = "kvmctl drives /dev/kvm directly: it probes the device and runs minimal guests"
)

// New builds the command line parser for c.
func New(c *CLI, opts ...kong.Option) (*kong.Kong, error) {
	return kong.New(c, append([]kong.Option{
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	}, opts...)...)
}

// Parse parses os.Args and runs the selected command.
func Parse() error {
	c := CLI{}

	k, err := New(&c)
	if err != nil {
		return err
	}

	ctx, err := k.Parse(os.Args[1:])
	k.FatalIfErrorf(err)

	return c.Exec(ctx, os.Stdout)
}

// Exec sets up logging and profiling and runs the command ctx selected,
// writing reports to out.
func (c *CLI) Exec(ctx *kong.Context, out io.Writer) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	switch c.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
	}

	c.Globals.out = out

	return ctx.Run(&c.Globals)
}

func (p *ProbeCMD) Run(g *Globals) error {
	d, err := kvm.Open(kvm.WithPath(g.Dev))
	if err != nil {
		return errors.Wrap(err, "opening kvm")
	}
	defer d.Close()

	r, err := probe.Collect(d, g.Dev)
	if err != nil {
		return err
	}

	return r.Write(g.out, probe.Format(p.Format))
}

// Config converts the flags into a vmm.Config.
func (s *IOReadCMD) Config(g *Globals) (*vmm.Config, error) {
	memSize, err := ParseSize(s.MemSize, "m")
	if err != nil {
		return nil, err
	}

	traceC, err := ParseSize(s.TraceCount, "")
	if err != nil {
		return nil, err
	}

	return &vmm.Config{
		Dev:        g.Dev,
		NCPUs:      s.NCPUs,
		MemSize:    memSize,
		TraceCount: traceC,
		Port:       s.Port,
	}, nil
}

func (s *IOReadCMD) Run(g *Globals) error {
	c, err := s.Config(g)
	if err != nil {
		return err
	}

	v := vmm.New(*c)

	if err := v.Init(); err != nil {
		return err
	}
	defer v.Close()

	if err := v.Setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := v.Boot(ctx)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Fprintln(g.out, r)
	}

	return nil
}
