package flag_test

import (
	"testing"

	"github.com/bobuhiro11/kvmctl/flag"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		in, unit string
		want     int
		err      bool
	}{
		{in: "1", unit: "g", want: 1 << 30},
		{in: "2M", unit: "g", want: 2 << 20},
		{in: "4k", unit: "", want: 4 << 10},
		{in: "0x10", unit: "", want: 16},
		{in: "0", unit: "", want: 0},
		{in: "M", unit: "", err: true},
		{in: "12x", unit: "", err: true},
		{in: "3", unit: "t", err: true},
		{in: "2MM", unit: "", err: true},
		{in: "0x10000000000000g", unit: "", err: true},
	} {
		got, err := flag.ParseSize(test.in, test.unit)
		if (err != nil) != test.err {
			t.Errorf("ParseSize(%q, %q): err %v, want err %v", test.in, test.unit, err, test.err)

			continue
		}

		if !test.err && got != test.want {
			t.Errorf("ParseSize(%q, %q): have %d, want %d", test.in, test.unit, got, test.want)
		}
	}
}

func TestParseArg(t *testing.T) {
	t.Parallel()

	c := flag.CLI{}

	k, err := flag.New(&c)
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := k.Parse([]string{
		"-D", "/dev/kvm2", "ioread", "-c", "2", "-m", "4M", "-p", "1016", "-T", "10",
	})
	if err != nil {
		t.Fatal(err)
	}

	if ctx.Command() != "ioread" {
		t.Errorf("have command %q", ctx.Command())
	}

	cfg, err := c.IORead.Config(&c.Globals)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Dev != "/dev/kvm2" {
		t.Error("invalid kvm  path")
	}

	if cfg.NCPUs != 2 {
		t.Error("invalid number of vcpus")
	}

	if cfg.MemSize != 4<<20 {
		t.Error("invalid memory size")
	}

	if cfg.Port != 0x3f8 {
		t.Error("invalid io port")
	}

	if cfg.TraceCount != 10 {
		t.Error("invalid trace count")
	}
}

func TestParseProbe(t *testing.T) {
	t.Parallel()

	c := flag.CLI{}

	k, err := flag.New(&c)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := k.Parse([]string{"probe", "-f", "yaml"}); err != nil {
		t.Fatal(err)
	}

	if c.Probe.Format != "yaml" || c.Dev != "/dev/kvm" || c.Profile != "none" {
		t.Errorf("have %+v", c)
	}

	if _, err := k.Parse([]string{"probe", "-f", "xml"}); err == nil {
		t.Errorf("unknown format: got nil, want err")
	}
}
