package probe_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bobuhiro11/kvmctl/cpuid"
	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/kvm/kvmtest"
	"github.com/bobuhiro11/kvmctl/probe"
	"gopkg.in/yaml.v3"
)

// fakeKVM is a device that supports only CapUserMemory and reports
// leaves 1 and 7 with a handful of features.
func fakeKVM() *kvmtest.Device {
	f := kvmtest.New()
	f.Caps[kvm.CapUserMemory] = 1
	f.CPUID = []kvm.CPUIDEntry2{
		{Function: 1, Edx: 1<<uint(cpuid.FPU) | 1<<uint(cpuid.PAE), Ecx: 1 << uint(cpuid.HYPERVISOR)},
		{Function: 7, Edx: 1 << uint(cpuid.FSRM)},
	}

	return f
}

func collect(t *testing.T) *probe.Report {
	t.Helper()

	d, err := kvm.Open(fakeKVM().Options()...)
	if err != nil {
		t.Fatal(err)
	}

	defer d.Close()

	r, err := probe.Collect(d, "/dev/fake")
	if err != nil {
		t.Fatal(err)
	}

	return r
}

func TestCollect(t *testing.T) {
	t.Parallel()

	r := collect(t)

	if r.APIVersion != kvm.APIVersion || r.RecommendedVCPUs != 4 || r.MaxVCPUs != 4 {
		t.Errorf("unexpected limits %+v", r)
	}

	if len(r.Capabilities) != len(kvm.Capabilities()) {
		t.Errorf("have %d capabilities, want %d", len(r.Capabilities), len(kvm.Capabilities()))
	}

	if r.CPUIDEntries != 2 || len(r.Features) != 3 {
		t.Fatalf("have %d entries and %d feature sets", r.CPUIDEntries, len(r.Features))
	}

	if got := strings.Join(r.Features[0].Enabled, " "); got != "FPU PAE" {
		t.Errorf("F_1_Edx enabled: have %q", got)
	}

	if got := strings.Join(r.Features[1].Enabled, " "); got != "HYPERVISOR" {
		t.Errorf("F_1_Ecx enabled: have %q", got)
	}

	if got := strings.Join(r.Features[2].Enabled, " "); got != "FSRM" {
		t.Errorf("F_7_0_Edx enabled: have %q", got)
	}
}

func TestWrite(t *testing.T) {
	t.Parallel()

	r := collect(t)

	var text bytes.Buffer
	if err := r.Write(&text, probe.Text); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"CapUserMemory", "true (1)", "* Enabled: FPU PAE"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text report lacks %q:\n%s", want, text.String())
		}
	}

	var out bytes.Buffer
	if err := r.Write(&out, probe.YAML); err != nil {
		t.Fatal(err)
	}

	back := probe.Report{}
	if err := yaml.Unmarshal(out.Bytes(), &back); err != nil {
		t.Fatal(err)
	}

	if back.Path != "/dev/fake" || back.MaxVCPUs != 4 || len(back.Features) != 3 {
		t.Errorf("yaml report lost data: %+v", back)
	}

	if err := r.Write(&out, probe.Format("xml")); err == nil {
		t.Errorf("unknown format: got nil, want err")
	}
}
