package kvmtest_test

import (
	"bytes"
	"testing"

	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/bobuhiro11/kvmctl/kvm/kvmtest"
)

func TestScriptedIO(t *testing.T) {
	t.Parallel()

	f := kvmtest.New()
	f.Run = func(_ uintptr, page []byte) error {
		kvmtest.WriteIO(page, kvm.EXITIOOUT, 0x3f8, 1, 2, []byte("hi"))

		return nil
	}

	d, err := kvm.Open(f.Options()...)
	if err != nil {
		t.Fatal(err)
	}

	defer d.Close()

	vm, err := d.CreateVM()
	if err != nil {
		t.Fatal(err)
	}

	defer vm.Close()

	cpu, err := vm.CreateVCPU()
	if err != nil {
		t.Fatal(err)
	}

	defer cpu.Close()

	ev, err := cpu.Run()
	if err != nil {
		t.Fatal(err)
	}

	io, err := ev.IO()
	if err != nil {
		t.Fatal(err)
	}

	data, err := ev.IOData()
	if err != nil {
		t.Fatal(err)
	}

	if io.Port != 0x3f8 || io.Direction != kvm.EXITIOOUT || !bytes.Equal(data, []byte("hi")) {
		t.Errorf("have %+v %q", *io, data)
	}

	if f.Count(kvm.OpRun) != 1 || len(f.VCPUs()) != 1 {
		t.Errorf("have %d runs and %d vcpus", f.Count(kvm.OpRun), len(f.VCPUs()))
	}
}

func TestFailEntry(t *testing.T) {
	t.Parallel()

	page := make([]byte, 4096)
	kvmtest.WriteFailEntry(page, 0x80000021, 3)

	fe, err := kvm.NewExitEvent(page).FailEntry()
	if err != nil {
		t.Fatal(err)
	}

	if fe.HardwareEntryFailureReason != 0x80000021 || fe.CPU != 3 {
		t.Errorf("have %+v", *fe)
	}
}
