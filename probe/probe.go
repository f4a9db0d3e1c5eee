// Package probe reports what the host's KVM supports.
package probe

import (
	"github.com/bobuhiro11/kvmctl/cpuid"
	"github.com/bobuhiro11/kvmctl/kvm"
	"github.com/pkg/errors"
)

// Capability is one KVM_CHECK_EXTENSION answer.
type Capability struct {
	Name  string `yaml:"name"`
	Value int    `yaml:"value"`
}

// FeatureSet is the split of one cpuid register into feature names.
type FeatureSet struct {
	Leaf     string   `yaml:"leaf"`
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
}

// Report is everything Collect learned about a device.
type Report struct {
	Path             string       `yaml:"path"`
	APIVersion       int          `yaml:"api_version"`
	RecommendedVCPUs uint32       `yaml:"recommended_vcpus"`
	MaxVCPUs         uint32       `yaml:"max_vcpus"`
	Capabilities     []Capability `yaml:"capabilities"`
	MSRs             int          `yaml:"msrs"`
	CPUIDEntries     int          `yaml:"cpuid_entries"`
	Features         []FeatureSet `yaml:"features"`
}

// Collect queries d for its limits, every named capability and the cpuid
// features KVM can expose.
func Collect(d *kvm.Device, path string) (*Report, error) {
	version, err := d.APIVersion()
	if err != nil {
		return nil, errors.Wrap(err, "KVM_GET_API_VERSION")
	}

	r := &Report{
		Path:             path,
		APIVersion:       version,
		RecommendedVCPUs: d.RecommendedVCPUs(),
		MaxVCPUs:         d.MaxVCPUs(),
	}

	for _, c := range kvm.Capabilities() {
		r.Capabilities = append(r.Capabilities, Capability{Name: c.String(), Value: d.CheckCapability(c)})
	}

	msrs, err := d.MSRIndexList()
	if err != nil {
		return nil, errors.Wrap(err, "KVM_GET_MSR_INDEX_LIST")
	}

	r.MSRs = len(msrs)

	ids, err := d.SupportedCPUID()
	if err != nil {
		return nil, errors.Wrap(err, "KVM_GET_SUPPORTED_CPUID")
	}

	r.CPUIDEntries = ids.Len()
	r.Features = features(ids)

	return r, nil
}

func features(ids *kvm.CPUID) []FeatureSet {
	var sets []FeatureSet

	if e := ids.Find(1, 0); e != nil {
		sets = append(sets,
			featureSet("F_1_Edx", cpuid.AllF1Edx, e.Edx),
			featureSet("F_1_Ecx", cpuid.AllF1Ecx, e.Ecx))
	}

	if e := ids.Find(7, 0); e != nil {
		sets = append(sets, featureSet("F_7_0_Edx", cpuid.AllF7_0Edx, e.Edx))
	}

	return sets
}

func featureSet[T cpuid.Feature](leaf string, all []T, reg uint32) FeatureSet {
	enabled, disabled := cpuid.Split(all, reg)

	return FeatureSet{Leaf: leaf, Enabled: names(enabled), Disabled: names(disabled)}
}

func names[T cpuid.Feature](fs []T) []string {
	s := make([]string, 0, len(fs))
	for _, f := range fs {
		s = append(s, f.String())
	}

	return s
}
