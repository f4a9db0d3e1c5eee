package probe

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format selects the output of Write.
type Format string

const (
	Text Format = "text"
	YAML Format = "yaml"
)

var errFormat = errors.New("unknown report format")

// Write prints r to w in format f.
func (r *Report) Write(w io.Writer, f Format) error {
	switch f {
	case Text:
		return r.writeText(w)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "encoding report")
		}

		return enc.Close()
	}

	return errors.Wrapf(errFormat, "%q", f)
}

func (r *Report) writeText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%-30s: %s\n", "device", r.Path)
	fmt.Fprintf(&b, "%-30s: %d\n", "api version", r.APIVersion)
	fmt.Fprintf(&b, "%-30s: %d\n", "recommended vcpus", r.RecommendedVCPUs)
	fmt.Fprintf(&b, "%-30s: %d\n", "max vcpus", r.MaxVCPUs)
	fmt.Fprintf(&b, "%-30s: %d\n", "msrs", r.MSRs)
	fmt.Fprintf(&b, "%-30s: %d\n\n", "cpuid entries", r.CPUIDEntries)

	for _, c := range r.Capabilities {
		fmt.Fprintf(&b, "%-30s: %t (%d)\n", c.Name, c.Value != 0, c.Value)
	}

	for _, fs := range r.Features {
		fmt.Fprintf(&b, "\n%s.\n", fs.Leaf)
		fmt.Fprintf(&b, "* Enabled: %s\n", strings.Join(fs.Enabled, " "))
		fmt.Fprintf(&b, "* Disabled: %s\n", strings.Join(fs.Disabled, " "))
	}

	_, err := io.WriteString(w, b.String())

	return err
}
