package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// outputFormat is a --output flag value restricted to the formats a command
// can render.
type outputFormat struct {
	value   string
	allowed []string
}

var _ pflag.Value = (*outputFormat)(nil)

func newOutputFormat(def string, allowed ...string) *outputFormat {
	return &outputFormat{value: def, allowed: allowed}
}

func (f *outputFormat) String() string { return f.value }

func (f *outputFormat) Type() string { return "format" }

// Set accepts any allowed format, case-insensitively.
func (f *outputFormat) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range f.allowed {
		if s == a {
			f.value = s
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q, must be one of: %s", s, strings.Join(f.allowed, ", "))
}

// addOutputFlag registers -o/--output on flags.
func addOutputFlag(flags *pflag.FlagSet, f *outputFormat) {
	flags.VarP(f, "output", "o", "Output format ("+strings.Join(f.allowed, "|")+")")
}

// writeStructured renders v as JSON or YAML.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
