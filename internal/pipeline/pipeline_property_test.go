//go:build property

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBundleProperties checks that both script bundles are the exact
// concatenation of their sources in glob order.
func TestBundleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	for _, name := range []string{"vendor-scripts", "custom-scripts"} {
		name := name
		properties.Property(name+" bundle is order-preserving concatenation", prop.ForAll(
			func(contents []string) bool {
				root := t.TempDir()
				cat := catalog.New(root)
				category, _ := cat.Lookup(name)
				srcDir := cat.SourceDir(category)
				if err := os.MkdirAll(srcDir, 0755); err != nil {
					return false
				}

				var want strings.Builder
				for i, c := range contents {
					file := filepath.Join(srcDir, fmt.Sprintf("%03d.js", i))
					if err := os.WriteFile(file, []byte(c), 0644); err != nil {
						return false
					}
					want.WriteString(c)
				}

				res, err := New(cat, Options{}).Run(context.Background(), category)
				if err != nil {
					return false
				}
				if len(contents) == 0 {
					return len(res.Outputs) == 0
				}

				got, err := os.ReadFile(cat.Resolve(category.BundlePath()))
				if err != nil {
					return false
				}
				return string(got) == want.String()
			},
			gen.SliceOf(gen.AlphaString()),
		))
	}

	properties.TestingRun(t)
}
