package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var catalogOutput = newOutputFormat("table", "table", "json", "yaml")

var catalogCmd = &cobra.Command{
	Use:     "catalog",
	Aliases: []string{"l", "list"},
	Short:   "Show where every category reads and writes",
	Long: `Print the path catalog: each category's source glob, destination,
processing kind and reload policy, resolved against the project root.

Examples:
  assetpipe catalog               # Table
  assetpipe catalog -o json       # JSON
  assetpipe catalog -o yaml       # YAML`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	addOutputFlag(catalogCmd.Flags(), catalogOutput)
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat := catalog.New(cfg.Root)
	return writeCatalog(cmd.OutOrStdout(), cat, catalogOutput.String())
}

// catalogEntry is the rendered form of one category.
type catalogEntry struct {
	catalog.Category `yaml:",inline"`
	SourceDir        string `json:"source_dir" yaml:"source_dir"`
	Output           string `json:"output" yaml:"output"`
}

func writeCatalog(w io.Writer, c *catalog.Catalog, format string) error {
	entries := make([]catalogEntry, 0, len(c.All()))
	for _, cat := range c.All() {
		entries = append(entries, catalogEntry{
			Category:  cat,
			SourceDir: c.SourceDir(cat),
			Output:    destOf(cat),
		})
	}

	if format != "table" {
		return writeStructured(w, format, map[string]interface{}{
			"root":       c.Root(),
			"categories": entries,
		})
	}

	title := cases.Title(language.English)
	headings := []string{"name", "source", "output", "kind", "reload", "touch"}
	for i, h := range headings {
		headings[i] = title.String(h)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headings, "\t"))
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", e.Name, e.Source, e.Output, e.Kind, e.Reload, e.Touch)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nRoot: %s\n", c.Root())
	return nil
}
