package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/pipeline"
	"github.com/spf13/cobra"
)

// newCategoryCommands creates a build command and a clean-<name> command for
// every category of the default catalog.
func newCategoryCommands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, cat := range catalog.Default() {
		cmds = append(cmds, newBuildCategoryCmd(cat), newCleanCategoryCmd(cat))
	}
	return cmds
}

func newBuildCategoryCmd(cat catalog.Category) *cobra.Command {
	name := cat.Name
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Build %s (%s → %s)", name, cat.Source, destOf(cat)),
		Args:  cobra.NoArgs,
		Long: fmt.Sprintf(`Run the %s pipeline once without cleaning first.

Sources: %s
Output:  %s
Kind:    %s`, name, cat.Source, destOf(cat), cat.Kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			c, err := a.category(name)
			if err != nil {
				return err
			}
			a.checkCompiler(cmd.Context(), c)

			res, err := a.pipeline.Run(cmd.Context(), c)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return droppedError(res)
		},
	}
}

func newCleanCategoryCmd(cat catalog.Category) *cobra.Command {
	name := cat.Name
	return &cobra.Command{
		Use:   "clean-" + name,
		Short: fmt.Sprintf("Remove the %s output (%s)", name, strings.Join(cat.Clean, ", ")),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			c, err := a.category(name)
			if err != nil {
				return err
			}
			if err := a.cleaner.Clean(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🧹 Cleaned %s\n", name)
			return nil
		},
	}
}

// destOf is the output a category writes, for help text.
func destOf(cat catalog.Category) string {
	if p := cat.BundlePath(); p != "" {
		return p
	}
	return cat.Dest
}

// printResult writes a short report of one run.
func printResult(w io.Writer, res *pipeline.Result) {
	icon := "✅"
	if res.Failed() {
		icon = "⚠️"
	}
	fmt.Fprintf(w, "%s %s: %d file(s) written in %v\n", icon, res.Category, len(res.Outputs), res.Duration.Round(time.Millisecond))
	for _, be := range res.Errors {
		fmt.Fprintf(w, "   %s\n", be.Error())
	}
}

// droppedError turns dropped files into a non-zero exit.
func droppedError(res *pipeline.Result) error {
	if res == nil || !res.Failed() {
		return nil
	}
	return fmt.Errorf("%s: %d file(s) failed to build", res.Category, len(res.Errors))
}
