package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var buildCmd = &cobra.Command{
	Use:     "build [category...]",
	Aliases: []string{"b"},
	Short:   "Clean and build every category",
	Long: `Clean each category's output and rebuild it. Categories build
concurrently; a failure in one does not stop the others.

Examples:
  assetpipe build                   # Build everything
  assetpipe build styles images     # Build only these categories`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	cats := a.catalog.All()
	if len(args) > 0 {
		cats = cats[:0:0]
		for _, name := range args {
			c, err := a.category(name)
			if err != nil {
				return err
			}
			cats = append(cats, c)
		}
	}
	a.checkCompiler(cmd.Context(), cats...)

	return buildAll(cmd.Context(), a, cats, cmd.OutOrStdout())
}

// buildAll rebuilds cats concurrently and reports them in catalog order. It
// returns every category's error joined.
func buildAll(ctx context.Context, a *app, cats []catalog.Category, out io.Writer) error {
	orch := a.orchestrator(nil)
	results := make([]*pipeline.Result, len(cats))
	errs := make([]error, len(cats))

	var g errgroup.Group
	for i, c := range cats {
		g.Go(func() error {
			res, err := orch.Rebuild(ctx, c, nil)
			results[i] = res
			if err == nil {
				err = droppedError(res)
			}
			errs[i] = err
			return err
		})
	}
	_ = g.Wait()

	for i, c := range cats {
		if results[i] != nil {
			printResult(out, results[i])
		} else if errs[i] != nil {
			fmt.Fprintf(out, "❌ %s: %v\n", c.Name, errs[i])
		}
	}
	return errors.Join(errs...)
}
