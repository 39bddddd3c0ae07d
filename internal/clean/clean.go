// Package clean deletes a category's previously produced output so renamed or
// removed sources do not leave stale files behind in dist/.
package clean

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/conneroisu/assetpipe/internal/catalog"
	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
)

// Cleaner removes category output resolved through a catalog.
type Cleaner struct {
	catalog *catalog.Catalog
	logger  logging.Logger
}

// New creates a Cleaner. A nil logger discards output.
func New(cat *catalog.Catalog, logger logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Cleaner{catalog: cat, logger: logger.WithComponent("clean")}
}

// Clean deletes everything matching the category's clean patterns. Glob
// patterns remove matching files and leave other categories' nested
// destinations alone; plain paths are removed recursively. Directories emptied
// by a glob are pruned unless the destination is shared with another category.
// Missing targets are not an error.
func (c *Cleaner) Clean(ctx context.Context, cat catalog.Category) error {
	skip := c.catalog.NestedDests(cat)
	removed := 0

	for _, pattern := range cat.Clean {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !hasMeta(pattern) {
			target := c.catalog.Resolve(pattern)
			if err := os.RemoveAll(target); err != nil {
				return apperrors.NewIOError(apperrors.CodeCleanFailed,
					fmt.Sprintf("remove %s", pattern), err).WithCategory(cat.Name)
			}
			removed++
			continue
		}

		n, err := c.removeMatches(cat, pattern, skip)
		removed += n
		if err != nil {
			return err
		}
	}

	c.logger.Debug(ctx, "Cleaned category output", "category", cat.Name, "targets", removed)
	return nil
}

func (c *Cleaner) removeMatches(cat catalog.Category, pattern string, skip []string) (int, error) {
	matches, err := doublestar.FilepathGlob(c.catalog.Resolve(pattern))
	if err != nil {
		return 0, apperrors.NewIOError(apperrors.CodeGlobFailed,
			fmt.Sprintf("glob %s", pattern), err).WithCategory(cat.Name)
	}

	dirs := make(map[string]bool)
	removed := 0
	for _, match := range matches {
		rel, err := c.catalog.Rel(match)
		if err != nil || underAny(rel, skip) {
			continue
		}
		if info, err := os.Lstat(match); err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return removed, apperrors.NewIOError(apperrors.CodeCleanFailed,
				fmt.Sprintf("remove %s", rel), err).WithCategory(cat.Name)
		}
		removed++
		dirs[filepath.Dir(match)] = true
	}

	// Another category may be writing into these directories right now.
	if !c.catalog.SharesDest(cat) {
		c.pruneEmptyDirs(cat, dirs)
	}
	return removed, nil
}

// pruneEmptyDirs removes directories emptied by a clean, deepest first,
// stopping at the category's destination root.
func (c *Cleaner) pruneEmptyDirs(cat catalog.Category, dirs map[string]bool) {
	root := c.catalog.DestPath(cat)
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	for _, dir := range ordered {
		for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
			// os.Remove fails on non-empty directories, which ends the walk.
			if err := os.Remove(dir); err != nil {
				break
			}
			dir = filepath.Dir(dir)
		}
	}
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func underAny(rel string, dirs []string) bool {
	for _, d := range dirs {
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}
