// Package catalog holds the fixed mapping from asset category to source glob,
// destination and processing kind.
//
// The catalog is pure configuration: it is built once at startup and never
// mutated. Patterns are slash-separated and relative to the project root so the
// same catalog works on every platform; callers resolve them with SourcePattern
// and DestPath.
package catalog

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind selects the step list a category's pipeline runs.
type Kind string

const (
	KindCopy     Kind = "copy"
	KindOptimize Kind = "optimize"
	KindStyle    Kind = "style"
	KindBundle   Kind = "bundle"
)

// ReloadPolicy says how a connected browser learns about a finished rebuild.
type ReloadPolicy string

const (
	ReloadFull   ReloadPolicy = "full"
	ReloadInject ReloadPolicy = "inject"
	ReloadNone   ReloadPolicy = "none"
)

// Category is one group of same-type source assets sharing a pipeline.
type Category struct {
	Name   string       `json:"name" yaml:"name"`
	Source string       `json:"source" yaml:"source"`
	Dest   string       `json:"dest" yaml:"dest"`
	Bundle string       `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Clean  []string     `json:"clean" yaml:"clean"`
	Kind   Kind         `json:"kind" yaml:"kind"`
	Reload ReloadPolicy `json:"reload" yaml:"reload"`
	Touch  bool         `json:"touch" yaml:"touch"`
}

// SourceBase is the static directory prefix of the source glob. Copied files
// keep their path relative to it.
func (c Category) SourceBase() string {
	base, _ := doublestar.SplitPattern(c.Source)
	return base
}

// BundlePath is the slash-separated output path of a bundling category, or ""
// for categories that mirror their sources.
func (c Category) BundlePath() string {
	if c.Bundle == "" {
		return ""
	}
	return path.Join(c.Dest, c.Bundle)
}

// DistDir is the output root every default category writes below. It is the
// directory the upstream server publishes.
const DistDir = "dist"

// PublicPath maps a project-relative output path onto the URL path the
// upstream server serves it at: dist/styles/style.css becomes styles/style.css.
func PublicPath(rel string) string {
	return strings.TrimPrefix(rel, DistDir+"/")
}

// Default returns the category table for the standard src/ → dist/ layout.
func Default() []Category {
	return []Category{
		{
			Name:   "php",
			Source: "src/php/**/*.php",
			Dest:   "dist",
			Clean:  []string{"dist/**/*.php"},
			Kind:   KindCopy,
			Reload: ReloadFull,
		},
		{
			Name:   "html",
			Source: "src/html/**/*.html",
			Dest:   "dist",
			Clean:  []string{"dist/**/*.html"},
			Kind:   KindCopy,
			Reload: ReloadFull,
		},
		{
			Name:   "images",
			Source: "src/images/**/*",
			Dest:   "dist/images",
			Clean:  []string{"dist/images"},
			Kind:   KindOptimize,
			Reload: ReloadFull,
			Touch:  true,
		},
		{
			Name:   "styles",
			Source: "src/styles/**/*.scss",
			Dest:   "dist/styles",
			Bundle: "style.css",
			Clean:  []string{"dist/styles/style.css", "dist/styles/style.css.map"},
			Kind:   KindStyle,
			Reload: ReloadInject,
		},
		{
			Name:   "vendor-scripts",
			Source: "src/scripts/vendors/**/*.js",
			Dest:   "dist/scripts",
			Bundle: "vendor-scripts.min.js",
			Clean:  []string{"dist/scripts/vendor-scripts.min.js"},
			Kind:   KindBundle,
			Reload: ReloadFull,
			Touch:  true,
		},
		{
			Name:   "custom-scripts",
			Source: "src/scripts/custom/**/*.js",
			Dest:   "dist/scripts",
			Bundle: "custom-scripts.js",
			Clean:  []string{"dist/scripts/custom-scripts.js"},
			Kind:   KindBundle,
			Reload: ReloadFull,
			Touch:  true,
		},
	}
}

// Catalog resolves categories against a project root.
type Catalog struct {
	root       string
	categories []Category
	index      map[string]int
}

// New builds a catalog for root using the default category table.
func New(root string) *Catalog {
	c, _ := NewWithCategories(root, Default())
	return c
}

// NewWithCategories builds a catalog from an explicit table. It fails on
// duplicate names or invalid glob patterns.
func NewWithCategories(root string, categories []Category) (*Catalog, error) {
	if root == "" {
		root = "."
	}
	c := &Catalog{
		root:       filepath.Clean(root),
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, cat := range categories {
		if _, dup := c.index[cat.Name]; dup {
			return nil, fmt.Errorf("duplicate category %q", cat.Name)
		}
		if !doublestar.ValidatePattern(cat.Source) {
			return nil, fmt.Errorf("category %q: invalid source glob %q", cat.Name, cat.Source)
		}
		for _, p := range cat.Clean {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("category %q: invalid clean pattern %q", cat.Name, p)
			}
		}
		c.index[cat.Name] = len(c.categories)
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

// Root returns the project root all patterns are relative to.
func (c *Catalog) Root() string { return c.root }

// Lookup returns the category with the given name.
func (c *Catalog) Lookup(name string) (Category, bool) {
	i, ok := c.index[name]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// All returns the categories in declaration order.
func (c *Catalog) All() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Names returns category names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// SourcePattern returns the category glob rooted at the project root, in the
// slash form doublestar.FilepathGlob accepts.
func (c *Catalog) SourcePattern(cat Category) string {
	return path.Join(filepath.ToSlash(c.root), cat.Source)
}

// SourceDir returns the OS path of the category's static source directory.
func (c *Catalog) SourceDir(cat Category) string {
	return filepath.Join(c.root, filepath.FromSlash(cat.SourceBase()))
}

// DestPath returns the OS path of the category's destination directory.
func (c *Catalog) DestPath(cat Category) string {
	return filepath.Join(c.root, filepath.FromSlash(cat.Dest))
}

// Resolve turns a slash-separated project-relative path into an OS path.
func (c *Catalog) Resolve(rel string) string {
	return filepath.Join(c.root, filepath.FromSlash(rel))
}

// Rel returns p relative to the project root in slash form.
func (c *Catalog) Rel(p string) (string, error) {
	root := c.root
	if filepath.IsAbs(p) != filepath.IsAbs(root) {
		var err error
		if root, err = filepath.Abs(root); err != nil {
			return "", err
		}
		if p, err = filepath.Abs(p); err != nil {
			return "", err
		}
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Match returns every category whose source glob matches the given path.
// Paths outside the root never match.
func (c *Catalog) Match(p string) []Category {
	rel, err := c.Rel(p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil
	}
	var matched []Category
	for _, cat := range c.categories {
		if ok, _ := doublestar.Match(cat.Source, rel); ok {
			matched = append(matched, cat)
		}
	}
	return matched
}

// SharesDest reports whether another category writes into the same
// destination directory as cat. Directories below a shared destination may be
// filled by either category at any time.
func (c *Catalog) SharesDest(cat Category) bool {
	for _, other := range c.categories {
		if other.Name != cat.Name && other.Dest == cat.Dest {
			return true
		}
	}
	return false
}

// NestedDests returns the destination directories of other categories that sit
// strictly below cat's destination. Those subtrees belong to their own
// category and must be left alone when cat is cleaned.
func (c *Catalog) NestedDests(cat Category) []string {
	prefix := strings.TrimSuffix(cat.Dest, "/") + "/"
	seen := make(map[string]bool)
	var nested []string
	for _, other := range c.categories {
		if other.Name == cat.Name || other.Dest == cat.Dest || seen[other.Dest] {
			continue
		}
		if strings.HasPrefix(other.Dest, prefix) {
			seen[other.Dest] = true
			nested = append(nested, other.Dest)
		}
	}
	sort.Strings(nested)
	return nested
}
