package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/clean"
	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompiler fails any source containing "!!" and otherwise passes the
// source through with a marker comment.
type fakeCompiler struct{}

func (fakeCompiler) Compile(_ context.Context, path string, src []byte) ([]byte, error) {
	if bytes.Contains(src, []byte("!!")) {
		return nil, apperrors.NewCompileError("invalid CSS", errors.New("exit status 65")).
			WithLocation(path, 1, 3)
	}
	return append([]byte("/*c*/"), src...), nil
}

type squashMinifier struct{}

func (squashMinifier) MinifyCSS(css []byte) ([]byte, error) {
	return bytes.ReplaceAll(css, []byte("\n"), nil), nil
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func newPipeline(root string) (*catalog.Catalog, *Pipeline) {
	cat := catalog.New(root)
	return cat, New(cat, Options{
		Compiler:  fakeCompiler{},
		Prefixer:  transform.NewPrefixer(nil),
		Minifier:  squashMinifier{},
		Optimizer: transform.NewImageOptimizer(85),
		SourceMap: true,
	})
}

func mustLookup(t *testing.T, cat *catalog.Catalog, name string) catalog.Category {
	t.Helper()
	c, ok := cat.Lookup(name)
	require.True(t, ok, name)
	return c
}

func TestCustomScriptsBundle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/scripts/custom/a.js", "var a=1;")
	writeFile(t, root, "src/scripts/custom/b.js", "var b=2;")

	cat, p := newPipeline(root)
	res, err := p.Run(context.Background(), mustLookup(t, cat, "custom-scripts"))
	require.NoError(t, err)

	assert.Equal(t, "var a=1;var b=2;", readFile(t, root, "dist/scripts/custom-scripts.js"))
	assert.Equal(t, []string{"dist/scripts/custom-scripts.js"}, res.Outputs)
	assert.False(t, res.Failed())
	assert.NotEmpty(t, res.RunID)
}

func TestBundlePreservesGlobOrder(t *testing.T) {
	testCases := []struct {
		name     string
		category string
		files    map[string]string
		output   string
		want     string
	}{
		{
			name:     "vendor scripts nested",
			category: "vendor-scripts",
			files: map[string]string{
				"src/scripts/vendors/b.js":      "B;",
				"src/scripts/vendors/a/z.js":    "AZ;",
				"src/scripts/vendors/c.js":      "C;\n",
				"src/scripts/vendors/readme.md": "ignored",
			},
			output: "dist/scripts/vendor-scripts.min.js",
			want:   "AZ;B;C;\n",
		},
		{
			name:     "custom scripts without trailing newline",
			category: "custom-scripts",
			files: map[string]string{
				"src/scripts/custom/2.js": "two()",
				"src/scripts/custom/1.js": "one()",
			},
			output: "dist/scripts/custom-scripts.js",
			want:   "one()two()",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			for rel, content := range tc.files {
				writeFile(t, root, rel, content)
			}
			cat, p := newPipeline(root)
			_, err := p.Run(context.Background(), mustLookup(t, cat, tc.category))
			require.NoError(t, err)
			assert.Equal(t, tc.want, readFile(t, root, tc.output))
		})
	}
}

func TestBundleWithNoSourcesWritesNothing(t *testing.T) {
	root := t.TempDir()
	cat, p := newPipeline(root)

	res, err := p.Run(context.Background(), mustLookup(t, cat, "vendor-scripts"))
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
	_, err = os.Stat(filepath.Join(root, "dist", "scripts", "vendor-scripts.min.js"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyMirrorsSourceTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/html/index.html", "<h1>home</h1>")
	writeFile(t, root, "src/html/about/team.html", "<h1>team</h1>")
	writeFile(t, root, "src/php/api/contact.php", "<?php echo 1;")

	cat, p := newPipeline(root)
	res, err := p.Run(context.Background(), mustLookup(t, cat, "html"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/about/team.html", "dist/index.html"}, res.Outputs)
	assert.Equal(t, "<h1>team</h1>", readFile(t, root, "dist/about/team.html"))

	_, err = p.Run(context.Background(), mustLookup(t, cat, "php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php echo 1;", readFile(t, root, "dist/api/contact.php"))
}

func TestStylesToleratePartialFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/styles/a.scss", "a{\nuser-select:none}")
	writeFile(t, root, "src/styles/broken.scss", "b{!!}")
	writeFile(t, root, "src/styles/c.scss", "c{color:red}")
	writeFile(t, root, "src/styles/_vars.scss", "$x: 1;")

	cat, p := newPipeline(root)
	res, err := p.Run(context.Background(), mustLookup(t, cat, "styles"))
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "styles", res.Errors[0].Category)
	assert.Equal(t, filepath.Join(root, "src", "styles", "broken.scss"), res.Errors[0].File)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.True(t, res.Failed())

	css := readFile(t, root, "dist/styles/style.css")
	assert.Contains(t, css, "-webkit-user-select:none")
	assert.Contains(t, css, "c{color:red}")
	assert.NotContains(t, css, "b{")
	assert.NotContains(t, css, "$x")
	assert.True(t, strings.HasSuffix(css, "/*# sourceMappingURL=style.css.map */\n"))
	assert.Equal(t, []string{"dist/styles/style.css", "dist/styles/style.css.map"}, res.Outputs)

	var sm indexMap
	require.NoError(t, json.Unmarshal([]byte(readFile(t, root, "dist/styles/style.css.map")), &sm))
	assert.Equal(t, 3, sm.Version)
	assert.Equal(t, "style.css", sm.File)
	require.Len(t, sm.Sections, 2)
	assert.Equal(t, []string{"../../src/styles/a.scss"}, sm.Sections[0].Map.Sources)
	assert.Equal(t, []string{"../../src/styles/c.scss"}, sm.Sections[1].Map.Sources)
	assert.Equal(t, offset{Line: 1, Column: 0}, sm.Sections[1].Offset)
	assert.Equal(t, "c{color:red}", sm.Sections[1].Map.SourcesContent[0])
}

func TestStylesAllFailing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/styles/broken.scss", "b{!!}")

	cat, p := newPipeline(root)
	res, err := p.Run(context.Background(), mustLookup(t, cat, "styles"))
	require.Error(t, err)
	assert.ErrorIs(t, err, &apperrors.PipelineError{Type: apperrors.ErrorTypeCompile, Code: apperrors.CodeNoOutput})
	assert.Len(t, res.Errors, 1)

	_, statErr := os.Stat(filepath.Join(root, "dist", "styles", "style.css"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStylesWithoutSourceMap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/styles/main.scss", "a{color:red}")

	cat := catalog.New(root)
	p := New(cat, Options{Compiler: fakeCompiler{}})
	res, err := p.Run(context.Background(), mustLookup(t, cat, "styles"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/styles/style.css"}, res.Outputs)
	assert.Equal(t, "/*c*/a{color:red}", readFile(t, root, "dist/styles/style.css"))
}

func TestImagesAreOptimizedAndTouched(t *testing.T) {
	root := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	writeFile(t, root, "src/images/icons/dot.png", buf.String())

	start := time.Now().Truncate(time.Second)
	cat, p := newPipeline(root)
	res, err := p.Run(context.Background(), mustLookup(t, cat, "images"))
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/images/icons/dot.png"}, res.Outputs)

	info, err := os.Stat(filepath.Join(root, "dist", "images", "icons", "dot.png"))
	require.NoError(t, err)
	assert.False(t, info.ModTime().Before(start))
	assert.Less(t, info.Size(), int64(buf.Len()))
}

func TestImagesFailOnCorruptImage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/images/bad.png", "not a png")

	cat, p := newPipeline(root)
	_, err := p.Run(context.Background(), mustLookup(t, cat, "images"))
	require.Error(t, err)
	assert.False(t, apperrors.IsRecoverable(err))
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Cleans of a shared destination leave emptied directories behind.
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCleanThenBuildMatchesFreshBuild(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/html/index.html", "<p>hi</p>")
	writeFile(t, root, "src/html/blog/post.html", "<p>post</p>")
	writeFile(t, root, "src/php/contact.php", "<?php ?>")
	writeFile(t, root, "src/images/readme.txt", "plain")
	writeFile(t, root, "src/styles/main.scss", "a{color:red}")
	writeFile(t, root, "src/scripts/vendors/lib.js", "lib();")
	writeFile(t, root, "src/scripts/custom/app.js", "app();")

	cat, p := newPipeline(root)
	cleaner := clean.New(cat, nil)
	ctx := context.Background()

	for _, c := range cat.All() {
		_, err := p.Run(ctx, c)
		require.NoError(t, err, c.Name)
	}
	fresh := snapshot(t, filepath.Join(root, "dist"))

	// Leave stale output behind in every category.
	writeFile(t, root, "dist/old.html", "stale")
	writeFile(t, root, "dist/gone/old.php", "stale")
	writeFile(t, root, "dist/images/old.png", "stale")
	writeFile(t, root, "dist/styles/style.css", "stale")
	writeFile(t, root, "dist/scripts/custom-scripts.js", "stale")

	for _, c := range cat.All() {
		require.NoError(t, cleaner.Clean(ctx, c), c.Name)
		_, err := p.Run(ctx, c)
		require.NoError(t, err, c.Name)
	}
	assert.Equal(t, fresh, snapshot(t, filepath.Join(root, "dist")))
}

func TestRunRequiresCapabilities(t *testing.T) {
	cat := catalog.New(t.TempDir())
	p := New(cat, Options{})

	_, err := p.Run(context.Background(), mustLookup(t, cat, "styles"))
	assert.Error(t, err)
	_, err = p.Run(context.Background(), mustLookup(t, cat, "images"))
	assert.Error(t, err)
	_, err = p.Run(context.Background(), catalog.Category{Name: "odd", Kind: "zip"})
	assert.Error(t, err)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/html/index.html", "x")

	cat, p := newPipeline(root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, mustLookup(t, cat, "html"))
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(root, "dist", "index.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAdvance(t *testing.T) {
	line, col := advance(0, 0, []byte("abc"))
	assert.Equal(t, 0, line)
	assert.Equal(t, 3, col)

	line, col = advance(line, col, []byte("\nxy\nz"))
	assert.Equal(t, 2, line)
	assert.Equal(t, 1, col)
}
