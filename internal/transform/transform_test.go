package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSassError(t *testing.T) {
	stderr := `Error: expected ";".
  ╷
3 │   color: red
  │             ^
  ╵
  - 3:13  root stylesheet
`
	msg, line, col := parseSassError(stderr)
	assert.Equal(t, `expected ";".`, msg)
	assert.Equal(t, 3, line)
	assert.Equal(t, 13, col)

	msg, line, col = parseSassError("something unexpected")
	assert.Empty(t, msg)
	assert.Zero(t, line)
	assert.Zero(t, col)
}

func TestSassCompilerValidateCommand(t *testing.T) {
	testCases := []struct {
		name      string
		command   string
		loadPaths []string
		wantErr   string
	}{
		{"sass allowed", "sass", nil, ""},
		{"dart-sass allowed", "/usr/local/bin/dart-sass", nil, ""},
		{"shell not allowed", "bash", nil, "not allowed"},
		{"injection in load path", "sass", []string{"vendor;rm -rf"}, "dangerous character"},
		{"quote in load path", "sass", []string{"vendor'"}, "dangerous character"},
		{"plain load paths", "sass", []string{"node_modules", "src/shared"}, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewSassCompiler(tc.command, tc.loadPaths)
			err := c.validateCommand()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSassCompilerRejectsCommandBeforeRunning(t *testing.T) {
	c := NewSassCompiler("bash", nil)
	_, err := c.Compile(context.Background(), "main.scss", []byte("a{}"))
	require.Error(t, err)
	assert.False(t, apperrors.IsCompileError(err))
}

func TestSassCompilerAcceptsProjectPathsWithQuotes(t *testing.T) {
	c := NewSassCompiler("sass", []string{"node_modules"})
	path := filepath.Join("/home/o'neil/$site", "src", "styles", "main.scss")

	require.NoError(t, c.validateCommand())
	assert.Contains(t, c.args(path), "--load-path="+filepath.Dir(path))
}

func TestSassCompilerArgs(t *testing.T) {
	c := NewSassCompiler("", []string{"node_modules"})
	assert.Equal(t, "sass", c.command)
	args := c.args("src/styles/main.scss")
	assert.Equal(t, []string{
		"--stdin", "--no-source-map", "--style=expanded",
		"--load-path=src/styles", "--load-path=node_modules",
	}, args)
}

func TestPrefixer(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "user-select gains vendor copies",
			in:   "a{user-select:none}",
			want: "a{-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none}",
		},
		{
			name: "sticky gains webkit twin",
			in:   ".nav{position:sticky}",
			want: ".nav{position:-webkit-sticky;position:sticky}",
		},
		{
			name: "other positions untouched",
			in:   ".nav{position:absolute}",
			want: ".nav{position:absolute}",
		},
		{
			name: "already prefixed untouched",
			in:   "a{-webkit-user-select:none}",
			want: "a{-webkit-user-select:none}",
		},
		{
			name: "expanded output keeps separators",
			in:   "a {\n  appearance: none;\n}",
			want: "a {\n  -webkit-appearance: none; -moz-appearance: none; appearance: none;\n}",
		},
		{
			name: "unknown properties untouched",
			in:   "a{color:red;margin:0}",
			want: "a{color:red;margin:0}",
		},
	}

	p := NewPrefixer(nil)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := p.Prefix([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(out))
		})
	}
}

func TestMinifyCSSPreservesFontQuotes(t *testing.T) {
	m := NewMinifier()
	src := []byte(`body {
  font-family: "Arial", sans-serif;
  color: #ff0000;
}

h1 {
  font: bold 2em 'Open Sans';
}
`)
	out, err := m.MinifyCSS(src)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `"Arial"`)
	assert.Contains(t, s, `'Open Sans'`)
	assert.NotContains(t, s, "__assetpipe_font_")
	assert.NotContains(t, s, "\n")
	assert.Less(t, len(out), len(src))
}

func TestMinifySVG(t *testing.T) {
	m := NewMinifier()
	src := []byte(`<?xml version="1.0"?>
<!-- drawn by hand -->
<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10">
    <rect x="0" y="0" width="10" height="10" fill="#ff0000"/>
</svg>
`)
	out, err := m.MinifySVG(src)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "drawn by hand")
	assert.Less(t, len(out), len(src))
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	return img
}

func TestImageOptimizerPNG(t *testing.T) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, gradient(64, 64)))
	original := buf.Bytes()

	out, err := NewImageOptimizer(85).Optimize("logo.png", original)
	require.NoError(t, err)
	assert.Less(t, len(out), len(original))

	_, err = png.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
}

func TestImageOptimizerJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(64, 64), &jpeg.Options{Quality: 100}))
	original := buf.Bytes()

	out, err := NewImageOptimizer(50).Optimize("photo.JPG", original)
	require.NoError(t, err)
	assert.Less(t, len(out), len(original))
}

func TestImageOptimizerNeverGrows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(16, 16), &jpeg.Options{Quality: 10}))
	original := buf.Bytes()

	out, err := NewImageOptimizer(100).Optimize("small.jpeg", original)
	require.NoError(t, err)
	assert.Equal(t, original, out)
}

func TestImageOptimizerPassthroughAndErrors(t *testing.T) {
	o := NewImageOptimizer(0)
	assert.Equal(t, 85, o.jpegQuality)

	data := []byte("not really an icon")
	out, err := o.Optimize("favicon.ico", data)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = o.Optimize("broken.png", []byte("garbage"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken.png"))
}
