package transform

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	mediaCSS = "text/css"
	mediaSVG = "image/svg+xml"
)

// Minifier wraps tdewolff/minify for the media types the pipeline emits.
type Minifier struct {
	m *minify.M
}

// NewMinifier registers the CSS and SVG minifiers.
func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaSVG, svg.Minify)
	return &Minifier{m: m}
}

var (
	fontDecl     = regexp.MustCompile(`(?i)(font(?:-family)?\s*:)([^;{}]*)`)
	quotedString = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)

// MinifyCSS minifies a stylesheet. Quoted font names survive untouched: they
// are swapped for placeholder identifiers before minifying and restored after.
func (mn *Minifier) MinifyCSS(src []byte) ([]byte, error) {
	var originals [][]byte
	protected := fontDecl.ReplaceAllFunc(src, func(decl []byte) []byte {
		return quotedString.ReplaceAllFunc(decl, func(q []byte) []byte {
			token := []byte(fmt.Sprintf("__assetpipe_font_%d__", len(originals)))
			originals = append(originals, append([]byte(nil), q...))
			return token
		})
	})

	out, err := mn.m.Bytes(mediaCSS, protected)
	if err != nil {
		return nil, fmt.Errorf("minify css: %w", err)
	}

	for i := len(originals) - 1; i >= 0; i-- {
		token := []byte(fmt.Sprintf("__assetpipe_font_%d__", i))
		out = bytes.ReplaceAll(out, token, originals[i])
	}
	return out, nil
}

// MinifySVG minifies an SVG document.
func (mn *Minifier) MinifySVG(src []byte) ([]byte, error) {
	out, err := mn.m.Bytes(mediaSVG, src)
	if err != nil {
		return nil, fmt.Errorf("minify svg: %w", err)
	}
	return out, nil
}
