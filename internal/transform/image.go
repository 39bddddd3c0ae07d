package transform

import (
	"bytes"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
)

// ImageOptimizer losslessly recompresses PNG and GIF, re-encodes JPEG at a
// fixed quality and minifies SVG. The smaller of the original and the
// re-encoded bytes is kept, so an image never grows.
type ImageOptimizer struct {
	jpegQuality int
	svg         *Minifier
}

// NewImageOptimizer creates an optimizer; quality outside 1-100 falls back to 85.
func NewImageOptimizer(jpegQuality int) *ImageOptimizer {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 85
	}
	return &ImageOptimizer{jpegQuality: jpegQuality, svg: NewMinifier()}
}

// Optimize returns the optimized bytes for the image at path. Formats it does
// not know are returned unchanged.
func (o *ImageOptimizer) Optimize(path string, data []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		out, err = o.png(data)
	case ".jpg", ".jpeg":
		out, err = o.jpeg(data)
	case ".gif":
		out, err = o.gif(data)
	case ".svg":
		out, err = o.svg.MinifySVG(data)
	default:
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("optimize %s: %w", filepath.Base(path), err)
	}
	if len(out) >= len(data) {
		return data, nil
	}
	return out, nil
}

func (o *ImageOptimizer) png(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *ImageOptimizer) jpeg(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *ImageOptimizer) gif(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
