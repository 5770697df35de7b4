package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// PreparedImage is a photo re-encoded for embedding.
type PreparedImage struct {
	Data   []byte
	Width  int
	Height int
}

// PrepareImage decodes the file at path, flattens any alpha onto white,
// shrinks it so neither side exceeds maxPx and re-encodes it as JPEG.
func PrepareImage(path string, maxPx, quality int) (PreparedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PreparedImage{}, &ResourceError{Resource: "photo", Path: path, Err: err}
		}
		return PreparedImage{}, fmt.Errorf("open photo %s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return PreparedImage{}, fmt.Errorf("%w: %s: %v", ErrImageDecode, path, err)
	}
	return prepare(src, maxPx, quality)
}

func prepare(src image.Image, maxPx, quality int) (PreparedImage, error) {
	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), maxPx)
	if w == 0 || h == 0 {
		return PreparedImage{}, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return PreparedImage{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return PreparedImage{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// fitWithin scales w×h down, preserving aspect ratio, so the longer side is
// at most maxPx. Images already small enough are left alone.
func fitWithin(w, h, maxPx int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if maxPx <= 0 || (w <= maxPx && h <= maxPx) {
		return w, h
	}
	scale := math.Min(float64(maxPx)/float64(w), float64(maxPx)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(nw, 1), max(nh, 1)
}
