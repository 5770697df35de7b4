package report

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG writes a w×h image whose left half is transparent and right half
// opaque red.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestPrepareImage_DownscalesAndFlattens(t *testing.T) {
	path := writePNG(t, t.TempDir(), "wide.png", 3200, 800)

	prepared, err := PrepareImage(path, 1600, 80)
	require.NoError(t, err)
	assert.Equal(t, 1600, prepared.Width)
	assert.Equal(t, 400, prepared.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1600, 400), decoded.Bounds())

	r, g, b, _ := decoded.At(100, 200).RGBA()
	assert.Greater(t, r, uint32(0xF000), "transparent area becomes white")
	assert.Greater(t, g, uint32(0xF000))
	assert.Greater(t, b, uint32(0xF000))

	r, g, _, _ = decoded.At(1500, 200).RGBA()
	assert.Greater(t, r, uint32(0xE000))
	assert.Less(t, g, uint32(0x2000))
}

func TestPrepareImage_SmallImageKeepsSize(t *testing.T) {
	path := writePNG(t, t.TempDir(), "small.png", 120, 60)
	prepared, err := PrepareImage(path, 1600, 80)
	require.NoError(t, err)
	assert.Equal(t, 120, prepared.Width)
	assert.Equal(t, 60, prepared.Height)
}

func TestPrepareImage_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := PrepareImage(filepath.Join(dir, "absent.jpg"), 1600, 80)
	assert.ErrorIs(t, err, ErrMissingResource)

	garbage := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not an image"), 0644))
	_, err = PrepareImage(garbage, 1600, 80)
	assert.True(t, errors.Is(err, ErrImageDecode), "got %v", err)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, limit  int
		wantW, wantH int
	}{
		{4000, 3000, 1600, 1600, 1200},
		{3000, 4000, 1600, 1200, 1600},
		{1600, 1600, 1600, 1600, 1600},
		{800, 600, 1600, 800, 600},
		{5000, 1, 1600, 1600, 1},
		{0, 10, 1600, 0, 0},
	}
	for _, tt := range tests {
		w, h := fitWithin(tt.w, tt.h, tt.limit)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}
