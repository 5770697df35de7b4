package report

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var systemFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
}

func findFont(t *testing.T) string {
	t.Helper()
	for _, p := range systemFonts {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("DejaVuSans.ttf not installed")
	return ""
}

func TestPDFRenderer_Render(t *testing.T) {
	font := findFont(t)
	photo := writePNG(t, t.TempDir(), "p.png", 640, 480)
	prepared, err := PrepareImage(photo, 1600, 80)
	require.NoError(t, err)

	r := sampleReport()
	doc := Layout(r, map[string]PreparedImage{"a.jpg": prepared}, A4())

	var buf bytes.Buffer
	require.NoError(t, PDFRenderer{FontPath: font}.Render(doc, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), len(prepared.Data))
}

func TestPDFRenderer_MissingFont(t *testing.T) {
	var buf bytes.Buffer
	err := PDFRenderer{FontPath: "/nonexistent/DejaVuSans.ttf"}.Render(Layout(sampleReport(), nil, A4()), &buf)
	assert.ErrorIs(t, err, ErrMissingResource)
	assert.Zero(t, buf.Len())
}
