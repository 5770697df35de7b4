package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-pdf/fpdf"
)

const fontFamily = "DejaVuSans"

// Renderer turns a laid out document into bytes.
type Renderer interface {
	Render(doc Document, w io.Writer) error
}

// PDFRenderer renders with fpdf using a TrueType font read from FontPath.
// There is no fallback font: a missing file is a ResourceError.
type PDFRenderer struct {
	FontPath string
}

func (r PDFRenderer) Render(doc Document, w io.Writer) error {
	font, err := os.ReadFile(r.FontPath)
	if err != nil {
		return &ResourceError{Resource: "font", Path: r.FontPath, Err: err}
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("nestcheck", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddUTF8FontFromBytes(fontFamily, "", font)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("load font %s: %w", r.FontPath, err)
	}

	registered := make(map[string]string)
	for _, page := range doc.Pages {
		pdf.AddPage()
		for _, op := range page.Ops {
			switch op.Kind {
			case OpText:
				pdf.SetFont(fontFamily, "", op.Size)
				pdf.Text(op.X, op.Y, op.Text)
			case OpImage:
				name, ok := registered[op.Image]
				if !ok {
					img, found := doc.Images[op.Image]
					if !found {
						return fmt.Errorf("render: image %s was not prepared", op.Image)
					}
					name = "img" + strconv.Itoa(len(registered))
					pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPG"}, bytes.NewReader(img.Data))
					registered[op.Image] = name
				}
				pdf.ImageOptions(name, op.X, op.Y, op.W, op.H, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
			}
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
