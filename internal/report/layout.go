package report

import (
	"fmt"
	"strconv"

	"github.com/msageha/nestcheck/internal/model"
)

// Geometry is the page model in millimetres. Y grows downward from the top
// edge.
type Geometry struct {
	PageW     float64
	PageH     float64
	Margin    float64
	BreakLine float64 // distance of the text break line from the bottom edge
	PhotoGap  float64
}

// A4 is the geometry every report is laid out on.
func A4() Geometry {
	return Geometry{PageW: 210, PageH: 297, Margin: 12, BreakLine: 40, PhotoGap: 8}
}

type OpKind int

const (
	OpText OpKind = iota
	OpImage
)

// Op is one placement on a page. Text ops are positioned at their baseline,
// image ops at their top-left corner.
type Op struct {
	Kind  OpKind
	X     float64
	Y     float64
	Size  float64
	Text  string
	W     float64
	H     float64
	Image string
}

type Page struct {
	Ops []Op
}

// Document is the fully laid out report, independent of the PDF backend.
type Document struct {
	Title  string
	Pages  []Page
	Images map[string]PreparedImage
}

const (
	lineStep      = 5.0
	bodySize      = 10.0
	headingSize   = 14.0
	itemsSize     = 12.0
	blockSize     = 11.0
	photoHeadSize = 12.0
	itemIndent    = 5.0
	detailIndent  = 10.0
	criticalTag   = " [CRIT]"
)

type layouter struct {
	g   Geometry
	doc *Document
	y   float64
}

func (l *layouter) newPage() {
	l.doc.Pages = append(l.doc.Pages, Page{})
	l.y = l.g.Margin
}

func (l *layouter) text(x, size, advance float64, s string) {
	p := &l.doc.Pages[len(l.doc.Pages)-1]
	p.Ops = append(p.Ops, Op{Kind: OpText, X: x, Y: l.y, Size: size, Text: s})
	l.y += advance
}

func (l *layouter) image(x, w, h float64, key string) {
	p := &l.doc.Pages[len(l.doc.Pages)-1]
	p.Ops = append(p.Ops, Op{Kind: OpImage, X: x, Y: l.y, W: w, H: h, Image: key})
	l.y += h + l.g.PhotoGap
}

// fits reports whether h more millimetres stay above the break line.
func (l *layouter) fits(h float64) bool {
	return l.y+h <= l.g.PageH-l.g.BreakLine
}

// Layout places the report in a single pass. An item's lines, and a block
// title together with its first item, always share a page. Every photo
// referenced by the report must be present in images.
func Layout(r *model.Report, images map[string]PreparedImage, g Geometry) Document {
	doc := Document{
		Title:  "CNC Checklist Report " + r.Order,
		Images: images,
	}
	l := &layouter{g: g, doc: &doc}
	m := g.Margin

	l.newPage()
	l.text(m, headingSize, 8, "CNC Checklist Report - Nesting")
	l.text(m, bodySize, 6, fmt.Sprintf("Order: %s    Operator: %s", r.Order, r.Operator))
	l.text(m, bodySize, 6, fmt.Sprintf("Started: %s    Completed: %s", r.StartedAt, r.CompletedAt))
	l.text(m, bodySize, 8, fmt.Sprintf("Checklist version: %s    Seq: %d", r.Version, r.Seq))
	l.text(m, itemsSize, 6, "Items:")

	for _, b := range r.Blocks {
		if len(b.Items) == 0 {
			if !l.fits(lineStep) {
				l.newPage()
			}
			l.text(m, blockSize, lineStep, b.Title)
			continue
		}
		for i := range b.Items {
			lines := itemLines(&b.Items[i])
			need := float64(len(lines)) * lineStep
			if i == 0 {
				need += lineStep
			}
			if !l.fits(need) {
				l.newPage()
			}
			if i == 0 {
				l.text(m, blockSize, lineStep, b.Title)
			}
			for j, line := range lines {
				x := m + detailIndent
				if j == 0 {
					x = m + itemIndent
				}
				l.text(x, bodySize, lineStep, line)
			}
		}
	}

	usableW := g.PageW - 2*m
	usableH := g.PageH - 2*m
	for _, b := range r.Blocks {
		var photos []string
		for _, it := range b.Items {
			photos = append(photos, it.Photos...)
		}
		if len(photos) == 0 {
			continue
		}
		l.newPage()
		l.text(m, photoHeadSize, 10, "Photos - "+b.Title)
		for _, p := range photos {
			img := images[p]
			if img.Width <= 0 || img.Height <= 0 {
				continue
			}
			w := usableW
			h := w * float64(img.Height) / float64(img.Width)
			if h > usableH {
				h = usableH
				w = h * float64(img.Width) / float64(img.Height)
			}
			if l.y+h > g.PageH-m {
				l.newPage()
			}
			l.image(m, w, h, p)
		}
	}
	return doc
}

func itemLines(it *model.Item) []string {
	crit := ""
	if it.Critical {
		crit = criticalTag
	}
	lines := []string{
		fmt.Sprintf("%s %s%s  %s", it.ID, it.Status.Glyph(), crit, it.Text),
		fmt.Sprintf("Start: %s  End: %s  Duration: %s", orDash(it.StartedAt), orDash(it.CompletedAt), durationText(it.DurationSec)),
	}
	if it.Note != "" {
		lines = append(lines, "Note: "+it.Note)
	}
	if it.BypassedBy != nil {
		lines = append(lines, "Critical bypass: "+*it.BypassedBy)
	}
	return lines
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func durationText(d *int) string {
	if d == nil {
		return "-"
	}
	return strconv.Itoa(*d) + " s"
}
