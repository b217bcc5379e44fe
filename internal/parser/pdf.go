package parser

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"slices"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF quotes. It tries the Go library first, then falls
// back to pdftotext if available. Positioned lines are only produced by the
// Go library.
type PDFParser struct {
	FallbackPdftotext bool
}

// pointsPerInch converts PDF user space to the viewer's inch units.
const pointsPerInch = 72.0

// a4Height is used when a page declares no MediaBox of its own.
const a4Height = 841.89

func (p *PDFParser) Parse(r io.Reader, filename string) (*Source, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "devistree-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	src := &Source{Title: trimExt(filename)}
	pages, lines, err := extractPDF(tmpPath)
	if err != nil && p.FallbackPdftotext {
		var text string
		text, err = extractPdftotext(tmpPath)
		pages = strings.Split(strings.TrimSuffix(text, "\f"), "\f")
		lines = nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	src.Pages = len(pages)
	src.Lines = lines
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		src.Sections = append(src.Sections, &Section{
			Title: fmt.Sprintf("Page %d", i+1),
			Text:  page,
			Page:  i + 1,
		})
	}
	return src, nil
}

// extractPDF returns the text of every page and the positioned lines found
// on them.
func extractPDF(path string) (pages []string, lines []Line, err error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, nil, fmt.Errorf("pdf has no pages")
	}
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pl := pageLines(page, i)
		if len(pl) > 0 {
			var sb strings.Builder
			for _, l := range pl {
				sb.WriteString(l.Text)
				sb.WriteByte('\n')
			}
			pages = append(pages, sb.String())
			lines = append(lines, pl...)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, lines, nil
}

// pageLines groups the glyph runs of a page into visual lines: runs whose
// baselines are within half a font size of each other, ordered left to right.
// Malformed content streams yield no lines.
func pageLines(page pdflib.Page, num int) (out []Line) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	texts := page.Content().Text
	if len(texts) == 0 {
		return nil
	}
	height := pageHeight(page)

	// Top of the page first.
	slices.SortStableFunc(texts, func(a, b pdflib.Text) int {
		return cmp.Compare(b.Y, a.Y)
	})

	var group []pdflib.Text
	emit := func() {
		if l, ok := buildLine(group, num, height); ok {
			out = append(out, l)
		}
		group = group[:0]
	}
	for _, t := range texts {
		if len(group) > 0 && math.Abs(group[0].Y-t.Y) > lineTolerance(group[0], t) {
			emit()
		}
		group = append(group, t)
	}
	emit()
	return out
}

func lineTolerance(a, b pdflib.Text) float64 {
	return math.Max(math.Max(a.FontSize, b.FontSize)/2, 1)
}

func buildLine(runs []pdflib.Text, page int, height float64) (Line, bool) {
	if len(runs) == 0 {
		return Line{}, false
	}
	runs = slices.Clone(runs)
	slices.SortStableFunc(runs, func(a, b pdflib.Text) int {
		return cmp.Compare(a.X, b.X)
	})
	var sb strings.Builder
	x0, x1 := math.Inf(1), math.Inf(-1)
	base, size := runs[0].Y, 0.0
	prevEnd := math.Inf(-1)
	for _, r := range runs {
		if sb.Len() > 0 && r.X-prevEnd > math.Max(r.FontSize, 1)*0.25 {
			sb.WriteByte(' ')
		}
		sb.WriteString(r.S)
		prevEnd = r.X + r.W
		x0 = math.Min(x0, r.X)
		x1 = math.Max(x1, r.X+r.W)
		base = math.Min(base, r.Y)
		size = math.Max(size, r.FontSize)
	}
	text := strings.Join(strings.Fields(sb.String()), " ")
	if text == "" {
		return Line{}, false
	}
	top := (height - base - size) / pointsPerInch
	bottom := (height - base) / pointsPerInch
	left := x0 / pointsPerInch
	right := x1 / pointsPerInch
	return Line{
		Text:    text,
		Page:    page,
		Polygon: [8]float64{left, top, right, top, right, bottom, left, bottom},
	}, true
}

func pageHeight(page pdflib.Page) float64 {
	box := page.V.Key("MediaBox")
	if box.Len() == 4 {
		if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
			return h
		}
	}
	return a4Height
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}
