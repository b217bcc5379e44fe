package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Source is a parsed quote file: its text organised in sections, plus the
// positioned text lines used to locate line items on the page when the
// format has a page geometry.
type Source struct {
	Title    string
	Pages    int // 0 when the format has no pages
	Sections []*Section
	Lines    []Line
}

// Section is a recursive part of the source text.
type Section struct {
	Title    string     // Heading (empty for leaf text)
	Text     string     // Text content (may be empty for containers)
	Page     int        // Source page (0 if N/A)
	Children []*Section // Subsections
}

// Line is one visual line of text on a page. Polygon holds the four corners
// (top-left, top-right, bottom-right, bottom-left) in inches from the top-left
// corner of the page.
type Line struct {
	Text    string
	Page    int
	Polygon [8]float64
}

// Parser converts raw file bytes into a Source.
type Parser interface {
	Parse(r io.Reader, filename string) (*Source, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// Options tune parsers that have knobs.
type Options struct {
	PDFFallbackPdftotext bool
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// ContentType is the MIME type a source file is served back with.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// trimExt drops the extension from a filename to form a title.
func trimExt(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// outline builds a section tree from a flat stream of headings and
// paragraphs. A heading nests under the closest preceding heading of a
// lower level.
type outline struct {
	root  *Section
	stack []outlineEntry
	text  strings.Builder
}

type outlineEntry struct {
	node  *Section
	level int
}

func newOutline(title string) *outline {
	root := &Section{Title: title}
	return &outline{root: root, stack: []outlineEntry{{node: root, level: 0}}}
}

func (o *outline) heading(level int, title string) {
	o.flush()
	node := &Section{Title: title}
	for len(o.stack) > 1 && o.stack[len(o.stack)-1].level >= level {
		o.stack = o.stack[:len(o.stack)-1]
	}
	parent := o.stack[len(o.stack)-1].node
	parent.Children = append(parent.Children, node)
	o.stack = append(o.stack, outlineEntry{node: node, level: level})
}

func (o *outline) paragraph(t string) {
	if t == "" {
		return
	}
	if o.text.Len() > 0 {
		o.text.WriteString("\n\n")
	}
	o.text.WriteString(t)
}

func (o *outline) flush() {
	t := strings.TrimSpace(o.text.String())
	if t != "" {
		top := o.stack[len(o.stack)-1].node
		if top.Text != "" {
			top.Text += "\n\n" + t
		} else {
			top.Text = t
		}
	}
	o.text.Reset()
}

// sections closes the outline. Text before the first heading becomes a
// leading untitled section; with no headings at all, everything is one
// section.
func (o *outline) sections() []*Section {
	o.flush()
	out := o.root.Children
	if o.root.Text != "" {
		out = append([]*Section{{Text: o.root.Text}}, out...)
	}
	return out
}
