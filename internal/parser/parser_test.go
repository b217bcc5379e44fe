package parser

import (
	"fmt"
	"strings"
	"testing"
)

func TestForFile(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"devis.pdf", "*parser.PDFParser"},
		{"DEVIS.PDF", "*parser.PDFParser"},
		{"devis.docx", "*parser.DOCXParser"},
		{"devis.htm", "*parser.HTMLParser"},
		{"devis.markdown", "*parser.MarkdownParser"},
		{"devis.csv", "*parser.CSVParser"},
		{"devis.txt", "*parser.TextParser"},
	}
	for _, tt := range tests {
		p, err := ForFile(tt.filename, Options{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.filename, err)
		}
		if got := fmt.Sprintf("%T", p); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.filename, tt.want, got)
		}
	}

	if _, err := ForFile("devis.xlsx", Options{}); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if IsSupportedExtension("devis.xlsx") {
		t.Error("xlsx should not be supported")
	}
}

func TestForFile_PDFOptions(t *testing.T) {
	p, err := ForFile("devis.pdf", Options{PDFFallbackPdftotext: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.(*PDFParser).FallbackPdftotext {
		t.Error("expected fallback option to be carried")
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a.PDF"); got != "application/pdf" {
		t.Errorf("got %q", got)
	}
	if got := ContentType("a.unknown"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("got %q", got)
	}
}

func TestCSVParser_SemicolonExport(t *testing.T) {
	input := "Désignation;Quantité;PU HT\nChape;20;100,00\nSable;40;8,00\n"
	p := &CSVParser{}
	src, err := p.Parse(strings.NewReader(input), "devis.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(src.Sections))
	}
	text := src.Sections[0].Text
	if !strings.Contains(text, "Chape | 20 | 100,00") {
		t.Errorf("expected row cells joined, got %q", text)
	}
	if !strings.HasPrefix(text, "Désignation | Quantité | PU HT") {
		t.Errorf("expected header first, got %q", text)
	}
	if src.Sections[0].Title != "Rows 2-3" {
		t.Errorf("unexpected title %q", src.Sections[0].Title)
	}
}

func TestCSVParser_Batches(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("a,b\n")
	for i := 0; i < csvBatchSize+5; i++ {
		sb.WriteString("x,1\n")
	}
	p := &CSVParser{}
	src, err := p.Parse(strings.NewReader(sb.String()), "big.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(src.Sections))
	}
}

func TestHTMLParser_HeadingsAndTables(t *testing.T) {
	input := `<html><head><title>Devis 42</title><style>p{}</style></head><body>
<h1>Lot 1</h1>
<p>Travaux de   maçonnerie</p>
<table>
<tr><th>Désignation</th><th>Qté</th></tr>
<tr><td>Chape</td><td>20</td></tr>
</table>
<h2>Options</h2>
<ul><li>Sable</li></ul>
<script>ignored()</script>
</body></html>`

	p := &HTMLParser{}
	src, err := p.Parse(strings.NewReader(input), "devis.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Title != "Devis 42" {
		t.Errorf("expected <title>, got %q", src.Title)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected 1 top-level section, got %d", len(src.Sections))
	}
	lot := src.Sections[0]
	for _, want := range []string{"Travaux de maçonnerie", "Désignation | Qté", "Chape | 20"} {
		if !strings.Contains(lot.Text, want) {
			t.Errorf("expected %q in %q", want, lot.Text)
		}
	}
	if len(lot.Children) != 1 || lot.Children[0].Title != "Options" {
		t.Fatalf("expected nested Options section, got %+v", lot.Children)
	}
	if strings.Contains(lot.Children[0].Text, "ignored") {
		t.Error("script content leaked into text")
	}
}
