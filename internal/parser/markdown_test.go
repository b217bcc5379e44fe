package parser

import (
	"strings"
	"testing"
)

func TestMarkdownParser_LotHierarchy(t *testing.T) {
	input := `# Rénovation salle de bains

Devis valable 3 mois.

## Lot 1 Démolition

Dépose carrelage existant.

### Évacuation

Benne 8 m3.

## Lot 2 Plomberie

Remplacement colonne.
`
	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(input), "devis-sdb.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.Title != "devis-sdb" {
		t.Errorf("expected title from filename, got %q", src.Title)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected 1 top-level section, got %d", len(src.Sections))
	}

	root := src.Sections[0]
	if root.Title != "Rénovation salle de bains" || !strings.Contains(root.Text, "valable 3 mois") {
		t.Errorf("unexpected top section %q: %q", root.Title, root.Text)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(root.Children))
	}

	lot1, lot2 := root.Children[0], root.Children[1]
	if lot1.Title != "Lot 1 Démolition" || lot2.Title != "Lot 2 Plomberie" {
		t.Errorf("unexpected lot titles %q, %q", lot1.Title, lot2.Title)
	}
	if len(lot1.Children) != 1 || lot1.Children[0].Title != "Évacuation" {
		t.Fatalf("expected Évacuation under lot 1, got %+v", lot1.Children)
	}
	if !strings.Contains(lot1.Children[0].Text, "Benne 8 m3.") {
		t.Errorf("unexpected subsection text %q", lot1.Children[0].Text)
	}
	if !strings.Contains(lot2.Text, "Remplacement colonne.") {
		t.Errorf("unexpected lot 2 text %q", lot2.Text)
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := "Fourniture chauffe-eau 200 L.\n\nMain d'oeuvre 4 h."

	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(input), "simple.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected a single section, got %d", len(src.Sections))
	}
	text := src.Sections[0].Text
	for _, want := range []string{"chauffe-eau 200 L.", "Main d'oeuvre 4 h."} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

func TestMarkdownParser_CodeBlockKept(t *testing.T) {
	input := "# Lot 3\n\nRelevé :\n\n```\nPièce 1  12,5 m2\nPièce 2   9,0 m2\n```\n\nTotal surfaces.\n"

	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(input), "releve.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(src.Sections))
	}
	text := src.Sections[0].Text
	if !strings.Contains(text, "Pièce 1  12,5 m2") || !strings.Contains(text, "Total surfaces.") {
		t.Errorf("expected preformatted lines and trailing text, got %q", text)
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 0 {
		t.Errorf("expected no sections, got %d", len(src.Sections))
	}
	if src.Pages != 0 {
		t.Errorf("markdown has no pages, got %d", src.Pages)
	}
}

func TestMarkdownParser_PreambleBeforeFirstHeading(t *testing.T) {
	input := "Entreprise Dupont, devis n°42\n\n# Lot 1 Maçonnerie\n\nChape 20 m2\n"

	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(input), "devis.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 2 {
		t.Fatalf("expected preamble plus one heading, got %d sections", len(src.Sections))
	}
	if src.Sections[0].Title != "" || !strings.Contains(src.Sections[0].Text, "devis n°42") {
		t.Errorf("unexpected preamble section: %+v", src.Sections[0])
	}
	if src.Sections[1].Title != "Lot 1 Maçonnerie" {
		t.Errorf("expected heading section, got %q", src.Sections[1].Title)
	}
}

func TestMarkdownParser_TableRowsStayTogether(t *testing.T) {
	input := "# Lot 2\n\n| Désignation | Qté | PU HT |\n|---|---|---|\n| Carrelage | 3 | 10,00 |\n| Plinthes | 12 | 4,50 |\n"

	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader(input), "devis.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(src.Sections))
	}
	text := src.Sections[0].Text
	for _, want := range []string{"Désignation | Qté | PU HT", "Carrelage | 3 | 10,00", "Plinthes | 12 | 4,50"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

func TestMarkdownParser_ParagraphTextNotDuplicated(t *testing.T) {
	p := &MarkdownParser{}
	src, err := p.Parse(strings.NewReader("Une seule ligne."), "one.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.Sections[0].Text; got != "Une seule ligne." {
		t.Errorf("expected the paragraph once, got %q", got)
	}
}
