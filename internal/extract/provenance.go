package extract

import (
	"strings"
	"unicode"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/parser"
)

// maxMatchRunes bounds the strings compared by the similarity ratio.
const maxMatchRunes = 200

type candidate struct {
	norm    []rune
	page    int
	polygon [8]float64
}

// AttachProvenance gives every line item of doc, sub-items included, the
// polygon and page of the source line that best matches its label and
// description. Items with no match get an empty polygon and page 0.
func AttachProvenance(doc *doctree.Node, lines []parser.Line) *doctree.Node {
	cands := make([]candidate, 0, len(lines))
	for _, l := range lines {
		if norm := normalizeMatch(l.Text); len(norm) > 0 {
			cands = append(cands, candidate{norm: norm, page: l.Page, polygon: l.Polygon})
		}
	}
	arr, ok := doc.Field(devis.FieldLineItems)
	if !ok || !arr.IsArray() {
		return doc
	}
	items := make([]*doctree.Node, 0, arr.Len())
	for _, it := range arr.Items() {
		items = append(items, attach(it, cands))
	}
	return doc.With(devis.FieldLineItems, doctree.NewArray(items...))
}

func attach(n *doctree.Node, cands []candidate) *doctree.Node {
	if !n.IsObject() {
		return n
	}
	key := normalizeMatch(devis.Text(n, devis.FieldLabel) + devis.Text(n, devis.FieldDescription))
	polygon, page := doctree.NewArray(), 0
	if c, ok := bestMatch(key, cands); ok {
		nums := make([]*doctree.Node, len(c.polygon))
		for i, v := range c.polygon {
			nums[i] = doctree.NewNumber(v)
		}
		polygon, page = doctree.NewArray(nums...), c.page
	}
	n = n.With(devis.FieldPolygon, polygon).With(devis.FieldPage, doctree.NewNumber(float64(page)))

	subs := devis.SubItems(n)
	if len(subs) == 0 {
		return n
	}
	out := make([]*doctree.Node, len(subs))
	for i, s := range subs {
		out[i] = attach(s, cands)
	}
	return n.With(devis.FieldSubItems, doctree.NewArray(out...))
}

func bestMatch(key []rune, cands []candidate) (candidate, bool) {
	var best candidate
	bestScore := 0.0
	for _, c := range cands {
		// The ratio can never exceed 2·min/(len a + len b).
		if bound := 2 * float64(min(len(key), len(c.norm))) / float64(len(key)+len(c.norm)); bound <= bestScore {
			continue
		}
		if score := similarity(key, c.norm); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore > 0
}

// normalizeMatch lowercases s and keeps letters and digits only.
func normalizeMatch(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
			if len(out) == maxMatchRunes {
				break
			}
		}
	}
	return out
}

// similarity is 2·LCS/(len a + len b): 1 for equal strings, 0 when they
// share no character in order.
func similarity(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for j := 1; j <= len(b); j++ {
		for i := 1; i <= len(a); i++ {
			if a[i-1] == b[j-1] {
				curr[i] = prev[i-1] + 1
			} else {
				curr[i] = max(prev[i], curr[i-1])
			}
		}
		prev, curr = curr, prev
	}
	return 2 * float64(prev[len(a)]) / float64(len(a)+len(b))
}
