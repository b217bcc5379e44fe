package extract

import (
	"fmt"
	"math"
	"strings"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// Tolerance is the largest difference between a declared and a computed
// amount that still counts as coherent.
const Tolerance = 0.1

// IncoherenceKind classifies a price-check error.
type IncoherenceKind string

const (
	KindProductHT  IncoherenceKind = "product_ht_mismatch"
	KindTotalHT    IncoherenceKind = "total_ht_mismatch"
	KindTotalVAT   IncoherenceKind = "total_tva_mismatch"
	KindTotalTTC   IncoherenceKind = "total_ttc_mismatch"
	KindTotalExtra IncoherenceKind = "total_extra_cost_mismatch"
)

// CheckError is one inconsistency. Path addresses the offending node; it is
// empty for document totals.
type CheckError struct {
	Path string          `json:"path" yaml:"path"`
	Kind IncoherenceKind `json:"kind" yaml:"kind"`
	Log  string          `json:"log" yaml:"log"`
}

// Report is the outcome of CheckDevis.
type Report struct {
	ComputedTotalHT    float64      `json:"computed_total_ht" yaml:"computed_total_ht"`
	ComputedTotalTVA   float64      `json:"computed_total_tva" yaml:"computed_total_tva"`
	ComputedTotalTTC   float64      `json:"computed_total_ttc" yaml:"computed_total_ttc"`
	ComputedTotalExtra float64      `json:"computed_total_cout_additionnel" yaml:"computed_total_cout_additionnel"`
	Logs               []string     `json:"logs" yaml:"logs"`
	Errors             []CheckError `json:"errors" yaml:"errors"`
}

// OK reports whether no inconsistency was found.
func (r Report) OK() bool { return len(r.Errors) == 0 }

type totals struct {
	ht, tva float64
}

func (t totals) ttc() float64 { return round2(t.ht + t.tva) }

func round2(f float64) float64 { return math.Round(f*100) / 100 }

func isClose(a, b float64) bool { return math.Abs(a-b) <= Tolerance }

type checker struct {
	logs   []string
	errors []CheckError
}

func (c *checker) logf(format string, args ...any) {
	c.logs = append(c.logs, fmt.Sprintf(format, args...))
}

func (c *checker) fail(path doctree.Path, kind IncoherenceKind, msg string) {
	c.errors = append(c.errors, CheckError{Path: path.String(), Kind: kind, Log: msg})
	c.logs = append(c.logs, msg)
}

// CheckDevis recomputes the HT, TVA and TTC of a quote from its line items
// and compares them with what the quote declares. Container items whose
// declared HT disagrees with the sum of their sub-items get an issue marker,
// and so do the document totals that disagree with the computed ones.
// Markers that no longer apply are cleared. Leaf items keep their marker
// untouched.
//
// The input is not modified; the returned document shares every subtree
// that needed no change.
func CheckDevis(doc *doctree.Node) (*doctree.Node, Report) {
	c := &checker{logs: []string{"📑 Démarrage de la vérification des prix pour le devis :"}}
	root := doc

	var sum totals
	extra := 0.0
	itemsPath := doctree.Path{}.Key(devis.FieldLineItems)
	if arr, ok := doc.Field(devis.FieldLineItems); ok && arr.IsArray() {
		out := arr
		for i, it := range arr.Items() {
			checked, t, x := c.item(it, "", itemsPath.Index(i), 0)
			sum.ht += t.ht
			sum.tva += t.tva
			extra += x
			if checked != it {
				out = doctree.Set(out, doctree.Path{doctree.IndexStep(i)}, checked)
			}
		}
		if out != arr {
			root = root.With(devis.FieldLineItems, out)
		}
	}
	sum.ht, sum.tva = round2(sum.ht), round2(sum.tva)
	extra = round2(extra)

	declaredEco := devis.Number(doc, devis.FieldTotalEco)
	c.logf("🔍 Coût additionnel total déclaré = %.2f", declaredEco)
	c.logf("🧮 Coût additionnel total calculé = %.2f", extra)
	if !isClose(declaredEco, extra) {
		msg := fmt.Sprintf("❌ Écart coût additionnel total : déclaré %.2f ↔ calculé %.2f", declaredEco, extra)
		root = setIssue(root, devis.FieldIssueExtra, msg)
		c.fail(nil, KindTotalExtra, msg)
	} else {
		root = setIssue(root, devis.FieldIssueExtra, "")
		c.logf("✅ Coût additionnel total cohérent")
	}
	if declaredEco != 0 {
		sum.ht = round2(sum.ht + declaredEco)
	}

	c.logf("🏁 HT total calculé du devis = %.2f", sum.ht)
	c.logf("🏁 TVA totale calculée du devis = %.2f", sum.tva)
	c.logf("🏁 TTC total calculé du devis = %.2f", sum.ttc())

	root = c.global(root, "HT", devis.FieldTotalHTDoc, devis.FieldIssueHT, KindTotalHT, sum.ht)
	root = c.global(root, "TVA", devis.FieldTotalVAT, devis.FieldIssueVAT, KindTotalVAT, sum.tva)
	root = c.global(root, "TTC", devis.FieldTotalTTC, devis.FieldIssueTTC, KindTotalTTC, sum.ttc())

	return root, Report{
		ComputedTotalHT:    sum.ht,
		ComputedTotalTVA:   sum.tva,
		ComputedTotalTTC:   sum.ttc(),
		ComputedTotalExtra: extra,
		Logs:               c.logs,
		Errors:             c.errors,
	}
}

// item checks one line item and returns it (possibly with a new issue
// marker), its HT/TVA contribution and its additional costs.
func (c *checker) item(n *doctree.Node, parent string, path doctree.Path, level int) (*doctree.Node, totals, float64) {
	indent := indentOf(level)
	label := parent + devis.Text(n, devis.FieldLabel)
	declared := round2(devis.Number(n, devis.FieldUnitPrice) * devis.Number(n, devis.FieldQuantity))
	vat := devis.Text(n, devis.FieldVAT)
	rate, known := devis.VATRates[vat]
	if !known && n.IsObject() {
		c.logf("%s⚠️  TVA inconnue %q pour « %s », taux 0 appliqué", indent, vat, label)
	}
	extra := devis.Number(n, devis.FieldEco)

	subs := devis.SubItems(n)
	if len(subs) == 0 {
		t := totals{ht: declared, tva: round2(declared * rate)}
		c.logf("%s📋 Feuille « %s » : HT = %.2f, TVA = %.2f", indent, label, t.ht, t.tva)
		return n, t, extra
	}

	c.logf("%s🔽 Entrée dans « %s » (HT déclaré = %.2f)", indent, label, declared)
	var branch totals
	extraBranch := extra
	subsPath := path.Key(devis.FieldSubItems)
	arr, _ := n.Field(devis.FieldSubItems)
	out := arr
	for i, s := range subs {
		checked, t, x := c.item(s, label+" > ", subsPath.Index(i), level+1)
		branch.ht += t.ht
		branch.tva += t.tva
		extraBranch += x
		if checked != s {
			out = doctree.Set(out, doctree.Path{doctree.IndexStep(i)}, checked)
		}
	}
	if out != arr {
		n = n.With(devis.FieldSubItems, out)
	}
	branch.ht, branch.tva = round2(branch.ht), round2(branch.tva)

	if branch.ht == 0 && branch.tva == 0 {
		c.logf("%sℹ️  Somme enfants = 0 € HT et 0 € TVA → on valide « %s » avec HT déclaré (%.2f)", indent, label, declared)
		return setIssue(n, devis.FieldIssue, ""), totals{ht: declared, tva: round2(declared * rate)}, extraBranch
	}

	switch {
	case declared == 0:
		c.logf("%sℹ️  HT parent « %s » = 0 € → on prend la somme des enfants (%.2f)", indent, label, branch.ht)
		n = setIssue(n, devis.FieldIssue, "")
	case !isClose(declared, branch.ht):
		msg := fmt.Sprintf("❌ Écart HT à « %s » : déclaré %.2f ↔ somme enfants %.2f", label, declared, branch.ht)
		n = setIssue(n, devis.FieldIssue, msg)
		c.fail(path, KindProductHT, indent+msg)
	default:
		c.logf("%s✅ HT cohérent pour « %s »", indent, label)
		n = setIssue(n, devis.FieldIssue, "")
	}
	c.logf("%s💶 TVA cumulée enfants = %.2f (conteneur TVA ignorée)", indent, branch.tva)
	c.logf("%s🔼 Sortie de « %s »", indent, label)

	ht := branch.ht
	if ht == 0 {
		ht = declared
	}
	return n, totals{ht: ht, tva: branch.tva}, extraBranch
}

func (c *checker) global(root *doctree.Node, name, field, issueField string, kind IncoherenceKind, computed float64) *doctree.Node {
	declared := devis.Number(root, field)
	c.logf("🔍 %s déclaré = %.2f", name, declared)
	if !isClose(declared, computed) {
		msg := fmt.Sprintf("❌ Écart %s global : déclaré %.2f ↔ calculé %.2f", name, declared, computed)
		c.fail(nil, kind, msg)
		return setIssue(root, issueField, msg)
	}
	c.logf("✅ %s global cohérent", name)
	return setIssue(root, issueField, "")
}

// setIssue stores msg under key, or clears the marker when msg is empty. A
// marker that is absent stays absent when cleared, and an unchanged marker
// returns n itself.
func setIssue(n *doctree.Node, key, msg string) *doctree.Node {
	cur, present := n.Field(key)
	if msg == "" {
		if !present || cur.Kind() == doctree.Null {
			return n
		}
		return n.With(key, doctree.NewNull())
	}
	if s, ok := cur.Text(); ok && s == msg {
		return n
	}
	return n.With(key, doctree.NewString(msg))
}

func indentOf(level int) string { return strings.Repeat("    ", level) }
