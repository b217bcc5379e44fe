package extract

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// vatSteps lists the known rates in percent with their labels.
var vatSteps = []struct {
	pct   float64
	label string
}{
	{20, "TVA 20%"},
	{10, "TVA 10%"},
	{5.5, "TVA 5.5%"},
	{2.1, "TVA 2.1%"},
	{0, "TVA 0%"},
}

// NormalizeVAT maps whatever the model wrote for a tax rate ("20%", "TVA_20",
// 0.2, "5,5 %") onto one of the known labels. Unrecognized values get the
// default rate.
func NormalizeVAT(v *doctree.Node) string {
	var pct float64
	switch v.Kind() {
	case doctree.Number:
		pct, _ = v.Float()
	case doctree.String:
		s, _ := v.Text()
		if _, ok := devis.VATRates[s]; ok {
			return s
		}
		f, ok := firstNumber(strings.ReplaceAll(s, "_", "."))
		if !ok {
			return devis.DefaultVAT
		}
		pct = f
	default:
		return devis.DefaultVAT
	}
	if pct > 0 && pct < 1 {
		pct *= 100
	}
	for _, step := range vatSteps {
		if math.Abs(step.pct-pct) < 0.05 {
			return step.label
		}
	}
	return devis.DefaultVAT
}

// firstNumber reads the first decimal number of s, accepting a comma or a
// point as decimal separator.
func firstNumber(s string) (float64, bool) {
	start := strings.IndexFunc(s, unicode.IsDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == ',' || s[end] == '.') {
		end++
	}
	num := strings.TrimRight(strings.ReplaceAll(s[start:end], ",", "."), ".")
	f, err := strconv.ParseFloat(num, 64)
	return f, err == nil
}

// ParseAmount reads a French or English formatted amount: "1 234,56 €",
// "1,234.56", "12.5". White space, including non-breaking spaces, and the
// euro sign are ignored.
func ParseAmount(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '€' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}
	comma, dot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberOf(v *doctree.Node) (float64, bool) {
	switch v.Kind() {
	case doctree.Number:
		return v.Float()
	case doctree.String:
		s, _ := v.Text()
		return ParseAmount(s)
	}
	return 0, false
}

func textOf(v *doctree.Node) string {
	switch v.Kind() {
	case doctree.String:
		s, _ := v.Text()
		return strings.TrimSpace(s)
	case doctree.Number:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// SanitizeItem rebuilds one extracted line item with the known fields only,
// in canonical order and with coerced types. Items with neither text, price
// nor children are rejected. Bookkeeping fields already present (identifier,
// provenance, issue) are kept when well typed.
func SanitizeItem(n *doctree.Node) (*doctree.Node, bool) {
	if !n.IsObject() {
		return nil, false
	}
	field := func(k string) *doctree.Node { v, _ := n.Field(k); return v }

	label := textOf(field(devis.FieldLabel))
	desc := textOf(field(devis.FieldDescription))
	qty, ok := numberOf(field(devis.FieldQuantity))
	if !ok {
		qty = 1
	}
	pu, _ := numberOf(field(devis.FieldUnitPrice))

	var subs []*doctree.Node
	for _, c := range devis.SubItems(n) {
		if s, ok := SanitizeItem(c); ok {
			subs = append(subs, s)
		}
	}
	if label == "" && desc == "" && pu == 0 && len(subs) == 0 {
		return nil, false
	}
	if label == "" {
		label = firstLine(desc)
	}

	unit := doctree.NewNull()
	if u := textOf(field(devis.FieldUnit)); u != "" {
		unit = doctree.NewString(u)
	}
	eco := doctree.NewNull()
	if f, ok := numberOf(field(devis.FieldEco)); ok {
		eco = doctree.NewNumber(f)
	}

	fields := make([]doctree.Field, 0, 14)
	if id, ok := devis.ID(n); ok {
		fields = append(fields, doctree.Field{Key: devis.FieldID, Value: doctree.NewString(id)})
	}
	fields = append(fields,
		doctree.Field{Key: devis.FieldLabel, Value: doctree.NewString(label)},
		doctree.Field{Key: devis.FieldDescription, Value: doctree.NewString(desc)},
		doctree.Field{Key: devis.FieldQuantity, Value: doctree.NewNumber(qty)},
		doctree.Field{Key: devis.FieldUnit, Value: unit},
		doctree.Field{Key: devis.FieldUnitPrice, Value: doctree.NewNumber(pu)},
	)
	if f, ok := numberOf(field(devis.FieldTotalHT)); ok {
		fields = append(fields, doctree.Field{Key: devis.FieldTotalHT, Value: doctree.NewNumber(f)})
	}
	fields = append(fields,
		doctree.Field{Key: devis.FieldVAT, Value: doctree.NewString(NormalizeVAT(field(devis.FieldVAT)))},
		doctree.Field{Key: devis.FieldEco, Value: eco},
		doctree.Field{Key: devis.FieldSubItems, Value: doctree.NewArray(subs...)},
		doctree.Field{Key: devis.FieldLot, Value: doctree.NewString(textOf(field(devis.FieldLot)))},
	)
	if poly := field(devis.FieldPolygon); poly.IsArray() {
		fields = append(fields,
			doctree.Field{Key: devis.FieldPolygon, Value: poly},
			doctree.Field{Key: devis.FieldPage, Value: doctree.NewNumber(devis.Number(n, devis.FieldPage))},
		)
	}
	if issue, ok := devis.OwnIssue(n); ok {
		fields = append(fields, doctree.Field{Key: devis.FieldIssue, Value: doctree.NewString(issue)})
	}
	return doctree.NewObject(fields...), true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80])
	}
	return strings.TrimSpace(s)
}

// SanitizeDocument rebuilds a raw extraction as a well-formed quote: the
// product list plus the four declared totals. Totals the model could not
// read are 0, the eco participation stays null.
func SanitizeDocument(raw *doctree.Node) *doctree.Node {
	var items []*doctree.Node
	if arr, ok := raw.Field(devis.FieldLineItems); ok {
		for _, it := range arr.Items() {
			if s, ok := SanitizeItem(it); ok {
				items = append(items, s)
			}
		}
	}
	total := func(k string) *doctree.Node {
		v, _ := raw.Field(k)
		f, _ := numberOf(v)
		return doctree.NewNumber(f)
	}
	eco := doctree.NewNull()
	if v, ok := raw.Field(devis.FieldTotalEco); ok {
		if f, ok := numberOf(v); ok {
			eco = doctree.NewNumber(f)
		}
	}
	return doctree.NewObject(
		doctree.Field{Key: devis.FieldTotalHTDoc, Value: total(devis.FieldTotalHTDoc)},
		doctree.Field{Key: devis.FieldTotalTTC, Value: total(devis.FieldTotalTTC)},
		doctree.Field{Key: devis.FieldTotalVAT, Value: total(devis.FieldTotalVAT)},
		doctree.Field{Key: devis.FieldTotalEco, Value: eco},
		doctree.Field{Key: devis.FieldLineItems, Value: doctree.NewArray(items...)},
	)
}

// MergeExtractions joins the partial quotes extracted from consecutive
// chunks: products are concatenated in chunk order and, for each declared
// total, the last chunk that read one wins.
func MergeExtractions(parts []*doctree.Node) *doctree.Node {
	var items []*doctree.Node
	totals := map[string]*doctree.Node{}
	for _, p := range parts {
		if !p.IsObject() {
			continue
		}
		if arr, ok := p.Field(devis.FieldLineItems); ok {
			items = append(items, arr.Items()...)
		}
		for _, k := range []string{devis.FieldTotalHTDoc, devis.FieldTotalTTC, devis.FieldTotalVAT, devis.FieldTotalEco} {
			if v, ok := p.Field(k); ok && v.Kind() != doctree.Null {
				totals[k] = v
			}
		}
	}
	fields := []doctree.Field{{Key: devis.FieldLineItems, Value: doctree.NewArray(items...)}}
	for _, k := range []string{devis.FieldTotalHTDoc, devis.FieldTotalTTC, devis.FieldTotalVAT, devis.FieldTotalEco} {
		if v, ok := totals[k]; ok {
			fields = append(fields, doctree.Field{Key: k, Value: v})
		}
	}
	return doctree.NewObject(fields...)
}
