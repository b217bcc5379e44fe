// Package devis holds the vocabulary of a structured construction quote:
// field names, the totals that carry issue messages, the empty line item
// and the display helpers shared by the editor, the validator and the CLI.
package devis

import (
	"fmt"

	"github.com/dgallion1/devistree/internal/doctree"
)

// Line item fields.
const (
	FieldID          = "_uuid"
	FieldLabel       = "label"
	FieldDescription = "description"
	FieldQuantity    = "quantite"
	FieldUnit        = "unitee_quantite"
	FieldUnitPrice   = "price_unitaire_ht"
	FieldTotalHT     = "price_total_ht"
	FieldVAT         = "tva"
	FieldEco         = "eco_participation"
	FieldSubItems    = "sous_produits"
	FieldLot         = "lot"
	FieldPolygon     = "polygon"
	FieldPage        = "page"
	FieldIssue       = "issue"
)

// Document-level fields.
const (
	FieldLineItems  = "devis_produits"
	FieldTotalHTDoc = "devis_total_ht"
	FieldTotalTTC   = "devis_total_ttc"
	FieldTotalVAT   = "devis_total_tva"
	FieldTotalEco   = "devis_eco_participation"

	FieldIssueHT    = "issue_ht"
	FieldIssueTTC   = "issue_ttc"
	FieldIssueVAT   = "issue_tva"
	FieldIssueExtra = "issue_additional_cost"
)

// DefaultVAT is the rate given to freshly appended line items.
const DefaultVAT = "TVA 20%"

// VATRates maps the categorical tax labels to their rate.
var VATRates = map[string]float64{
	"TVA 20%":  0.20,
	"TVA 10%":  0.10,
	"TVA 5.5%": 0.055,
	"TVA 2.1%": 0.021,
	"TVA 0%":   0.0,
}

// TotalIssueFields maps each known document total to the root field holding
// its validation message.
var TotalIssueFields = map[string]string{
	FieldTotalHTDoc: FieldIssueHT,
	FieldTotalTTC:   FieldIssueTTC,
	FieldTotalVAT:   FieldIssueVAT,
	FieldTotalEco:   FieldIssueExtra,
}

// HiddenFields are bookkeeping fields the tree renderer never shows as
// editable rows.
var HiddenFields = map[string]bool{
	FieldID:      true,
	FieldPolygon: true,
	FieldPage:    true,
	FieldIssue:   true,
}

// NewLineItem returns an empty line item carrying the given identifier: all
// numbers zero, no lot, no issue marker, no provenance.
func NewLineItem(id string) *doctree.Node {
	return doctree.NewObject(
		doctree.Field{Key: FieldID, Value: doctree.NewString(id)},
		doctree.Field{Key: FieldLabel, Value: doctree.NewString("")},
		doctree.Field{Key: FieldDescription, Value: doctree.NewString("")},
		doctree.Field{Key: FieldQuantity, Value: doctree.NewNumber(0)},
		doctree.Field{Key: FieldUnit, Value: doctree.NewNull()},
		doctree.Field{Key: FieldUnitPrice, Value: doctree.NewNumber(0)},
		doctree.Field{Key: FieldVAT, Value: doctree.NewString(DefaultVAT)},
		doctree.Field{Key: FieldEco, Value: doctree.NewNumber(0)},
		doctree.Field{Key: FieldSubItems, Value: doctree.NewArray()},
		doctree.Field{Key: FieldLot, Value: doctree.NewString("")},
	)
}

// ID returns the stable identifier of a node, if it has a usable one.
func ID(n *doctree.Node) (string, bool) {
	v, ok := n.Field(FieldID)
	if !ok {
		return "", false
	}
	s, ok := v.Text()
	return s, ok && s != ""
}

// Number reads a numeric field, treating anything else as zero.
func Number(n *doctree.Node, key string) float64 {
	v, _ := n.Field(key)
	f, _ := v.Float()
	return f
}

// Text reads a string field, treating anything else as empty.
func Text(n *doctree.Node, key string) string {
	v, _ := n.Field(key)
	s, _ := v.Text()
	return s
}

// SubItems returns the children of a line item. A missing or malformed
// collection yields no children.
func SubItems(n *doctree.Node) []*doctree.Node {
	v, ok := n.Field(FieldSubItems)
	if !ok || !v.IsArray() {
		return nil
	}
	return v.Items()
}

// OwnIssue returns the item's own issue marker.
func OwnIssue(n *doctree.Node) (string, bool) {
	s := Text(n, FieldIssue)
	return s, s != ""
}

// DisplayTotal is the amount shown in a line item's header: an explicit
// total when present, otherwise unit price × quantity + eco participation.
// A missing quantity counts as 1.
func DisplayTotal(n *doctree.Node) float64 {
	if v, ok := n.Field(FieldTotalHT); ok {
		if f, ok := v.Float(); ok {
			return f
		}
	}
	qty := 1.0
	if v, ok := n.Field(FieldQuantity); ok {
		if f, ok := v.Float(); ok {
			qty = f
		}
	}
	return Number(n, FieldUnitPrice)*qty + Number(n, FieldEco)
}

// RowLabel is the header text of the i-th item of a collection.
func RowLabel(n *doctree.Node, i int) string {
	if !n.IsObject() {
		return fmt.Sprintf("Produit %d", i)
	}
	label := Text(n, FieldLabel)
	if label == "" {
		label = fmt.Sprintf("Produit %d", i)
	}
	return fmt.Sprintf("%s — %.2f € — %d SP", label, DisplayTotal(n), len(SubItems(n)))
}
