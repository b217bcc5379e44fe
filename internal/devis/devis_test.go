package devis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/devistree/internal/doctree"
)

func item(t *testing.T, s string) *doctree.Node {
	t.Helper()
	n, err := doctree.DecodeDocument([]byte(s))
	require.NoError(t, err)
	return n
}

func TestNewLineItem(t *testing.T) {
	n := NewLineItem("abc")

	id, ok := ID(n)
	require.True(t, ok)
	assert.Equal(t, "abc", id)
	assert.Equal(t, 0.0, DisplayTotal(n))
	assert.Equal(t, DefaultVAT, Text(n, FieldVAT))
	assert.Empty(t, Text(n, FieldLot))
	assert.Empty(t, SubItems(n))

	_, hasIssue := n.Field(FieldIssue)
	assert.False(t, hasIssue)
	_, hasPoly := n.Field(FieldPolygon)
	assert.False(t, hasPoly)

	unit, _ := n.Field(FieldUnit)
	assert.Equal(t, doctree.Null, unit.Kind())
}

func TestDisplayTotal(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
	}{
		{"unit price times quantity", `{"quantite":20,"price_unitaire_ht":100}`, 2000},
		{"eco participation added", `{"quantite":2,"price_unitaire_ht":10,"eco_participation":1.5}`, 21.5},
		{"explicit total wins", `{"quantite":2,"price_unitaire_ht":10,"price_total_ht":99}`, 99},
		{"missing quantity counts as one", `{"price_unitaire_ht":12}`, 12},
		{"non-numeric fields are zero", `{"quantite":"x","price_unitaire_ht":"y"}`, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, DisplayTotal(item(t, tc.doc)), 1e-9)
		})
	}
}

func TestRowLabel(t *testing.T) {
	n := item(t, `{"label":"Chape","quantite":20,"price_unitaire_ht":100,"sous_produits":[{},{}]}`)
	assert.Equal(t, "Chape — 2000.00 € — 2 SP", RowLabel(n, 0))

	anon := item(t, `{"quantite":1,"price_unitaire_ht":3}`)
	assert.Equal(t, "Produit 4 — 3.00 € — 0 SP", RowLabel(anon, 4))

	assert.Equal(t, "Produit 1", RowLabel(doctree.NewNumber(1), 1))
}

func TestSubItems_MalformedIsEmpty(t *testing.T) {
	assert.Empty(t, SubItems(item(t, `{"sous_produits":"oops"}`)))
	assert.Empty(t, SubItems(item(t, `{}`)))
	assert.Len(t, SubItems(item(t, `{"sous_produits":[{}]}`)), 1)
}

func TestID_RequiresNonEmptyString(t *testing.T) {
	_, ok := ID(item(t, `{"_uuid":""}`))
	assert.False(t, ok)
	_, ok = ID(item(t, `{"_uuid":7}`))
	assert.False(t, ok)
	_, ok = ID(doctree.NewArray())
	assert.False(t, ok)
}

func TestTotalIssueFields(t *testing.T) {
	assert.Equal(t, FieldIssueHT, TotalIssueFields[FieldTotalHTDoc])
	assert.Equal(t, FieldIssueExtra, TotalIssueFields[FieldTotalEco])
	assert.Len(t, TotalIssueFields, 4)
}
