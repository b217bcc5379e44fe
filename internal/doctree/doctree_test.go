package doctree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleDoc = `{
	"devis_total_ht": 5000,
	"devis_produits": [
		{"label": "Chape", "quantite": 20, "price_unitaire_ht": 100,
		 "sous_produits": [{"label": "Sable", "quantite": 40, "price_unitaire_ht": 8}]},
		{"label": "Carrelage", "quantite": 3, "price_unitaire_ht": 10}
	]
}`

func mustDecode(t *testing.T, s string) *Node {
	t.Helper()
	n, err := DecodeDocument([]byte(s))
	require.NoError(t, err)
	return n
}

func TestParsePath_Steps(t *testing.T) {
	p := ParsePath("devis_produits[0].sous_produits[2]")
	require.Len(t, p, 4)
	assert.Equal(t, KeyStep("devis_produits"), p[0])
	assert.Equal(t, IndexStep(0), p[1])
	assert.Equal(t, KeyStep("sous_produits"), p[2])
	assert.Equal(t, IndexStep(2), p[3])
}

func TestParsePath_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"devis_total_ht",
		"devis_produits[0]",
		"devis_produits[0].sous_produits[2].quantite",
		"[3].label",
		"a.b.c",
	} {
		t.Run(s, func(t *testing.T) {
			assert.Equal(t, s, ParsePath(s).String())
		})
	}
}

func TestParsePath_DiscardsEmptyTokens(t *testing.T) {
	assert.Equal(t, "a[1].b", ParsePath("..a[1]..b.").String())
}

func TestParsePath_NonNumericBracketIsKey(t *testing.T) {
	p := ParsePath("a[x]")
	require.Len(t, p, 2)
	assert.False(t, p[1].IsIndex)
	assert.Equal(t, "x", p[1].Key)
}

func TestGet(t *testing.T) {
	doc := mustDecode(t, sampleDoc)

	n, ok := GetString(doc, "devis_produits[0].sous_produits[0].quantite")
	require.True(t, ok)
	v, _ := n.Float()
	assert.Equal(t, 40.0, v)

	n, ok = GetString(doc, "devis_produits.1.label")
	require.True(t, ok, "digit keys address array elements")
	s, _ := n.Text()
	assert.Equal(t, "Carrelage", s)

	root, ok := Get(doc, nil)
	require.True(t, ok)
	assert.Same(t, doc, root)
}

func TestGet_MissingIntermediate(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	for _, p := range []string{
		"nope.deeper",
		"devis_produits[9].label",
		"devis_total_ht.x",
		"devis_produits[1].sous_produits[0]",
		"devis_produits.label",
	} {
		_, ok := GetString(doc, p)
		assert.False(t, ok, p)
	}
	_, ok := GetString(nil, "a")
	assert.False(t, ok)
}

func TestSet_GetConsistency(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	cases := []struct {
		path  string
		value *Node
	}{
		{"devis_total_ht", NewNumber(4200)},
		{"devis_produits[0].quantite", NewNumber(25)},
		{"devis_produits[0].sous_produits[0].label", NewString("Gravier")},
		{"devis_produits[1].sous_produits", NewArray()},
		{"devis_produits[2]", NewObject(Field{"label", NewString("new")})},
		{"fresh.nested[0].x", NewBool(true)},
		{"devis_produits[1].unitee_quantite", NewNull()},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			out := SetString(doc, tc.path, tc.value)
			got, ok := GetString(out, tc.path)
			require.True(t, ok)
			assert.Same(t, tc.value, got)
		})
	}
}

func TestSet_DoesNotMutateInput(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	before, err := doc.MarshalJSON()
	require.NoError(t, err)

	out := SetString(doc, "devis_produits[0].sous_produits[0].quantite", NewNumber(1))
	assert.NotSame(t, doc, out)

	after, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	// Untouched siblings are shared, not copied.
	a, _ := GetString(doc, "devis_produits[1]")
	b, _ := GetString(out, "devis_produits[1]")
	assert.Same(t, a, b)
}

func TestSet_EmptyPathReplacesRoot(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	v := NewObject()
	assert.Same(t, v, Set(doc, nil, v))
}

func TestSet_ThroughScalarIsNoop(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	assert.Same(t, doc, SetString(doc, "devis_total_ht.x", NewNumber(1)))
	assert.Same(t, doc, SetString(doc, "devis_produits.label", NewNumber(1)))
}

func TestSet_PadsArrays(t *testing.T) {
	doc := NewObject()
	out := SetString(doc, "xs[2]", NewNumber(7))
	xs, ok := GetString(out, "xs")
	require.True(t, ok)
	require.Equal(t, 3, xs.Len())
	first, _ := xs.Item(0)
	assert.Equal(t, Null, first.Kind())
}

func TestDelete_ArraySplice(t *testing.T) {
	doc := mustDecode(t, `{"xs":[1,2,3,4]}`)
	out := DeleteString(doc, "xs[1]")
	xs, _ := GetString(out, "xs")
	require.Equal(t, 3, xs.Len())
	var got []float64
	for _, it := range xs.Items() {
		f, _ := it.Float()
		got = append(got, f)
	}
	assert.Equal(t, []float64{1, 3, 4}, got)

	orig, _ := GetString(doc, "xs")
	assert.Equal(t, 4, orig.Len(), "input untouched")
}

func TestDelete_ObjectKey(t *testing.T) {
	doc := mustDecode(t, `{"a":1,"b":2,"c":3}`)
	out := DeleteString(doc, "b")
	assert.Equal(t, []string{"a", "c"}, out.Keys())
}

func TestDelete_MissingIsNoop(t *testing.T) {
	doc := mustDecode(t, sampleDoc)
	assert.Same(t, doc, DeleteString(doc, "devis_produits[7]"))
	assert.Same(t, doc, DeleteString(doc, "nope.x"))
	assert.Same(t, doc, DeleteString(doc, ""))
}

func TestInsert(t *testing.T) {
	doc := mustDecode(t, `{"xs":[1,3]}`)
	out := Insert(doc, ParsePath("xs"), 1, NewNumber(2))
	xs, _ := GetString(out, "xs")
	v, _ := xs.Item(1)
	f, _ := v.Float()
	assert.Equal(t, 2.0, f)

	assert.Same(t, doc, Insert(doc, ParsePath("xs"), 5, NewNumber(2)))
	assert.Same(t, doc, Insert(doc, ParsePath("nope"), 0, NewNumber(2)))
}

func TestWalk_Paths(t *testing.T) {
	doc := mustDecode(t, `{"a":[{"b":1}]}`)
	var paths []string
	Walk(doc, func(p Path, n *Node) bool {
		paths = append(paths, p.String())
		return true
	})
	assert.Equal(t, []string{"", "a", "a[0]", "a[0].b"}, paths)
}

func TestCodec_PreservesKeyOrder(t *testing.T) {
	in := `{"z":1,"a":{"y":[true,null,"s"],"b":2.5}}`
	doc := mustDecode(t, in)
	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestDecodeDocument_RejectsNonObject(t *testing.T) {
	_, err := DecodeDocument([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = Decode([]byte(`{"a":1} {}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestNewNumber_NonFiniteBecomesZero(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		f, ok := NewNumber(v).Float()
		require.True(t, ok)
		assert.Equal(t, 0.0, f)
	}
}

func TestEqual_IgnoresIssueFlagAndKeyOrder(t *testing.T) {
	a := mustDecode(t, `{"x":1,"y":[1,2]}`)
	b := mustDecode(t, `{"y":[1,2],"x":1}`)
	assert.True(t, Equal(a, b.WithIssue(true)))
	assert.False(t, Equal(a, mustDecode(t, `{"x":1,"y":[2,1]}`)))
}

func TestYAML_KeepsOrderAndTypes(t *testing.T) {
	doc := mustDecode(t, `{"z":5000,"a":"5000","m":[2.5,true,null],"e":{}}`)
	out, err := yaml.Marshal(doc)
	require.NoError(t, err)

	back, err := DecodeYAMLDocument(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m", "e"}, back.Keys())
	assert.True(t, Equal(doc, back), string(out))

	s, _ := GetString(back, "a")
	assert.Equal(t, String, s.Kind(), "numeric-looking strings stay strings")

	_, err = DecodeYAMLDocument([]byte("- 1\n- 2\n"))
	assert.ErrorIs(t, err, ErrNotObject)
}
