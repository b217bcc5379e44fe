package editor

import (
	"fmt"
	"strconv"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

type RowKind string

const (
	RowScalar RowKind = "scalar"
	RowObject RowKind = "object"
	RowArray  RowKind = "array"
)

// Status is the pass/fail indicator shown on line items and document totals.
type Status string

const (
	StatusNone Status = ""
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Row is one visible line of the rendered tree, in display order.
type Row struct {
	Path  string        `json:"path" yaml:"path"`
	Depth int           `json:"depth" yaml:"depth"`
	Kind  RowKind       `json:"kind" yaml:"kind"`
	Key   string        `json:"key" yaml:"key"`
	ID    string        `json:"id,omitempty" yaml:"id,omitempty"`
	Label string        `json:"label,omitempty" yaml:"label,omitempty"`
	Value *doctree.Node `json:"value,omitempty" yaml:"value,omitempty"`

	Numeric   bool `json:"numeric,omitempty" yaml:"numeric,omitempty"`
	Count     int  `json:"count,omitempty" yaml:"count,omitempty"`
	Expanded  bool `json:"expanded,omitempty" yaml:"expanded,omitempty"`
	DropZone  bool `json:"drop_zone,omitempty" yaml:"drop_zone,omitempty"`
	Draggable bool `json:"draggable,omitempty" yaml:"draggable,omitempty"`
	Hoverable bool `json:"hoverable,omitempty" yaml:"hoverable,omitempty"`

	Status      Status `json:"status,omitempty" yaml:"status,omitempty"`
	PopoverOpen bool   `json:"popover_open,omitempty" yaml:"popover_open,omitempty"`
	Issue       string `json:"issue,omitempty" yaml:"issue,omitempty"`
}

// ViewState is the renderer's per-session state.
type ViewState struct {
	Expanded map[string]bool
	Popover  string
}

// Render flattens the document into visible rows. Containers are collapsed
// unless their path is expanded in vs. Bookkeeping fields are not shown, and
// the issue messages of document totals surface through the totals' status
// instead of rows of their own.
func Render(root *doctree.Node, vs ViewState) []Row {
	r := renderer{root: root, vs: vs}
	r.fields(root, nil, 0, true)
	return r.rows
}

type renderer struct {
	root *doctree.Node
	vs   ViewState
	rows []Row
}

func (r *renderer) fields(obj *doctree.Node, p doctree.Path, depth int, isRoot bool) {
	for _, k := range obj.Keys() {
		if devis.HiddenFields[k] || (isRoot && isTotalIssueField(k)) {
			continue
		}
		v, _ := obj.Field(k)
		r.value(k, v, p.Key(k), depth, isRoot)
	}
}

func (r *renderer) value(key string, v *doctree.Node, p doctree.Path, depth int, isRoot bool) {
	path := p.String()
	switch v.Kind() {
	case doctree.Array:
		row := Row{
			Path:     path,
			Depth:    depth,
			Kind:     RowArray,
			Key:      key,
			Label:    fmt.Sprintf("%s (%d)", key, v.Len()),
			Count:    v.Len(),
			Expanded: r.vs.Expanded[path],
			DropZone: true,
		}
		r.rows = append(r.rows, row)
		if row.Expanded {
			for i, it := range v.Items() {
				r.element(it, p.Index(i), depth+1, i)
			}
		}

	case doctree.Object:
		row := Row{
			Path:     path,
			Depth:    depth,
			Kind:     RowObject,
			Key:      key,
			Label:    key,
			Count:    v.Len(),
			Expanded: r.vs.Expanded[path],
		}
		if id, ok := devis.ID(v); ok {
			row.ID = id
		}
		r.rows = append(r.rows, row)
		if row.Expanded {
			r.fields(v, p, depth+1, false)
		}

	default:
		row := Row{
			Path:    path,
			Depth:   depth,
			Kind:    RowScalar,
			Key:     key,
			Value:   v,
			Numeric: v.Kind() == doctree.Number,
		}
		if isRoot {
			if issueKey, ok := devis.TotalIssueFields[key]; ok {
				msg := devis.Text(r.root, issueKey)
				row.Status = StatusPass
				if msg != "" {
					row.Status = StatusFail
				}
				if row.Status == StatusFail && r.vs.Popover == path {
					row.PopoverOpen = true
					row.Issue = msg
				}
			}
		}
		r.rows = append(r.rows, row)
	}
}

func (r *renderer) element(it *doctree.Node, p doctree.Path, depth, i int) {
	if !it.IsObject() {
		r.value(strconv.Itoa(i), it, p, depth, false)
		return
	}
	path := p.String()
	row := Row{
		Path:      path,
		Depth:     depth,
		Kind:      RowObject,
		Key:       strconv.Itoa(i),
		Label:     devis.RowLabel(it, i),
		Count:     len(devis.SubItems(it)),
		Expanded:  r.vs.Expanded[path],
		Draggable: true,
		Status:    StatusPass,
	}
	if id, ok := devis.ID(it); ok {
		row.ID = id
	}
	if _, ok := HighlightOf(it); ok {
		row.Hoverable = true
	}
	if it.HasIssue() {
		row.Status = StatusFail
		if r.vs.Popover == path {
			row.PopoverOpen = true
			row.Issue, _ = devis.OwnIssue(it)
		}
	}
	r.rows = append(r.rows, row)
	if row.Expanded {
		r.fields(it, p, depth+1, false)
	}
}

func isTotalIssueField(k string) bool {
	for _, v := range devis.TotalIssueFields {
		if v == k {
			return true
		}
	}
	return false
}

// statusAt reports the indicator state of the row at p: whether it has an
// indicator, whether it fails, and the message its popover shows.
func statusAt(root *doctree.Node, p doctree.Path) (has, failing bool, msg string) {
	if len(p) == 1 && !p[0].IsIndex {
		issueKey, ok := devis.TotalIssueFields[p[0].Key]
		if !ok {
			return false, false, ""
		}
		msg = devis.Text(root, issueKey)
		return true, msg != "", msg
	}
	if _, _, ok := p.ArrayIndex(); !ok {
		return false, false, ""
	}
	n, ok := doctree.Get(root, p)
	if !ok || !n.IsObject() {
		return false, false, ""
	}
	msg, _ = devis.OwnIssue(n)
	return true, n.HasIssue(), msg
}
