package editor

import (
	"math"
	"strconv"
	"strings"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// ChangeFunc receives every new document version the controller produces.
type ChangeFunc func(doc *doctree.Node)

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(gen IDFunc) Option {
	return func(c *Controller) { c.gen = gen }
}

// WithOnChange registers the change callback.
func WithOnChange(fn ChangeFunc) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithRelay routes hover highlights through r.
func WithRelay(r *Relay) Option {
	return func(c *Controller) { c.relay = r }
}

// Controller is the interaction state of one tree editor: expanded paths,
// the single open issue popover, the drag session and the current document
// with its identifier index. It turns user events into new document versions
// and hands each one to the change callback.
//
// A Controller is not safe for concurrent use.
type Controller struct {
	gen      IDFunc
	onChange ChangeFunc
	relay    *Relay

	doc     *doctree.Node
	index   Index
	version int

	expanded map[string]bool
	popover  string
	dragging string
}

// NewController normalizes doc and returns a controller editing it.
func NewController(doc *doctree.Node, opts ...Option) *Controller {
	c := &Controller{
		gen:      NewID,
		expanded: make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	if c.relay == nil {
		c.relay = NewRelay(nil)
	}
	c.Load(doc)
	return c
}

// Normalize runs the inbound passes: identifiers first, then issue flags.
func Normalize(doc *doctree.Node, gen IDFunc) *doctree.Node {
	return FlagIssues(EnsureIDs(doc, gen))
}

// Load replaces the document with an inbound version, normalizing it. The
// normalized document is returned for the caller to adopt; the change
// callback is not invoked. Expanded paths survive, any drag session and open
// popover do not.
func (c *Controller) Load(doc *doctree.Node) *doctree.Node {
	if doc == nil {
		doc = doctree.NewObject()
	}
	c.doc = Normalize(doc, c.gen)
	c.index = BuildIndex(c.doc)
	c.version++
	c.popover = ""
	c.dragging = ""
	return c.doc
}

func (c *Controller) Document() *doctree.Node { return c.doc }

// Version counts document replacements, inbound and local.
func (c *Controller) Version() int { return c.version }

// Index returns the identifier index of the current document.
func (c *Controller) Index() Index { return c.index }

// Rows renders the current document.
func (c *Controller) Rows() []Row {
	return Render(c.doc, ViewState{Expanded: c.expanded, Popover: c.popover})
}

// commit adopts a locally produced version. Issue flags are recomputed so
// that ancestors stay consistent after items move between parents.
func (c *Controller) commit(doc *doctree.Node) bool {
	if doc == c.doc {
		return false
	}
	c.doc = FlagIssues(doc)
	c.index = BuildIndex(c.doc)
	c.version++
	if c.onChange != nil {
		c.onChange(c.doc)
	}
	return true
}

// Toggle expands or collapses the container at path.
func (c *Controller) Toggle(path string) {
	c.popover = ""
	key := doctree.ParsePath(path).String()
	if c.expanded[key] {
		delete(c.expanded, key)
		return
	}
	c.expanded[key] = true
}

// Expand opens the container at path. Containers never close on their own.
func (c *Controller) Expand(path string) {
	c.expanded[doctree.ParsePath(path).String()] = true
}

func (c *Controller) Expanded(path string) bool {
	return c.expanded[doctree.ParsePath(path).String()]
}

// TogglePopover opens the issue popover of a failing indicator at path, or
// closes it if it is the one already open. At most one popover is open.
func (c *Controller) TogglePopover(path string) bool {
	p := doctree.ParsePath(path)
	key := p.String()
	if c.popover == key {
		c.popover = ""
		return false
	}
	c.popover = ""
	if has, failing, _ := statusAt(c.doc, p); !has || !failing {
		return false
	}
	c.popover = key
	return true
}

// Popover returns the path of the open popover and its message.
func (c *Controller) Popover() (path, msg string, open bool) {
	if c.popover == "" {
		return "", "", false
	}
	_, _, msg = statusAt(c.doc, doctree.ParsePath(c.popover))
	return c.popover, msg, true
}

// EditField stores user input in the existing scalar at path. Numeric
// fields parse the input as a number, with anything unparsable or
// non-finite stored as zero; other fields take the raw text. Containers,
// identifiers and validation markers cannot be edited, and no new field is
// ever created.
func (c *Controller) EditField(path, input string) bool {
	c.popover = ""
	p := doctree.ParsePath(path)
	last, ok := p.Last()
	if !ok || (!last.IsIndex && devis.HiddenFields[last.Key]) {
		return false
	}
	if len(p) == 1 && isTotalIssueField(last.Key) {
		return false
	}
	cur, exists := doctree.Get(c.doc, p)
	if !exists || cur.IsContainer() {
		return false
	}
	var v *doctree.Node
	if cur.Kind() == doctree.Number {
		v = doctree.NewNumber(ParseNumber(input))
	} else {
		v = doctree.NewString(input)
	}
	return c.commit(doctree.Set(c.doc, p, v))
}

// ParseNumber reads a numeric field input. A decimal comma is accepted.
// Unparsable and non-finite input yields zero.
func ParseNumber(input string) float64 {
	s := strings.ReplaceAll(strings.TrimSpace(input), ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Append adds an empty line item at the end of the array at path.
func (c *Controller) Append(path string) bool {
	c.popover = ""
	p := doctree.ParsePath(path)
	arr, ok := doctree.Get(c.doc, p)
	if !ok || !arr.IsArray() {
		return false
	}
	return c.commit(doctree.Insert(c.doc, p, arr.Len(), devis.NewLineItem(c.gen())))
}

// Delete removes the item at path from its containing array. Only object
// elements qualify: object fields and scalar array entries such as polygon
// coordinates are refused.
func (c *Controller) Delete(path string) bool {
	c.popover = ""
	p := doctree.ParsePath(path)
	if _, _, ok := p.ArrayIndex(); !ok {
		return false
	}
	if n, ok := doctree.Get(c.doc, p); !ok || !n.IsObject() {
		return false
	}
	return c.commit(doctree.Delete(c.doc, p))
}

// StartDrag begins a drag session for the node with the given identifier.
// Unknown identifiers leave the controller idle.
func (c *Controller) StartDrag(id string) bool {
	c.popover = ""
	if _, ok := c.index.Lookup(id); !ok {
		c.dragging = ""
		return false
	}
	c.dragging = id
	return true
}

// Dragging returns the identifier of the node being dragged.
func (c *Controller) Dragging() (string, bool) {
	return c.dragging, c.dragging != ""
}

// DragOver is sent while a drag hovers a target. A collapsed array under the
// pointer is expanded; nothing is ever collapsed by hovering.
func (c *Controller) DragOver(target DropTarget) {
	c.popover = ""
	if c.dragging == "" || target.Array == nil {
		return
	}
	if arr, ok := doctree.Get(c.doc, target.Array); ok && arr.IsArray() {
		c.expanded[target.Array.String()] = true
	}
}

// EndDrag closes the drag session. A nil target or one that does not
// resolve leaves the document unchanged.
func (c *Controller) EndDrag(target *DropTarget) bool {
	id := c.dragging
	c.dragging = ""
	c.popover = ""
	if id == "" || target == nil {
		return false
	}
	src, dst, index, ok := ResolveDrop(c.doc, c.index, id, *target)
	if !ok {
		return false
	}
	return c.commit(Move(c.doc, src, dst, index))
}

// CancelDrag abandons the drag session.
func (c *Controller) CancelDrag() {
	c.dragging = ""
	c.popover = ""
}

// Hover emits the highlight of the node at path, or a clear event when it
// carries no provenance.
func (c *Controller) Hover(path string) bool {
	c.popover = ""
	n, _ := doctree.GetString(c.doc, path)
	h, ok := HighlightOf(n)
	if !ok {
		return c.relay.Emit(nil)
	}
	return c.relay.Emit(h)
}

// Unhover clears the highlight.
func (c *Controller) Unhover() bool {
	c.popover = ""
	return c.relay.Emit(nil)
}

// LastHighlight returns the last highlight forwarded to the viewer.
func (c *Controller) LastHighlight() *Highlight { return c.relay.Last() }
