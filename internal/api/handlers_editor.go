package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
	"github.com/dgallion1/devistree/internal/extract"
)

// Stateless editor operations: the caller sends the document, the response
// carries the new version. Nothing is stored.

type documentRequest struct {
	Document *doctree.Node `json:"document"`
}

type moveRequest struct {
	Document *doctree.Node `json:"document"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Index    int           `json:"index"`
}

type renderRequest struct {
	Document *doctree.Node `json:"document"`
	Expanded []string      `json:"expanded"`
	Popover  string        `json:"popover"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(v)
}

// decodeBody reads a JSON request whose document must be an object.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, doc func() *doctree.Node) bool {
	if err := decodeJSON(w, r, v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if d := doc(); d == nil || !d.IsObject() {
		jsonError(w, doctree.ErrNotObject.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req, func() *doctree.Node { return req.Document }) {
		return
	}
	out := editor.Normalize(req.Document, nil)
	recordOp("normalize", out != req.Document)
	writeJSON(w, http.StatusOK, documentRequest{Document: out})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req, func() *doctree.Node { return req.Document }) {
		return
	}
	doc, report := extract.CheckDevis(editor.EnsureIDs(req.Document, nil))
	doc = editor.FlagIssues(doc)
	recordOp("validate", doc != req.Document)
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "report": report})
}

// handleMove relocates the node at From into the array at To. Index is
// counted after the node has been removed from its source.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req, func() *doctree.Node { return req.Document }) {
		return
	}
	out := editor.Move(req.Document, doctree.ParsePath(req.From), doctree.ParsePath(req.To), req.Index)
	applied := out != req.Document
	recordOp("move", applied)
	if applied {
		out = editor.FlagIssues(out)
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": out, "applied": applied})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if !decodeBody(w, r, &req, func() *doctree.Node { return req.Document }) {
		return
	}
	vs := editor.ViewState{Expanded: make(map[string]bool, len(req.Expanded))}
	for _, p := range req.Expanded {
		vs.Expanded[doctree.ParsePath(p).String()] = true
	}
	if req.Popover != "" {
		vs.Popover = doctree.ParsePath(req.Popover).String()
	}
	doc := editor.FlagIssues(req.Document)
	writeJSON(w, http.StatusOK, map[string]any{"rows": editor.Render(doc, vs)})
}
