package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
)

// An editor session keeps the interaction state of one quote on the server:
// expanded rows, popover, drag session and hover highlight. Events are posted
// one at a time and every document change is saved right away.

type sessionKey struct {
	projectID string
	devisID   string
}

type session struct {
	mu       sync.Mutex
	ctrl     *editor.Controller
	changed  *doctree.Node // last version handed to the change callback
	lastUsed time.Time
}

type sessionManager struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[sessionKey]*session
}

func newSessionManager(ttl time.Duration) *sessionManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &sessionManager{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[sessionKey]*session),
	}
}

// open returns the live session for key, or starts one on doc.
func (m *sessionManager) open(key sessionKey, doc *doctree.Node, pages int) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if s, ok := m.sessions[key]; ok {
		s.lastUsed = m.now()
		return s, false
	}
	s := &session{lastUsed: m.now()}
	s.ctrl = editor.NewController(doc,
		editor.WithOnChange(func(d *doctree.Node) { s.changed = d }),
		editor.WithRelay(editor.NewRelay(nil, editor.WithPageCount(pages))),
	)
	m.sessions[key] = s
	sessionsActive.Set(float64(len(m.sessions)))
	return s, true
}

func (m *sessionManager) get(key sessionKey) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	s, ok := m.sessions[key]
	if ok {
		s.lastUsed = m.now()
	}
	return s, ok
}

func (m *sessionManager) drop(key sessionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	delete(m.sessions, key)
	sessionsActive.Set(float64(len(m.sessions)))
	return ok
}

// reload hands an inbound document version to the session of key, if any.
func (m *sessionManager) reload(key sessionKey, doc *doctree.Node) {
	s, ok := m.get(key)
	if !ok {
		return
	}
	s.mu.Lock()
	s.ctrl.Load(doc)
	s.mu.Unlock()
}

// sweepLocked evicts sessions idle for longer than the TTL.
func (m *sessionManager) sweepLocked() {
	now := m.now()
	for k, s := range m.sessions {
		if now.Sub(s.lastUsed) > m.ttl {
			delete(m.sessions, k)
		}
	}
	sessionsActive.Set(float64(len(m.sessions)))
}

// sessionEvent is one user interaction. Type selects the operation; the
// other fields are read as that operation needs them.
type sessionEvent struct {
	Type   string           `json:"type"`
	Path   string           `json:"path,omitempty"`
	Value  string           `json:"value,omitempty"`
	ID     string           `json:"id,omitempty"`
	Target *dropTargetInput `json:"target,omitempty"`
}

// dropTargetInput names a node by identifier or an array by path.
type dropTargetInput struct {
	NodeID string  `json:"node_id,omitempty"`
	Array  *string `json:"array,omitempty"`
}

func (t *dropTargetInput) target() *editor.DropTarget {
	if t == nil {
		return nil
	}
	if t.Array != nil {
		dt := editor.OnArray(doctree.ParsePath(*t.Array))
		return &dt
	}
	if t.NodeID == "" {
		return nil
	}
	dt := editor.OnNode(t.NodeID)
	return &dt
}

var errUnknownEvent = errors.New("unknown event type")

// apply dispatches ev to the controller and reports whether it had an effect.
func apply(c *editor.Controller, ev sessionEvent) (bool, error) {
	switch ev.Type {
	case "toggle":
		c.Toggle(ev.Path)
		return true, nil
	case "popover":
		return c.TogglePopover(ev.Path), nil
	case "edit":
		return c.EditField(ev.Path, ev.Value), nil
	case "append":
		return c.Append(ev.Path), nil
	case "delete":
		return c.Delete(ev.Path), nil
	case "drag_start":
		return c.StartDrag(ev.ID), nil
	case "drag_over":
		if t := ev.Target.target(); t != nil {
			c.DragOver(*t)
		}
		return true, nil
	case "drag_end":
		return c.EndDrag(ev.Target.target()), nil
	case "drag_cancel":
		c.CancelDrag()
		return true, nil
	case "hover":
		return c.Hover(ev.Path), nil
	case "unhover":
		return c.Unhover(), nil
	}
	return false, fmt.Errorf("%w: %q", errUnknownEvent, ev.Type)
}

type popoverState struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type sessionState struct {
	DevisID   string            `json:"devis_id"`
	Version   int               `json:"version"`
	Saved     int64             `json:"saved_version,omitempty"`
	Applied   bool              `json:"applied"`
	Rows      []editor.Row      `json:"rows"`
	Highlight *editor.Highlight `json:"highlight"`
	Popover   *popoverState     `json:"popover"`
	Dragging  string            `json:"dragging,omitempty"`
}

func stateOf(devisID string, saved int64, applied bool, c *editor.Controller) sessionState {
	st := sessionState{
		DevisID:   devisID,
		Version:   c.Version(),
		Saved:     saved,
		Applied:   applied,
		Rows:      c.Rows(),
		Highlight: c.LastHighlight(),
	}
	if path, msg, open := c.Popover(); open {
		st.Popover = &popoverState{Path: path, Message: msg}
	}
	st.Dragging, _ = c.Dragging()
	return st
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	sess, created := s.sessions.open(sessionKey{rec.ProjectID, rec.ID}, rec.Document, rec.Pages)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		s.log.Info("editor session opened", "project_id", rec.ProjectID, "devis_id", rec.ID)
	}
	writeJSON(w, code, stateOf(rec.ID, rec.Version, false, sess.ctrl))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := sessionKey{chi.URLParam(r, "projectID"), chi.URLParam(r, "devisID")}
	sess, ok := s.sessions.get(key)
	if !ok {
		jsonError(w, "no editor session", http.StatusNotFound)
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusOK, stateOf(key.devisID, 0, false, sess.ctrl))
}

// handleSessionEvent applies one event. A document change is saved as the
// next version of the quote before the response is written.
func (s *Server) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	key := sessionKey{chi.URLParam(r, "projectID"), chi.URLParam(r, "devisID")}
	sess, ok := s.sessions.get(key)
	if !ok {
		jsonError(w, "no editor session", http.StatusNotFound)
		return
	}
	var ev sessionEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		jsonError(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.changed = nil
	applied, err := apply(sess.ctrl, ev)
	if err != nil {
		editorOps.WithLabelValues("unknown", "rejected").Inc()
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	recordOp(ev.Type, applied)

	var saved int64
	if sess.changed != nil {
		rec, err := s.store.Get(r.Context(), key.projectID, key.devisID)
		if err == nil {
			err = s.saveDocument(r.Context(), rec, sess.changed)
		}
		if err != nil {
			// The controller is ahead of the store; the client reopens from
			// the stored version.
			s.sessions.drop(key)
			s.log.Warn("editor change not saved, session closed",
				"project_id", key.projectID, "devis_id", key.devisID, "error", err)
			jsonError(w, "failed to save devis: "+err.Error(), http.StatusInternalServerError)
			return
		}
		saved = rec.Version
	}
	writeJSON(w, http.StatusOK, stateOf(key.devisID, saved, applied, sess.ctrl))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	key := sessionKey{chi.URLParam(r, "projectID"), chi.URLParam(r, "devisID")}
	if !s.sessions.drop(key) {
		jsonError(w, "no editor session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
