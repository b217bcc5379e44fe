package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/store"
)

const sessionURL = "/api/projects/p1/devis/d1/session"

func postEvent(t *testing.T, env *testEnv, ev string) sessionState {
	t.Helper()
	rec := env.do(t, http.MethodPost, sessionURL+"/events", ev)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeResp[sessionState](t, rec)
}

func rowPaths(st sessionState) []string {
	out := make([]string, len(st.Rows))
	for i, r := range st.Rows {
		out[i] = r.Path
	}
	return out
}

func TestSession_OpenTwice(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, http.MethodPost, sessionURL, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decodeResp[sessionState](t, rec)
	assert.Equal(t, "d1", st.DevisID)
	assert.Equal(t, int64(1), st.Saved)
	assert.Contains(t, rowPaths(st), "devis_produits")

	rec = env.do(t, http.MethodPost, sessionURL, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSession_RequiresStoredDevis(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/projects/p1/devis/nope/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, sessionURL+"/events", `{"type": "toggle"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession_EditIsSaved(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	st := postEvent(t, env, `{"type": "toggle", "path": "devis_produits"}`)
	assert.True(t, st.Applied)
	assert.Contains(t, rowPaths(st), "devis_produits[0]")
	assert.Zero(t, st.Saved, "view changes are not saved")

	st = postEvent(t, env, `{"type": "edit", "path": "devis_produits[0].label", "value": "Lot A"}`)
	assert.True(t, st.Applied)
	assert.Equal(t, int64(2), st.Saved)

	stored, err := env.store.Get(context.Background(), "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	label, ok := doctree.GetString(stored.Document, "devis_produits[0].label")
	require.True(t, ok)
	text, _ := label.Text()
	assert.Equal(t, "Lot A", text)

	st = postEvent(t, env, `{"type": "edit", "path": "devis_produits[0]._uuid", "value": "x"}`)
	assert.False(t, st.Applied)
	assert.Zero(t, st.Saved)
}

// unwritableStore fails every Put while reads go through.
type unwritableStore struct {
	store.Store
}

func (unwritableStore) Put(context.Context, *store.Record) error {
	return errors.New("redis: connection refused")
}

func TestSession_FailedSaveClosesSession(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	env.srv.store = unwritableStore{env.store}
	rec := env.do(t, http.MethodPost, sessionURL+"/events", `{"type": "edit", "path": "devis_produits[0].label", "value": "Lot A"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, sessionURL, nil).Code, "unsaved session is closed")

	stored, err := env.store.Get(context.Background(), "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	label, _ := doctree.GetString(stored.Document, "devis_produits[0].label")
	text, _ := label.Text()
	assert.NotEqual(t, "Lot A", text)

	env.srv.store = env.store
	rec = env.do(t, http.MethodPost, sessionURL, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(1), decodeResp[sessionState](t, rec).Saved)
}

func TestSession_HoverHighlight(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	st := postEvent(t, env, `{"type": "hover", "path": "devis_produits[0]"}`)
	require.True(t, st.Applied)
	require.NotNil(t, st.Highlight)
	assert.Equal(t, 1, st.Highlight.Page)
	assert.Equal(t, [8]float64{1, 1, 2, 1, 2, 1.2, 1, 1.2}, st.Highlight.Polygon)

	// Page 7 is past the end of the two page source file.
	st = postEvent(t, env, `{"type": "hover", "path": "devis_produits[0].sous_produits[1]"}`)
	assert.False(t, st.Applied)
	require.NotNil(t, st.Highlight)
	assert.Equal(t, 1, st.Highlight.Page)

	st = postEvent(t, env, `{"type": "unhover"}`)
	assert.True(t, st.Applied)
	assert.Nil(t, st.Highlight)
}

func TestSession_DragAndDrop(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	st := postEvent(t, env, `{"type": "drag_start", "id": "sable"}`)
	assert.True(t, st.Applied)
	assert.Equal(t, "sable", st.Dragging)

	st = postEvent(t, env, `{"type": "drag_over", "target": {"array": "devis_produits"}}`)
	assert.Contains(t, rowPaths(st), "devis_produits[0]", "hovered array is expanded")

	st = postEvent(t, env, `{"type": "drag_end", "target": {"node_id": "lot-1"}}`)
	assert.True(t, st.Applied)
	assert.Empty(t, st.Dragging)
	assert.Equal(t, int64(2), st.Saved)

	stored, err := env.store.Get(context.Background(), "p1", "d1")
	require.NoError(t, err)
	items, _ := stored.Document.Field(devis.FieldLineItems)
	require.Equal(t, 2, items.Len())
	id, _ := devis.ID(items.Items()[0])
	assert.Equal(t, "sable", id)

	// Releasing outside any target ends the session without a change.
	postEvent(t, env, `{"type": "drag_start", "id": "chape"}`)
	st = postEvent(t, env, `{"type": "drag_end"}`)
	assert.False(t, st.Applied)
	assert.Empty(t, st.Dragging)
	assert.Zero(t, st.Saved)
}

func TestSession_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	rec := env.do(t, http.MethodPost, sessionURL+"/events", `{"type": "explode"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "explode")

	rec = env.do(t, http.MethodPost, sessionURL+"/events", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSession_ReloadedOnReplacement(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	rec := env.do(t, http.MethodPost, sessionURL, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	before := decodeResp[sessionState](t, rec).Version

	changed := strings.Replace(sampleDevis, `"devis_total_ht": 2320`, `"devis_total_ht": 2000`, 1)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/projects/p1/devis/d1", changed).Code)

	rec = env.do(t, http.MethodGet, sessionURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeResp[sessionState](t, rec)
	assert.Equal(t, before+1, st.Version)

	// The failing total now opens its popover.
	st = postEvent(t, env, `{"type": "popover", "path": "devis_total_ht"}`)
	assert.True(t, st.Applied)
	require.NotNil(t, st.Popover)
	assert.Equal(t, "devis_total_ht", st.Popover.Path)
	assert.NotEmpty(t, st.Popover.Message)
}

func TestSession_Close(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, sessionURL, nil).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, sessionURL, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, sessionURL, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, sessionURL, nil).Code)
}

func TestSessionManager_EvictsIdleSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newSessionManager(10 * time.Minute)
	m.now = func() time.Time { return now }

	doc := doctree.NewObject()
	a := sessionKey{"p", "a"}
	b := sessionKey{"p", "b"}
	_, created := m.open(a, doc, 0)
	require.True(t, created)

	now = now.Add(8 * time.Minute)
	m.open(b, doc, 0)
	_, ok := m.get(a) // refreshes a
	require.True(t, ok)

	now = now.Add(9 * time.Minute)
	_, ok = m.get(a)
	assert.True(t, ok)
	_, ok = m.get(b)
	assert.True(t, ok)

	now = now.Add(11 * time.Minute)
	_, ok = m.get(a)
	assert.False(t, ok)
	_, ok = m.get(b)
	assert.False(t, ok)
}
