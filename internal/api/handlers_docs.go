package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
	"github.com/dgallion1/devistree/internal/extract"
	"github.com/dgallion1/devistree/internal/store"
)

// maxDocumentBytes bounds the JSON body of a document replacement.
const maxDocumentBytes = 10 << 20

func (s *Server) handleListDevis(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		jsonError(w, "failed to list devis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devis": list})
}

func (s *Server) handleGetDevis(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutDevis replaces the document of a stored quote. The body is the
// document itself. An If-Match header carrying the expected version turns a
// concurrent update into 409.
func (s *Server) handlePutDevis(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	if v := r.Header.Get("If-Match"); v != "" {
		want, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, "If-Match must be a version number", http.StatusBadRequest)
			return
		}
		if want != rec.Version {
			jsonError(w, fmt.Sprintf("version conflict: stored version is %d", rec.Version), http.StatusConflict)
			return
		}
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		jsonError(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := doctree.DecodeDocument(body)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := s.saveValidated(r.Context(), rec, doc)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devis": rec, "report": report})
}

// handleValidateDevis re-runs the price checks on the stored document and
// saves the refreshed issue markers.
func (s *Server) handleValidateDevis(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	report, err := s.saveValidated(r.Context(), rec, rec.Document)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devis": rec, "report": report})
}

func (s *Server) handleDeleteDevis(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := s.store.Delete(ctx, rec.ProjectID, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		jsonError(w, "failed to delete devis: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.sessions.drop(sessionKey{rec.ProjectID, rec.ID})

	sourceDeleted := false
	if s.blobs != nil && rec.HasSource {
		err := s.blobs.Delete(ctx, blob.Key(rec.ProjectID, rec.ID, rec.Filename))
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("source file delete failed", "devis_id", rec.ID, "error", err)
		} else {
			sourceDeleted = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":        true,
		"source_deleted": sourceDeleted,
	})
}

// handleSourceFile streams the uploaded file back for the document viewer.
func (s *Server) handleSourceFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecord(w, r)
	if !ok {
		return
	}
	if s.blobs == nil {
		jsonError(w, "source file storage is disabled", http.StatusNotFound)
		return
	}
	if !rec.HasSource {
		jsonError(w, "no source file stored for this devis", http.StatusNotFound)
		return
	}
	obj, err := s.blobs.Get(r.Context(), blob.Key(rec.ProjectID, rec.ID, rec.Filename))
	if errors.Is(err, blob.ErrNotFound) {
		jsonError(w, "source file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to read source file: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", rec.Filename))
	if _, err := io.Copy(w, obj.Body); err != nil {
		s.log.Warn("source file stream interrupted", "devis_id", rec.ID, "error", err)
	}
}

// loadRecord fetches the quote named by the URL, writing the error response
// itself when it cannot.
func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (*store.Record, bool) {
	projectID := chi.URLParam(r, "projectID")
	devisID := chi.URLParam(r, "devisID")
	rec, err := s.store.Get(r.Context(), projectID, devisID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "devis not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		jsonError(w, "failed to load devis: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

// saveValidated is the inbound replacement path: identifiers, price checks
// and issue flags are refreshed before the new version is stored and handed
// to any open editor session.
func (s *Server) saveValidated(ctx context.Context, rec *store.Record, doc *doctree.Node) (extract.Report, error) {
	doc, report := extract.CheckDevis(editor.EnsureIDs(doc, nil))
	doc = editor.FlagIssues(doc)
	if err := s.saveDocument(ctx, rec, doc); err != nil {
		return report, err
	}
	s.sessions.reload(sessionKey{rec.ProjectID, rec.ID}, rec.Document)
	return report, nil
}

// saveDocument stores doc as the next version of rec.
func (s *Server) saveDocument(ctx context.Context, rec *store.Record, doc *doctree.Node) error {
	rec.Document = doc
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("save devis: %w", err)
	}
	return nil
}
