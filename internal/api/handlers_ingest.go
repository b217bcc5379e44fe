package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgallion1/devistree/internal/parser"
	"github.com/dgallion1/devistree/internal/pipeline"
)

var (
	errUnsupportedType = errors.New("unsupported file type")
	errTooLarge        = errors.New("file exceeds max size")
)

// readUpload reads one multipart file, refusing extensions no parser
// handles and files over the configured limit.
func (s *Server) readUpload(fh *multipart.FileHeader) (string, []byte, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return filename, nil, fmt.Errorf("%w: %s", errUnsupportedType, filepath.Ext(filename))
	}
	f, err := fh.Open()
	if err != nil {
		return filename, nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return filename, nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return filename, nil, fmt.Errorf("%w (%d bytes)", errTooLarge, s.cfg.MaxUploadBytes)
	}
	return filename, data, nil
}

func (s *Server) enqueue(projectID, filename, title string, data []byte, force bool) (*pipeline.Job, error) {
	job := pipeline.NewJob(uuid.NewString(), uuid.NewString(), projectID, filename, title, data)
	job.Force = force
	if err := s.orchestrator.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// parseUploadForm bounds the body to maxFiles uploads plus 1MB of form
// overhead each.
func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request, maxFiles int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFiles*(s.cfg.MaxUploadBytes+1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// handleUpload queues the extraction of one quote file for a project.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseUploadForm(w, r, 1) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	filename, data, err := s.readUpload(files[0])
	switch {
	case errors.Is(err, errUnsupportedType):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, errTooLarge):
		jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	job, err := s.enqueue(chi.URLParam(r, "projectID"), filename, r.FormValue("title"), data, r.FormValue("force") == "true")
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted(job))
}

// handleBatchUpload queues every file of a multipart "files" field. Files
// that cannot be queued are reported individually.
func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseUploadForm(w, r, 10) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}
	projectID := chi.URLParam(r, "projectID")
	force := r.FormValue("force") == "true"

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		filename, data, err := s.readUpload(fh)
		var job *pipeline.Job
		if err == nil {
			job, err = s.enqueue(projectID, filename, "", data, force)
		}
		if err != nil {
			results = append(results, map[string]any{"filename": filename, "error": err.Error()})
			continue
		}
		res := jobAccepted(job)
		res["filename"] = filename
		results = append(results, res)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func jobAccepted(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"job_id":   snap.ID,
		"devis_id": snap.DevisID,
		"status":   snap.Status,
		"poll_url": fmt.Sprintf("/api/jobs/%s", snap.ID),
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sanitizeFilename keeps the base name of a client-supplied path.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	switch name {
	case "", ".", "/":
		return "unnamed"
	}
	return name
}
