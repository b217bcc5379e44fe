// Package store persists structured quotes per project.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/dgallion1/devistree/internal/doctree"
)

// ErrNotFound is returned when a quote does not exist in the project.
var ErrNotFound = errors.New("devis not found")

// Record is one stored quote with the metadata of its source file.
type Record struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	Filename    string        `json:"filename"`
	Title       string        `json:"title"`
	ContentHash string        `json:"content_hash,omitempty"`
	Pages       int           `json:"pages"`
	HasSource   bool          `json:"has_source"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Document    *doctree.Node `json:"document"`
}

// Summary is a Record without its document, as returned by List.
type Summary struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title"`
	Pages     int       `json:"pages"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary strips the document.
func (r *Record) Summary() Summary {
	return Summary{
		ID:        r.ID,
		Filename:  r.Filename,
		Title:     r.Title,
		Pages:     r.Pages,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Store is implemented by the Redis and in-memory backends.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, projectID, id string) (*Record, error)
	List(ctx context.Context, projectID string) ([]Summary, error)
	Delete(ctx context.Context, projectID, id string) error
	// FindByHash returns the id of a quote of the project built from the
	// same source content.
	FindByHash(ctx context.Context, projectID, hash string) (string, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// sortSummaries orders newest first, ties broken by id.
func sortSummaries(s []Summary) {
	slices.SortFunc(s, func(a, b Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
