package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/chunker"
	"github.com/dgallion1/devistree/internal/config"
	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/extract"
	"github.com/dgallion1/devistree/internal/store"
)

const coherentAnswer = `{
  "devis_total_ht": 2320, "devis_total_tva": 464, "devis_total_ttc": 2784,
  "devis_produits": [
    {"label": "Lot 1", "quantite": 1, "price_unitaire_ht": 2320, "tva": "TVA 20%", "sous_produits": [
      {"label": "Chape", "quantite": 20, "price_unitaire_ht": 100, "tva": "TVA 20%"},
      {"label": "Sable", "quantite": 40, "price_unitaire_ht": 8, "tva": "TVA 20%"}
    ]}
  ]
}`

const quoteText = "Lot 1 2320,00\nChape 20 x 100,00\nSable 40 x 8,00\n"

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	corrects int
	extract  func(call int, prompt string) (*doctree.Node, error)
	correct  func(previous *doctree.Node, report extract.Report) (*doctree.Node, error)
}

func (f *fakeExtractor) ExtractLineItems(_ context.Context, prompt string) (*doctree.Node, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.extract(call, prompt)
}

func (f *fakeExtractor) Correct(_ context.Context, _ string, previous *doctree.Node, report extract.Report) (*doctree.Node, error) {
	f.mu.Lock()
	f.corrects++
	f.mu.Unlock()
	if f.correct == nil {
		return nil, errors.New("no correction")
	}
	return f.correct(previous, report)
}

func answer(t *testing.T, src string) func(int, string) (*doctree.Node, error) {
	t.Helper()
	n, err := doctree.Decode([]byte(src))
	require.NoError(t, err)
	return func(int, string) (*doctree.Node, error) { return n, nil }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorker(ex Extractor, st store.Store, blobs blob.Store, correct bool) *Worker {
	n := 0
	return NewWorker(ex, st, blobs, testLogger(), WorkerConfig{
		Chunk:                chunker.DefaultConfig(),
		MaxConcurrentExtract: 2,
		Correct:              correct,
		Retry:                RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond},
		IDs: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

func TestWorker_ProcessCompleted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	blobs := blob.NewMemoryStore()
	ex := &fakeExtractor{extract: answer(t, coherentAnswer)}
	w := testWorker(ex, st, blobs, true)

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "Devis Dupont", []byte(quoteText))
	w.Process(ctx, job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Progress.Errors)
	assert.Equal(t, 1, snap.Progress.TotalChunks)
	assert.Equal(t, 1, snap.Progress.ChunksProcessed)
	assert.Equal(t, 3, snap.Progress.LineItems)
	assert.Equal(t, 0, snap.Progress.Issues)
	assert.False(t, snap.Progress.Corrected)
	assert.Zero(t, ex.corrects, "coherent quotes need no correction")
	assert.Nil(t, job.FileData())

	rec, err := st.Get(ctx, "proj", "devis-1")
	require.NoError(t, err)
	assert.Equal(t, "Devis Dupont", rec.Title)
	assert.True(t, rec.HasSource)
	assert.NotEmpty(t, rec.ContentHash)

	lot, ok := doctree.GetString(rec.Document, "devis_produits[0]")
	require.True(t, ok)
	id, ok := devis.ID(lot)
	assert.True(t, ok)
	assert.NotEmpty(t, id)
	_, hasRootID := rec.Document.Field(devis.FieldID)
	assert.False(t, hasRootID)

	obj, err := blobs.Get(ctx, blob.Key("proj", "devis-1", "devis.txt"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", obj.ContentType)
}

func TestWorker_PromptCarriesTitle(t *testing.T) {
	var seen string
	ex := &fakeExtractor{extract: func(_ int, prompt string) (*doctree.Node, error) {
		seen = prompt
		return doctree.Decode([]byte(coherentAnswer))
	}}
	w := testWorker(ex, store.NewMemoryStore(), nil, false)

	w.Process(context.Background(), NewJob("job-1", "devis-1", "proj", "devis.txt", "Devis Dupont", []byte(quoteText)))

	assert.Contains(t, seen, `"Devis Dupont"`)
	assert.Contains(t, seen, "Chape 20 x 100,00")
}

func TestWorker_DuplicateSkipped(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ex := &fakeExtractor{extract: answer(t, coherentAnswer)}
	w := testWorker(ex, st, nil, false)

	w.Process(ctx, NewJob("job-1", "devis-1", "proj", "a.txt", "", []byte(quoteText)))
	dup := NewJob("job-2", "devis-2", "proj", "b.txt", "", []byte(quoteText))
	w.Process(ctx, dup)

	snap := dup.Snapshot()
	assert.Equal(t, StatusDupSkipped, snap.Status)
	assert.Equal(t, "devis-1", snap.DuplicateOf)
	assert.Equal(t, 1, ex.calls)

	// Another project does not see the first quote.
	other := NewJob("job-3", "devis-3", "other", "a.txt", "", []byte(quoteText))
	w.Process(ctx, other)
	assert.Equal(t, StatusCompleted, other.Snapshot().Status)

	forced := NewJob("job-4", "devis-4", "proj", "a.txt", "", []byte(quoteText))
	forced.Force = true
	w.Process(ctx, forced)
	assert.Equal(t, StatusCompleted, forced.Snapshot().Status)
}

func TestWorker_RetriesRetryableErrors(t *testing.T) {
	good, err := doctree.Decode([]byte(coherentAnswer))
	require.NoError(t, err)
	ex := &fakeExtractor{extract: func(call int, _ string) (*doctree.Node, error) {
		if call == 1 {
			return nil, &extract.RetryableError{StatusCode: 529, Message: "overloaded"}
		}
		return good, nil
	}}
	w := testWorker(ex, store.NewMemoryStore(), nil, false)

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(quoteText))
	w.Process(context.Background(), job)

	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
	assert.Equal(t, 2, ex.calls)
}

func TestWorker_ExtractionFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ex := &fakeExtractor{extract: func(int, string) (*doctree.Node, error) {
		return nil, errors.New("bad request")
	}}
	w := testWorker(ex, st, nil, false)

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(quoteText))
	w.Process(ctx, job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 1, ex.calls, "non-retryable errors are not retried")
	assert.NotEmpty(t, snap.Progress.Errors)
	_, err := st.Get(ctx, "proj", "devis-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWorker_PartialWhenSomeChunksFail(t *testing.T) {
	// Each paragraph is a section; a small chunk size keeps them apart.
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		fmt.Fprintf(&sb, "Lot %d\n%s\n\n", i+1, strings.Repeat("Fourniture et pose de carrelage grès cérame. ", 12))
	}
	good, err := doctree.Decode([]byte(`{"devis_produits": [{"label": "Carrelage", "quantite": 1, "price_unitaire_ht": 10}]}`))
	require.NoError(t, err)
	ex := &fakeExtractor{extract: func(_ int, prompt string) (*doctree.Node, error) {
		if strings.Contains(prompt, "Lot 2") {
			return nil, errors.New("refused")
		}
		return good, nil
	}}
	w := testWorker(ex, store.NewMemoryStore(), nil, false)
	w.cfg.Chunk = chunker.Config{ChunkSize: 200, ChunkOverlap: 0}

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(sb.String()))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusPartial, snap.Status, "errors: %v", snap.Progress.Errors)
	assert.Greater(t, snap.Progress.TotalChunks, 1)
	assert.Equal(t, snap.Progress.TotalChunks, snap.Progress.ChunksProcessed)
	assert.Less(t, snap.Progress.LineItems, snap.Progress.TotalChunks)
}

func TestWorker_CorrectionRound(t *testing.T) {
	wrong := strings.Replace(coherentAnswer, `"devis_total_ht": 2320`, `"devis_total_ht": 9999`, 1)
	fixed, err := doctree.Decode([]byte(coherentAnswer))
	require.NoError(t, err)

	var sawReport extract.Report
	ex := &fakeExtractor{
		extract: answer(t, wrong),
		correct: func(_ *doctree.Node, report extract.Report) (*doctree.Node, error) {
			sawReport = report
			return fixed, nil
		},
	}
	st := store.NewMemoryStore()
	w := testWorker(ex, st, nil, true)

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(quoteText))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	assert.True(t, snap.Progress.Corrected)
	assert.Equal(t, 0, snap.Progress.Issues)
	assert.NotEmpty(t, sawReport.Errors)

	rec, err := st.Get(context.Background(), "proj", "devis-1")
	require.NoError(t, err)
	total, _ := rec.Document.Field(devis.FieldTotalHTDoc)
	v, _ := total.Float()
	assert.Equal(t, 2320.0, v)
}

func TestWorker_CorrectionKeptOnlyWhenBetter(t *testing.T) {
	wrong := strings.Replace(coherentAnswer, `"devis_total_ht": 2320`, `"devis_total_ht": 9999`, 1)
	ex := &fakeExtractor{
		extract: answer(t, wrong),
		correct: func(previous *doctree.Node, _ extract.Report) (*doctree.Node, error) {
			return previous, nil
		},
	}
	st := store.NewMemoryStore()
	w := testWorker(ex, st, nil, true)

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(quoteText))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, 1, ex.corrects)
	assert.False(t, snap.Progress.Corrected)
	assert.Equal(t, 1, snap.Progress.Issues)

	rec, err := st.Get(context.Background(), "proj", "devis-1")
	require.NoError(t, err)
	issue, ok := rec.Document.Field(devis.FieldIssueHT)
	require.True(t, ok, "inconsistent totals are flagged in the stored quote")
	assert.Equal(t, doctree.String, issue.Kind())
}

func TestWorker_UnsupportedFile(t *testing.T) {
	ex := &fakeExtractor{extract: answer(t, coherentAnswer)}
	w := testWorker(ex, store.NewMemoryStore(), nil, false)

	job := NewJob("job-1", "devis-1", "proj", "devis.xlsx", "", []byte("PK"))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "parsing", snap.Phase)
	assert.Zero(t, ex.calls)
}

func TestRetryPolicy_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Attempts: 5, Base: time.Hour, Max: time.Hour}
	calls := 0
	go cancel()
	err := p.Do(ctx, testLogger(), func() error {
		calls++
		return &extract.RetryableError{StatusCode: 503}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	for attempt, want := range []time.Duration{100, 200, 300, 300} {
		want *= time.Millisecond
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, want, "attempt %d", attempt)
		assert.Less(t, got, want+want/2, "attempt %d", attempt)
	}
}

func TestOrchestrator_SubmitAndProcess(t *testing.T) {
	cfg := config.Config{
		WorkerCount:          1,
		MaxQueueSize:         4,
		MaxConcurrentExtract: 1,
		DefaultChunkSize:     3000,
		DefaultChunkOverlap:  200,
		JobTTL:               time.Hour,
	}
	st := store.NewMemoryStore()
	ex := &fakeExtractor{extract: answer(t, coherentAnswer)}
	o := NewOrchestrator(cfg, ex, st, nil, testLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("job-1", "devis-1", "proj", "devis.txt", "", []byte(quoteText))
	require.NoError(t, o.Submit(job))
	assert.Same(t, job, o.GetJob("job-1"))

	require.Eventually(t, func() bool {
		return o.GetJob("job-1").Snapshot().Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusCompleted, job.Snapshot().Status)

	_, err := st.Get(context.Background(), "proj", "devis-1")
	assert.NoError(t, err)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 1, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, &fakeExtractor{}, store.NewMemoryStore(), nil, testLogger())
	// Not started: nothing drains the queue.
	require.NoError(t, o.Submit(NewJob("a", "d-a", "p", "a.txt", "", nil)))

	overflow := NewJob("b", "d-b", "p", "b.txt", "", nil)
	err := o.Submit(overflow)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, overflow.Snapshot().Status)
	assert.Equal(t, 1, o.QueueDepth())
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	cfg := config.Config{WorkerCount: 2, MaxQueueSize: 2, JobTTL: time.Hour}
	o := NewOrchestrator(cfg, &fakeExtractor{}, store.NewMemoryStore(), nil, testLogger())
	o.Start(context.Background())
	o.Stop()
	o.Stop()

	job := NewJob("late", "d-late", "p", "late.txt", "", []byte("x"))
	require.Error(t, o.Submit(job))
	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "shutting_down", snap.Phase)
}
