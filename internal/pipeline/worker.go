package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/chunker"
	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
	"github.com/dgallion1/devistree/internal/editor"
	"github.com/dgallion1/devistree/internal/extract"
	"github.com/dgallion1/devistree/internal/parser"
	"github.com/dgallion1/devistree/internal/store"
)

// Extractor turns chunk prompts into partial quotes. *extract.Client
// implements it.
type Extractor interface {
	ExtractLineItems(ctx context.Context, prompt string) (*doctree.Node, error)
	Correct(ctx context.Context, prompt string, previous *doctree.Node, report extract.Report) (*doctree.Node, error)
}

// WorkerConfig carries the tunables of a Worker.
type WorkerConfig struct {
	Chunk                chunker.Config
	MaxConcurrentExtract int
	ParserOptions        parser.Options
	// Correct enables one correction round for single-chunk quotes whose
	// reconstruction fails the price checks.
	Correct bool
	Retry   RetryPolicy
	// IDs generates node identifiers; nil uses random UUIDs.
	IDs editor.IDFunc
}

// Worker processes a single quote extraction job.
type Worker struct {
	extractor Extractor
	store     store.Store
	blobs     blob.Store // nil disables source file storage
	log       *slog.Logger
	cfg       WorkerConfig
}

func NewWorker(ex Extractor, st store.Store, blobs blob.Store, log *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 1
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetry
	}
	return &Worker{
		extractor: ex,
		store:     st,
		blobs:     blobs,
		log:       log,
		cfg:       cfg,
	}
}

// Process runs the full pipeline for a job: parse, dedup, chunk, extract,
// assemble, validate, store.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "devis_id", job.DevisID, "project_id", job.ProjectID)
	status := w.process(ctx, job, log)
	jobsTotal.WithLabelValues(string(status)).Inc()
}

func (w *Worker) process(ctx context.Context, job *Job, log *slog.Logger) JobStatus {
	fail := func(phase string, err error) JobStatus {
		log.Error("job failed", "phase", phase, "error", err)
		job.AddError(fmt.Sprintf("%s: %s", phase, err))
		job.SetStatus(StatusFailed, phase)
		return StatusFailed
	}
	data := job.FileData()

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.cfg.ParserOptions)
	if err != nil {
		return fail("parsing", err)
	}
	src, err := p.Parse(bytes.NewReader(data), job.Filename)
	if err != nil {
		return fail("parsing", err)
	}
	if job.Title != "" {
		src.Title = job.Title
	}

	// Phase 1.5: Dedup check
	job.SetHash(ContentHashHex([]byte(flattenSourceText(src))))
	if !job.Force {
		existing, found, err := w.store.FindByHash(ctx, job.ProjectID, job.ContentHash)
		switch {
		case err != nil:
			log.Warn("dedup check failed, proceeding", "error", err)
		case found:
			log.Info("duplicate quote, skipping", "existing_devis_id", existing)
			job.MarkDuplicate(existing)
			return StatusDupSkipped
		}
	}

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks := chunker.ChunkSource(src, w.cfg.Chunk)
	job.SetTotalChunks(len(chunks))
	log.Info("chunked quote", "chunks", len(chunks), "pages", src.Pages)
	if len(chunks) == 0 {
		return fail("chunking", errors.New("no extractable content"))
	}

	// Phase 3: Extract line items with bounded concurrency.
	job.SetStatus(StatusExtracting, "extracting")
	parts, prompts, hadErrors := w.extractChunks(ctx, job, src.Title, chunks, log)
	if ctx.Err() != nil {
		return fail("extracting", ctx.Err())
	}
	if len(parts) == 0 {
		return fail("extracting", errors.New("no chunk could be extracted"))
	}

	// Phase 4: Assemble and validate.
	job.SetStatus(StatusValidating, "validating")
	raw := extract.MergeExtractions(parts)
	doc, report := w.assemble(raw, src)
	corrected := false
	if !report.OK() && w.cfg.Correct && len(chunks) == 1 && !hadErrors {
		if fixed, fixedReport, ok := w.correct(ctx, prompts[0], raw, report, src, log); ok {
			doc, report, corrected = fixed, fixedReport, true
		}
	}
	doc = editor.FlagIssues(doc)
	items := countLineItems(doc)
	job.SetResult(items, len(report.Errors), corrected)
	validationIssues.Observe(float64(len(report.Errors)))
	log.Info("quote assembled", "line_items", items, "issues", len(report.Errors), "corrected", corrected)

	// Phase 5: Store
	job.SetStatus(StatusStoring, "storing")
	hasSource := false
	if w.blobs != nil {
		key := blob.Key(job.ProjectID, job.DevisID, job.Filename)
		if err := w.blobs.Put(ctx, key, data, parser.ContentType(job.Filename)); err != nil {
			log.Warn("source file upload failed", "key", key, "error", err)
			job.AddError(fmt.Sprintf("source file: %s", err))
		} else {
			hasSource = true
		}
	}
	now := time.Now().UTC()
	rec := &store.Record{
		ID:          job.DevisID,
		ProjectID:   job.ProjectID,
		Filename:    job.Filename,
		Title:       src.Title,
		ContentHash: job.ContentHash,
		Pages:       src.Pages,
		HasSource:   hasSource,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Document:    doc,
	}
	if err := w.store.Put(ctx, rec); err != nil {
		return fail("storing", err)
	}

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
		return StatusPartial
	}
	job.SetStatus(StatusCompleted, "done")
	return StatusCompleted
}

// extractChunks runs one extraction per chunk and returns the successful
// parts in chunk order along with every chunk's prompt.
func (w *Worker) extractChunks(ctx context.Context, job *Job, title string, chunks []chunker.Chunk, log *slog.Logger) ([]*doctree.Node, []string, bool) {
	type chunkResult struct {
		part *doctree.Node
		err  error
		idx  int
	}
	prompts := make([]string, len(chunks))
	results := make(chan chunkResult, len(chunks))
	sem := make(chan struct{}, w.cfg.MaxConcurrentExtract)

	for i, chunk := range chunks {
		prompts[i] = extract.BuildChunkPrompt(title, chunk.Breadcrumb, chunk.Text, chunk.PageStart, chunk.PageEnd)
		sem <- struct{}{}
		go func(i int, prompt string) {
			defer func() { <-sem }()
			start := time.Now()
			var part *doctree.Node
			err := w.cfg.Retry.Do(ctx, log.With("chunk", i), func() error {
				var err error
				part, err = w.extractor.ExtractLineItems(ctx, prompt)
				return err
			})
			extractDuration.Observe(time.Since(start).Seconds())
			results <- chunkResult{part: part, err: err, idx: i}
		}(i, prompts[i])
	}

	ordered := make([]*doctree.Node, len(chunks))
	hadErrors := false
	for range chunks {
		r := <-results
		job.IncrChunksProcessed()
		if r.err != nil {
			chunkExtractions.WithLabelValues("error").Inc()
			log.Error("extraction failed", "chunk", r.idx, "error", r.err)
			job.AddError(fmt.Sprintf("chunk %d: %s", r.idx, r.err))
			hadErrors = true
			continue
		}
		chunkExtractions.WithLabelValues("ok").Inc()
		ordered[r.idx] = r.part
	}

	parts := make([]*doctree.Node, 0, len(ordered))
	for _, p := range ordered {
		if p != nil {
			parts = append(parts, p)
		}
	}
	return parts, prompts, hadErrors
}

// assemble turns a raw merged extraction into a stored quote: sanitized,
// located on the source pages, identified and checked.
func (w *Worker) assemble(raw *doctree.Node, src *parser.Source) (*doctree.Node, extract.Report) {
	doc := extract.SanitizeDocument(raw)
	doc = extract.AttachProvenance(doc, src.Lines)
	doc = editor.EnsureIDs(doc, w.cfg.IDs)
	return extract.CheckDevis(doc)
}

// correct runs the correction round and keeps its answer only when it has
// fewer inconsistencies.
func (w *Worker) correct(ctx context.Context, prompt string, raw *doctree.Node, report extract.Report, src *parser.Source, log *slog.Logger) (*doctree.Node, extract.Report, bool) {
	var fixed *doctree.Node
	err := w.cfg.Retry.Do(ctx, log, func() error {
		var err error
		fixed, err = w.extractor.Correct(ctx, prompt, extract.SanitizeDocument(raw), report)
		return err
	})
	if err != nil {
		log.Warn("correction round failed", "error", err)
		return nil, extract.Report{}, false
	}
	doc, fixedReport := w.assemble(fixed, src)
	if len(fixedReport.Errors) >= len(report.Errors) {
		log.Info("correction round did not help", "before", len(report.Errors), "after", len(fixedReport.Errors))
		return nil, extract.Report{}, false
	}
	return doc, fixedReport, true
}

func countLineItems(doc *doctree.Node) int {
	n := 0
	var walk func(items []*doctree.Node)
	walk = func(items []*doctree.Node) {
		for _, it := range items {
			n++
			walk(devis.SubItems(it))
		}
	}
	if arr, ok := doc.Field(devis.FieldLineItems); ok {
		walk(arr.Items())
	}
	return n
}

// flattenSourceText joins all section text for hashing.
func flattenSourceText(src *parser.Source) string {
	var sb strings.Builder
	var walk func(sections []*parser.Section)
	walk = func(sections []*parser.Section) {
		for _, s := range sections {
			if s.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(s.Text)
			}
			walk(s.Children)
		}
	}
	walk(src.Sections)
	return sb.String()
}
