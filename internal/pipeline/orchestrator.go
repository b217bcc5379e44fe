package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/devistree/internal/blob"
	"github.com/dgallion1/devistree/internal/chunker"
	"github.com/dgallion1/devistree/internal/config"
	"github.com/dgallion1/devistree/internal/parser"
	"github.com/dgallion1/devistree/internal/store"
)

// Orchestrator manages the quote extraction pipeline.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	extractor Extractor
	store     store.Store
	blobs     blob.Store
	log       *slog.Logger
	workers   int
	maxQueue  int
	workerCfg WorkerConfig

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex // guards queue closing against Submit
	stopped bool
}

// NewOrchestrator creates the pipeline. Call Start to launch the workers.
func NewOrchestrator(cfg config.Config, ex Extractor, st store.Store, blobs blob.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:      NewJobStore(cfg.JobTTL),
		queue:     make(chan *Job, cfg.MaxQueueSize),
		extractor: ex,
		store:     st,
		blobs:     blobs,
		log:       log,
		workers:   cfg.WorkerCount,
		maxQueue:  cfg.MaxQueueSize,
		workerCfg: WorkerConfig{
			Chunk: chunker.Config{
				ChunkSize:    cfg.DefaultChunkSize,
				ChunkOverlap: cfg.DefaultChunkOverlap,
			},
			MaxConcurrentExtract: cfg.MaxConcurrentExtract,
			ParserOptions:        parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
			Correct:              cfg.ExtractCorrection,
			Retry:                DefaultRetry,
		},
	}
}

// jobSweepInterval is how often expired jobs are dropped from the JobStore.
const jobSweepInterval = 5 * time.Minute

// Start launches the workers and the job sweeper. They stop when ctx is
// cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.run(ctx, NewWorker(o.extractor, o.store, o.blobs, o.log, o.workerCfg))
	}
	o.wg.Add(1)
	go o.sweep(ctx)
}

func (o *Orchestrator) run(ctx context.Context, w *Worker) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-o.queue:
			if !ok {
				return
			}
			w.Process(ctx, job)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(jobSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.jobs.Cleanup()
		}
	}
}

// Stop cancels in-flight jobs and waits for the workers to exit. Jobs still
// queued are abandoned.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		close(o.queue)
		o.mu.Unlock()
		if o.cancel != nil {
			o.cancel()
		}
		o.wg.Wait()
	})
}

// Submit registers job and queues it. A full queue fails the job right away
// so the caller can report it.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		job.SetStatus(StatusFailed, "shutting_down")
		return errors.New("pipeline is shutting down")
	}
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.maxQueue)
	}
}

// GetJob returns a job by ID, or nil once it has expired.
func (o *Orchestrator) GetJob(id string) *Job { return o.jobs.Get(id) }

// QueueDepth is the number of jobs waiting for a worker.
func (o *Orchestrator) QueueDepth() int { return len(o.queue) }
