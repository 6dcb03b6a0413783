// Package batch runs many analyses with a fixed number of workers and reports
// them back in input order.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/models"
)

const DefaultWorkers = 4

type ItemStatus string

const (
	ItemDone         ItemStatus = "done"
	ItemFailed       ItemStatus = "failed"
	ItemNotAttempted ItemStatus = "not_attempted"
)

// Item is the outcome for one input position. A failed item may still carry
// a stale analysis.
type Item struct {
	Index    int              `json:"index"`
	ISRC     string           `json:"isrc"`
	Status   ItemStatus       `json:"status"`
	Analysis *models.Analysis `json:"analysis,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
}

type Report struct {
	ID           string    `json:"id"`
	Items        []Item    `json:"items"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	NotAttempted int       `json:"not_attempted"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Progress counts finished items, failed ones included.
type Progress struct {
	RunID     string
	Completed int
	Total     int
}

// AnalyzeFunc analyzes one ISRC.
type AnalyzeFunc func(ctx context.Context, isrc string) (*models.Analysis, error)

type Coordinator struct {
	workers    int
	deadline   time.Duration
	onProgress func(Progress)
	logger     *slog.Logger
}

type Option func(*Coordinator)

// WithWorkers sets how many items run at once.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithDeadline stops dispatching new items once d has passed.
func WithDeadline(d time.Duration) Option {
	return func(c *Coordinator) { c.deadline = d }
}

// WithProgress registers a callback invoked after every finished item. Calls
// are serialized.
func WithProgress(fn func(Progress)) Option {
	return func(c *Coordinator) { c.onProgress = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.NewComponentLogger(l, "batch") }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		workers: DefaultWorkers,
		logger:  logging.NewComponentLogger(nil, "batch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is one batch in progress.
type Run struct {
	id        string
	total     int
	completed atomic.Int64
	done      chan struct{}
	report    *Report
}

// ID returns the run's UUID.
func (r *Run) ID() string { return r.id }

// Progress may be read at any time.
func (r *Run) Progress() Progress {
	return Progress{RunID: r.id, Completed: int(r.completed.Load()), Total: r.total}
}

// Wait blocks until every dispatched item has finished.
func (r *Run) Wait() *Report {
	<-r.done
	return r.report
}

// Run analyzes isrcs and waits for the report.
func (c *Coordinator) Run(ctx context.Context, isrcs []string, analyze AnalyzeFunc) *Report {
	return c.Start(ctx, isrcs, analyze).Wait()
}

// Start dispatches isrcs in order to at most the configured number of workers.
// Cancelling ctx or passing the batch deadline stops dispatch; items not yet
// dispatched are reported as not attempted while dispatched ones finish.
func (c *Coordinator) Start(ctx context.Context, isrcs []string, analyze AnalyzeFunc) *Run {
	run := &Run{id: uuid.NewString(), total: len(isrcs), done: make(chan struct{})}
	report := &Report{ID: run.id, Items: make([]Item, len(isrcs)), StartedAt: time.Now()}
	for i, isrc := range isrcs {
		report.Items[i] = Item{
			Index:  i,
			ISRC:   isrc,
			Status: ItemNotAttempted,
			Err:    apperrors.ErrNotAttempted,
			Error:  apperrors.ErrNotAttempted.Error(),
		}
	}
	run.report = report

	dispatchCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.deadline > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, c.deadline)
	}
	itemCtx := context.WithoutCancel(ctx)
	logger := c.logger.With(logging.String(logging.FieldRunID, run.id))

	go func() {
		defer close(run.done)
		defer cancel()

		var progressMu sync.Mutex
		sem := semaphore.NewWeighted(int64(c.workers))
		var g errgroup.Group
		for i, isrc := range isrcs {
			err := dispatchCtx.Err()
			if err == nil {
				err = sem.Acquire(dispatchCtx, 1)
			}
			if err != nil {
				logger.Warn("batch dispatch stopped",
					logging.Int("dispatched", i),
					logging.Int("total", len(isrcs)),
					logging.Error(err))
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				a, err := analyze(itemCtx, isrc)
				item := &report.Items[i]
				item.Analysis = a
				item.Err = err
				item.Error = ""
				item.Status = ItemDone
				if err != nil {
					item.Status = ItemFailed
					item.Error = err.Error()
				}

				progressMu.Lock()
				defer progressMu.Unlock()
				completed := run.completed.Add(1)
				if c.onProgress != nil {
					c.onProgress(Progress{RunID: run.id, Completed: int(completed), Total: run.total})
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, item := range report.Items {
			switch item.Status {
			case ItemDone:
				report.Completed++
			case ItemFailed:
				report.Failed++
			default:
				report.NotAttempted++
			}
		}
		report.FinishedAt = time.Now()
		logger.Info("batch finished",
			logging.Int("total", len(isrcs)),
			logging.Int("completed", report.Completed),
			logging.Int("failed", report.Failed),
			logging.Int("not_attempted", report.NotAttempted),
			logging.Duration(logging.FieldLatency, report.FinishedAt.Sub(report.StartedAt)))
	}()
	return run
}
