package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"fluxfill/core"
	"fluxfill/document"
	"fluxfill/inpaint"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// Progress bounds in percent.
const (
	ProgressStart = 5
	ProgressDone  = 100
)

// ErrCancelled is recorded for items that were never scheduled.
var ErrCancelled = errors.New("cancelled before start")

// ProgressFunc receives the overall percentage and, for item completions,
// the outcome line. It is always called from the goroutine running Run.
type ProgressFunc func(percent int, line string)

// Deps are the stage implementations a Coordinator drives.
type Deps struct {
	Exporter  Exporter
	Predictor inpaint.Predictor
	Fetcher   Fetcher
	Inserter  Inserter

	// Mask and Decode default to inpaint.MaskFile and inpaint.DecodeResult.
	Mask   func(src, dst string) error
	Decode func(path string) (*image.NRGBA, error)
}

// Options configure one run.
type Options struct {
	Prompt   string
	Workers  WorkerSetting
	TempDir  string // default os.TempDir()
	KeepTemp bool
	Progress ProgressFunc

	// Recorder receives per-stage timings (optional).
	Recorder StageRecorder
}

// Coordinator fans items out to a bounded pool of workers and is the only
// writer of the document tree, the outcome log and progress.
type Coordinator struct {
	deps   Deps
	logger *logging.Logger
}

// NewCoordinator checks deps and fills in defaults.
func NewCoordinator(deps Deps, logger *logging.Logger) (*Coordinator, error) {
	if deps.Exporter == nil || deps.Predictor == nil || deps.Fetcher == nil || deps.Inserter == nil {
		return nil, fmt.Errorf("batch: exporter, predictor, fetcher and inserter are required")
	}
	if deps.Mask == nil {
		deps.Mask = inpaint.MaskFile
	}
	if deps.Decode == nil {
		deps.Decode = inpaint.DecodeResult
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{deps: deps, logger: logger.Named("batch")}, nil
}

// Run processes items and returns the outcome log, which always holds
// exactly one entry per item.
//
// A blank prompt is rejected before anything starts. Cancelling ctx stops
// scheduling further items; items already running finish, and the rest are
// recorded as skipped. Network calls are bounded by the stage clients'
// own timeouts, not by ctx.
func (c *Coordinator) Run(ctx context.Context, items []WorkItem, opts Options) (*Outcome, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, core.ErrMissingPrompt()
	}
	for _, it := range items {
		if it.Doc == nil {
			return nil, core.ErrNoDocument()
		}
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("batch: create temp dir: %w", err)
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(int, string) {}
	}

	total := len(items)
	workers := min(opts.Workers.Resolve(), max(total, 1))
	outcome := newOutcome(total, workers)

	c.logger.Info("Batch starting",
		zap.Int("items", total),
		zap.Int("workers", workers),
		zap.String("worker_setting", opts.Workers.String()),
		zap.Bool("keep_temp", opts.KeepTemp),
	)
	progress(ProgressStart, "")

	if total > 0 {
		docs := distinctDocs(items)
		for _, d := range docs {
			d.SetBatchMode(true)
		}
		defer func() {
			for _, d := range docs {
				d.SetBatchMode(false)
			}
		}()

		c.dispatch(ctx, items, opts, workers, outcome, progress)
	}

	outcome.Duration = time.Since(outcome.Started)
	c.logger.Info("Batch complete",
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("failed", outcome.Failed),
		zap.Int("skipped", outcome.Skipped),
		zap.Duration("duration", outcome.Duration),
	)
	progress(ProgressDone, "")
	return outcome, nil
}

func (c *Coordinator) dispatch(ctx context.Context, items []WorkItem, opts Options, workers int, outcome *Outcome, progress ProgressFunc) {
	p := &pipeline{
		exporter:  c.deps.Exporter,
		predictor: c.deps.Predictor,
		fetcher:   c.deps.Fetcher,
		mask:      c.deps.Mask,
		decode:    c.deps.Decode,
		prompt:    opts.Prompt,
		keepTemp:  opts.KeepTemp,
		recorder:  opts.Recorder,
		logger:    c.logger,
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}

	// In-flight items run to completion even after a cancel.
	workCtx := context.WithoutCancel(ctx)

	jobs := make(chan job)
	results := make(chan result, workers)
	scheduled := make(chan int, 1)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens := inpaint.NewTokenSource(opts.TempDir)
			for j := range jobs {
				results <- p.run(workCtx, j, tokens)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, it := range items {
			if ctx.Err() != nil {
				scheduled <- i
				return
			}
			select {
			case jobs <- job{index: i, item: it}:
			case <-ctx.Done():
				scheduled <- i
				return
			}
		}
		scheduled <- len(items)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		c.complete(res, outcome, progress, p.recorder)
	}

	n := <-scheduled
	if n < len(items) {
		c.logger.Warn("Batch cancelled, skipping unscheduled items", zap.Int("skipped", len(items)-n))
	}
	for i := n; i < len(items); i++ {
		c.complete(result{job: job{index: i, item: items[i]}, stage: StageSkipped, err: ErrCancelled}, outcome, progress, p.recorder)
	}
}

// complete inserts a decoded result and records the item. It runs on the
// coordinator goroutine only.
func (c *Coordinator) complete(res result, outcome *Outcome, progress ProgressFunc, recorder StageRecorder) {
	item := ItemOutcome{
		Index:    res.index,
		Item:     res.item,
		Stage:    res.stage,
		Err:      res.err,
		Worker:   res.token,
		Duration: res.duration,
	}

	if res.err == nil {
		start := time.Now()
		layerID, err := c.insert(res)
		recorder.RecordStage(StageInserting.String(), time.Since(start), err)
		if err != nil {
			item.Err = err
		} else {
			item.Stage = StageSucceeded
			item.LayerID = layerID
		}
	}

	item.Status = statusFor(res.item, item.Stage, item.Err)
	if item.Err != nil && item.Stage != StageSkipped {
		c.logger.Warn("Item failed",
			zap.String("layer", res.item.Name),
			zap.String("stage", item.Stage.String()),
			zap.Error(item.Err),
		)
	}

	line := outcome.record(item)
	done := len(outcome.Items)
	progress(ProgressStart+(ProgressDone-ProgressStart)*done/outcome.Total, line)
}

func (c *Coordinator) insert(res result) (layerID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return c.deps.Inserter.Insert(res.item.Doc, res.item.ID, res.item.Name, res.img)
}

func distinctDocs(items []WorkItem) []document.Document {
	var docs []document.Document
	for _, it := range items {
		found := false
		for _, d := range docs {
			if d == it.Doc {
				found = true
				break
			}
		}
		if !found {
			docs = append(docs, it.Doc)
		}
	}
	return docs
}
