package batch

import (
	"context"
	"fmt"
	"image"
	"time"

	"fluxfill/document"
	"fluxfill/inpaint"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// Exporter renders a layer to a PNG file.
type Exporter interface {
	Export(doc document.Document, layerID, path string) error
}

// Fetcher downloads a result URL to a file.
type Fetcher interface {
	Fetch(ctx context.Context, url, path string) error
}

// Inserter places a decoded result into the document. It is only called
// from the coordinator goroutine.
type Inserter interface {
	Insert(doc document.Document, sourceID, sourceName string, img *image.NRGBA) (string, error)
}

// StageRecorder receives the duration and result of every stage attempt.
// Implementations must be safe for concurrent use.
type StageRecorder interface {
	RecordStage(stage string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, time.Duration, error) {}

// job is one item handed to a worker.
type job struct {
	index int
	item  WorkItem
}

// result is what a worker sends back for one item: a decoded image ready
// for insertion, or the stage where it failed.
type result struct {
	job
	stage    Stage
	err      error
	img      *image.NRGBA
	token    string
	duration time.Duration
}

// pipeline runs the worker-side stages of one item.
type pipeline struct {
	exporter  Exporter
	predictor inpaint.Predictor
	fetcher   Fetcher
	mask      func(src, dst string) error
	decode    func(path string) (*image.NRGBA, error)
	prompt    string
	keepTemp  bool
	recorder  StageRecorder
	logger    *logging.Logger
}

// timed runs fn and reports it to the recorder under name.
func (p *pipeline) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.recorder.RecordStage(name, time.Since(start), err)
	return err
}

// decodeStage is the recorder name of result decoding, which outcomes
// attribute to StageInserting.
const decodeStage = "decoding"

// run executes Export → Mask → Request → Download → Decode for one item.
// Artifacts are released on every exit path unless keepTemp is set: the
// export and mask once the request step ends, the result once decoded.
func (p *pipeline) run(ctx context.Context, j job, tokens *inpaint.TokenSource) (res result) {
	start := time.Now()
	art := tokens.Next()
	res = result{job: j, stage: StageExporting, token: art.Token}
	log := p.logger.With(
		zap.String("layer", j.item.Name),
		zap.String("worker", art.Token),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", zap.String("stage", res.stage.String()), zap.Any("panic", r))
			res.err = &panicError{value: r}
			res.img = nil
			inpaint.Remove(log, p.keepTemp, art.Image, art.Mask, art.Result)
		}
		res.duration = time.Since(start)
	}()

	url, err := p.request(ctx, j.item, art, &res.stage, log)
	if err != nil {
		res.err = err
		return res
	}

	res.stage = StageDownloading
	if err := p.timed(StageDownloading.String(), func() error { return p.fetcher.Fetch(ctx, url, art.Result) }); err != nil {
		inpaint.Remove(log, p.keepTemp, art.Result)
		res.err = err
		return res
	}

	res.stage = StageInserting
	var img *image.NRGBA
	err = p.timed(decodeStage, func() (err error) {
		img, err = p.decode(art.Result)
		return err
	})
	inpaint.Remove(log, p.keepTemp, art.Result)
	if err != nil {
		res.err = err
		return res
	}
	res.img = img
	return res
}

// request covers the stages that need the export and mask files, and
// releases both before returning. stage is advanced before each step runs,
// so a failure or panic is attributed to the step that was executing.
func (p *pipeline) request(ctx context.Context, item WorkItem, art inpaint.Artifacts, stage *Stage, log *logging.Logger) (string, error) {
	defer inpaint.Remove(log, p.keepTemp, art.Image, art.Mask)

	*stage = StageExporting
	if err := p.timed(StageExporting.String(), func() error { return p.exporter.Export(item.Doc, item.ID, art.Image) }); err != nil {
		return "", err
	}
	*stage = StageMasking
	if err := p.timed(StageMasking.String(), func() error { return p.mask(art.Image, art.Mask) }); err != nil {
		return "", err
	}

	*stage = StageRequesting
	start := time.Now()
	var url string
	err := p.timed(StageRequesting.String(), func() (err error) {
		url, err = p.predictor.Predict(ctx, inpaint.PredictionRequest{
			Prompt:    p.prompt,
			ImagePath: art.Image,
			MaskPath:  art.Mask,
		})
		if err == nil && url == "" {
			err = fmt.Errorf("%w: empty URL", inpaint.ErrNoOutputURL)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	log.Info("Prediction completed", zap.Duration("duration", time.Since(start)))
	return url, nil
}
