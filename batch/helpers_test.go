package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fluxfill/document"
	"fluxfill/inpaint"
	"fluxfill/logging"
)

// newTestLogger creates a logger that writes to a temp file.
func newTestLogger(t *testing.T) *logging.Logger {
	tmpDir := t.TempDir()
	logger, err := logging.NewLogger(true, filepath.Join(tmpDir, "test.log"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { logger.Sync() })
	return logger
}

func halfTransparent(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	return img
}

// newLayeredWorkspace creates a workspace with layers L1..Ln above the
// background.
func newLayeredWorkspace(t *testing.T, n int) (*document.Workspace, []WorkItem) {
	t.Helper()
	ws, err := document.CreateWorkspace(t.TempDir(), "Background", halfTransparent(4, 4))
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	below, _ := ws.ActiveLayer()
	src := halfTransparent(4, 4)
	var items []WorkItem
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("L%d", i)
		id, err := ws.CreateLayer(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := ws.SetLayerPixels(id, src.Pix, src.Bounds()); err != nil {
			t.Fatal(err)
		}
		if err := ws.InsertLayerAbove(id, below.ID); err != nil {
			t.Fatal(err)
		}
		below = document.Layer{ID: id}
		items = append(items, WorkItem{ID: id, Name: name, Doc: ws})
	}
	return ws, items
}

// newResultServer serves a 4x4 opaque PNG at any path.
func newResultServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

// fakePredictor counts calls and tracks how many run at once.
type fakePredictor struct {
	fn func(call int, req inpaint.PredictionRequest) (string, error)

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakePredictor) Predict(ctx context.Context, req inpaint.PredictionRequest) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	for _, p := range []string{req.ImagePath, req.MaskPath} {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("input missing: %w", err)
		}
	}
	time.Sleep(5 * time.Millisecond)
	return f.fn(int(f.calls.Add(1)), req)
}

// guardedDoc fails the test if two tree mutations ever overlap, and records
// batch mode toggles.
type guardedDoc struct {
	document.Document
	t      *testing.T
	active atomic.Int32

	mu        sync.Mutex
	batchMode []bool
}

func (d *guardedDoc) enter() func() {
	if d.active.Add(1) > 1 {
		d.t.Error("concurrent document mutation")
	}
	time.Sleep(time.Millisecond)
	return func() { d.active.Add(-1) }
}

func (d *guardedDoc) CreateLayer(name string) (string, error) {
	defer d.enter()()
	return d.Document.CreateLayer(name)
}

func (d *guardedDoc) SetLayerPixels(id string, pix []byte, rect image.Rectangle) error {
	defer d.enter()()
	return d.Document.SetLayerPixels(id, pix, rect)
}

func (d *guardedDoc) InsertLayerAbove(id, sibling string) error {
	defer d.enter()()
	return d.Document.InsertLayerAbove(id, sibling)
}

func (d *guardedDoc) SetLayerVisible(id string, visible bool) error {
	defer d.enter()()
	return d.Document.SetLayerVisible(id, visible)
}

func (d *guardedDoc) RefreshProjection() error {
	defer d.enter()()
	return d.Document.RefreshProjection()
}

func (d *guardedDoc) SetBatchMode(enabled bool) {
	d.mu.Lock()
	d.batchMode = append(d.batchMode, enabled)
	d.mu.Unlock()
	d.Document.SetBatchMode(enabled)
}

// newTestCoordinator wires the real stages around predictor.
func newTestCoordinator(t *testing.T, predictor inpaint.Predictor) *Coordinator {
	t.Helper()
	logger := newTestLogger(t)
	c, err := NewCoordinator(Deps{
		Exporter:  inpaint.NewExporter(logger),
		Predictor: predictor,
		Fetcher:   inpaint.NewFetcher(nil, 5*time.Second, logger),
		Inserter:  inpaint.NewInserter(inpaint.InserterConfig{}, logger),
	}, logger)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return c
}

// listArtifacts returns the flux_* files in dir.
func listArtifacts(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, inpaint.ArtifactPrefix+"*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}
