package inpaint

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"fluxfill/document"
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

// halfTransparent returns an image whose left half is opaque and right half
// fully transparent.
func halfTransparent(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 1})
		}
	}
	return img
}

func newWorkspace(t *testing.T, img image.Image) (*document.Workspace, document.Layer) {
	t.Helper()
	ws, err := document.CreateWorkspace(t.TempDir(), "Paint", img)
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	layer, _ := ws.ActiveLayer()
	return ws, layer
}

// recordingDoc wraps a Document, records mutating calls and can fail
// selected operations.
type recordingDoc struct {
	document.Document
	calls      []string
	created    string
	failExport bool
	failPixels bool
	failCreate bool
	failWrite  bool
	failHide   bool
	failFlush  bool
}

func (d *recordingDoc) ExportImage(layerID, path string, opts document.ExportOptions) error {
	d.calls = append(d.calls, "ExportImage")
	if d.failExport {
		return errors.New("host export unavailable")
	}
	return d.Document.ExportImage(layerID, path, opts)
}

func (d *recordingDoc) ProjectionPixels(layerID string, rect image.Rectangle) ([]byte, error) {
	d.calls = append(d.calls, "ProjectionPixels")
	if d.failPixels {
		return nil, errors.New("projection unavailable")
	}
	return d.Document.ProjectionPixels(layerID, rect)
}

func (d *recordingDoc) CreateLayer(name string) (string, error) {
	d.calls = append(d.calls, "CreateLayer")
	if d.failCreate {
		return "", errors.New("layer tree locked")
	}
	id, err := d.Document.CreateLayer(name)
	d.created = id
	return id, err
}

func (d *recordingDoc) SetLayerPixels(layerID string, pix []byte, rect image.Rectangle) error {
	d.calls = append(d.calls, "SetLayerPixels")
	if d.failWrite {
		return errors.New("pixel buffer rejected")
	}
	return d.Document.SetLayerPixels(layerID, pix, rect)
}

func (d *recordingDoc) InsertLayerAbove(layerID, siblingID string) error {
	d.calls = append(d.calls, "InsertLayerAbove")
	return d.Document.InsertLayerAbove(layerID, siblingID)
}

func (d *recordingDoc) SetLayerVisible(layerID string, visible bool) error {
	d.calls = append(d.calls, "SetLayerVisible")
	if d.failHide && !visible {
		return errors.New("layer is locked")
	}
	return d.Document.SetLayerVisible(layerID, visible)
}

func (d *recordingDoc) RemoveLayer(layerID string) error {
	d.calls = append(d.calls, "RemoveLayer")
	return d.Document.RemoveLayer(layerID)
}

func (d *recordingDoc) RefreshProjection() error {
	d.calls = append(d.calls, "RefreshProjection")
	if d.failFlush {
		return errors.New("disk full")
	}
	return d.Document.RefreshProjection()
}
