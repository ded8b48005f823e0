package inpaint

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"fluxfill/document"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// Exporter renders a layer to a full-canvas PNG that keeps its alpha
// channel.
type Exporter struct {
	logger *logging.Logger
}

// NewExporter creates an Exporter.
func NewExporter(logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Exporter{logger: logger}
}

// Export writes the layer to path. The document's own export is tried
// first; if it fails the composited pixels of the canvas rectangle are read
// back and encoded here. Any failure wraps ErrExportFailed.
func (e *Exporter) Export(doc document.Document, layerID, path string) (err error) {
	defer func() {
		// A host export that panics is an export failure, not a crash.
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExportFailed, r)
		}
	}()

	opts := document.ExportOptions{Alpha: true, Flatten: true}
	hostErr := doc.ExportImage(layerID, path, opts)
	if hostErr == nil {
		return nil
	}
	e.logger.Debug("Host export failed, falling back to projection pixels",
		zap.String("layer", layerID),
		zap.Error(hostErr),
	)

	w, h := doc.Width(), doc.Height()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: canvas is %dx%d", ErrExportFailed, w, h)
	}
	rect := image.Rect(0, 0, w, h)
	pix, err := doc.ProjectionPixels(layerID, rect)
	if err != nil {
		return fmt.Errorf("%w: %v; projection: %v", ErrExportFailed, hostErr, err)
	}
	if len(pix) != w*h*4 {
		return fmt.Errorf("%w: projection returned %d bytes for %dx%d", ErrExportFailed, len(pix), w, h)
	}

	img := &image.NRGBA{Pix: pix, Stride: w * 4, Rect: rect}
	if err := writePNGFile(path, img); err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return nil
}

func writePNGFile(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
