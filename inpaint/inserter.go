package inpaint

import (
	"fmt"
	"image"

	"fluxfill/document"
	"fluxfill/logging"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	// The endpoint may answer in any of these formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultLayerSuffix is appended to the source layer name.
const DefaultLayerSuffix = " FLUX"

// DecodeResult reads a downloaded result into a non-premultiplied RGBA
// raster anchored at the origin. Failures wrap ErrDecodeFailed.
func DecodeResult(path string) (*image.NRGBA, error) {
	img, err := decodeImageFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecodeFailed)
	}
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n, nil
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// Inserter places a decoded result into the document above its source
// layer. It mutates the layer tree and must only be called from the
// goroutine that owns the document.
type Inserter struct {
	suffix      string
	fitToCanvas bool
	logger      *logging.Logger
}

// InserterConfig configures an Inserter.
type InserterConfig struct {
	// Suffix is appended to the source layer name (default " FLUX")
	Suffix string

	// FitToCanvas rescales results whose size differs from the canvas.
	FitToCanvas bool
}

// NewInserter creates an Inserter.
func NewInserter(cfg InserterConfig, logger *logging.Logger) *Inserter {
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultLayerSuffix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Inserter{suffix: cfg.Suffix, fitToCanvas: cfg.FitToCanvas, logger: logger}
}

// Insert creates "<sourceName><suffix>", fills it with img from the origin,
// attaches it directly above the source, hides the source and refreshes
// the projection, in that order. It returns the new layer's ID. Failures
// wrap ErrInsertFailed, and whatever was applied before the failure is
// undone: the new layer is removed and the source shown again.
func (in *Inserter) Insert(doc document.Document, sourceID, sourceName string, img *image.NRGBA) (string, error) {
	if img == nil {
		return "", fmt.Errorf("%w: no image", ErrInsertFailed)
	}

	if in.fitToCanvas {
		img = fitTo(img, doc.Width(), doc.Height())
	}
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	layerID, err := doc.CreateLayer(sourceName + in.suffix)
	if err != nil {
		return "", fmt.Errorf("%w: create layer: %v", ErrInsertFailed, err)
	}
	sourceHidden := false
	fail := func(step string, err error) (string, error) {
		in.rollback(doc, layerID, sourceID, sourceHidden)
		return "", fmt.Errorf("%w: %s: %v", ErrInsertFailed, step, err)
	}

	if err := doc.SetLayerPixels(layerID, packedPixels(img), rect); err != nil {
		return fail("set pixels", err)
	}
	if err := doc.InsertLayerAbove(layerID, sourceID); err != nil {
		return fail("attach layer", err)
	}
	if err := doc.SetLayerVisible(sourceID, false); err != nil {
		return fail("hide source", err)
	}
	sourceHidden = true
	if err := doc.RefreshProjection(); err != nil {
		return fail("refresh", err)
	}

	in.logger.Debug("Inserted result layer",
		zap.String("source", sourceName),
		zap.String("layer_id", layerID),
		zap.Int("width", rect.Dx()),
		zap.Int("height", rect.Dy()),
	)
	return layerID, nil
}

// rollback removes a partly inserted layer and restores the source.
// Errors are logged; the insert error is what the caller reports.
func (in *Inserter) rollback(doc document.Document, layerID, sourceID string, sourceHidden bool) {
	if err := doc.RemoveLayer(layerID); err != nil {
		in.logger.Warn("Failed to remove partly inserted layer",
			zap.String("layer_id", layerID), zap.Error(err))
	}
	if sourceHidden {
		if err := doc.SetLayerVisible(sourceID, true); err != nil {
			in.logger.Warn("Failed to restore source visibility",
				zap.String("source_id", sourceID), zap.Error(err))
		}
	}
}

// fitTo rescales img to w x h with Catmull-Rom. Images already at that size
// and degenerate canvases are returned unchanged.
func fitTo(img *image.NRGBA, w, h int) *image.NRGBA {
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() == w && b.Dy() == h) {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// packedPixels returns the pixels without row padding.
func packedPixels(img *image.NRGBA) []byte {
	b := img.Bounds()
	rowBytes := b.Dx() * 4
	if img.Stride == rowBytes && len(img.Pix) == rowBytes*b.Dy() {
		return img.Pix
	}
	pix := make([]byte, 0, rowBytes*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		pix = append(pix, img.Pix[start:start+rowBytes]...)
	}
	return pix
}
