// Package document defines the host document/layer API the inpainting
// pipeline drives, and a file-backed host implementation of it.
//
// The pipeline only ever talks to the Document interface. Reads (export,
// pixel buffers) may come from any goroutine; structural mutations
// (CreateLayer, SetLayerPixels, InsertLayerAbove, SetLayerVisible,
// RefreshProjection) are issued from a single goroutine by the batch
// coordinator, mirroring host applications that forbid concurrent tree edits.
package document

import (
	"errors"
	"image"
)

// Errors returned by Document implementations.
var (
	ErrLayerNotFound = errors.New("document: layer not found")
	ErrInvalidPixels = errors.New("document: pixel buffer does not match rectangle")
	ErrClosed        = errors.New("document: closed")
)

// ExportOptions mirrors the host's export switches.
type ExportOptions struct {
	// Alpha keeps the alpha channel in the written file.
	Alpha bool
	// Flatten composites the layer into a single raster at canvas size.
	Flatten bool
}

// Layer is a read-only view of one layer.
type Layer struct {
	ID      string
	Name    string
	Visible bool
	Width   int
	Height  int
}

// Document is the host collaborator consumed by the pipeline.
type Document interface {
	// Name identifies the document in logs.
	Name() string

	// Width and Height are the canvas dimensions.
	Width() int
	Height() int

	// Layers lists layers bottom to top.
	Layers() []Layer

	// Layer looks a layer up by ID.
	Layer(id string) (Layer, bool)

	// ActiveLayer returns the layer the user is working on, if any.
	ActiveLayer() (Layer, bool)

	// SelectedLayers returns the user's multi-selection, bottom to top.
	SelectedLayers() []Layer

	// ExportImage renders the layer to path as PNG.
	ExportImage(layerID, path string, opts ExportOptions) error

	// ProjectionPixels returns the composited pixels of the layer inside
	// rect as non-premultiplied RGBA bytes, 4 bytes per pixel, row-major.
	ProjectionPixels(layerID string, rect image.Rectangle) ([]byte, error)

	// CreateLayer creates a detached paint layer and returns its ID.
	CreateLayer(name string) (string, error)

	// SetLayerPixels writes non-premultiplied RGBA bytes into rect of the
	// layer, resizing the layer to cover rect.
	SetLayerPixels(layerID string, pix []byte, rect image.Rectangle) error

	// InsertLayerAbove attaches a detached layer directly above sibling.
	InsertLayerAbove(layerID, siblingID string) error

	// RemoveLayer drops an attached or detached layer. Used to undo a
	// partly applied insert.
	RemoveLayer(layerID string) error

	// SetLayerVisible toggles layer visibility.
	SetLayerVisible(layerID string, visible bool) error

	// RefreshProjection recomputes the visible composite.
	RefreshProjection() error

	// SetBatchMode suppresses per-change side effects until turned off.
	SetBatchMode(enabled bool)
}
