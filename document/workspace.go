package document

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	// Layers may be seeded from any of these formats.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// Workspace file layout.
const (
	ManifestFile   = "manifest.yaml"
	ProjectionFile = "projection.png"
	LockFile       = ".fluxfill.lock"
	layersDir      = "layers"
	manifestVer    = 1
)

// ErrLocked is returned by OpenWorkspace when another process holds the
// workspace.
var ErrLocked = errors.New("document: workspace is locked by another process")

type manifest struct {
	Version  int             `yaml:"version"`
	Name     string          `yaml:"name"`
	Width    int             `yaml:"width"`
	Height   int             `yaml:"height"`
	Active   string          `yaml:"active,omitempty"`
	Selected []string        `yaml:"selected,omitempty"`
	Layers   []manifestLayer `yaml:"layers"`
}

type manifestLayer struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	File    string `yaml:"file"`
	Visible bool   `yaml:"visible"`
}

type layerState struct {
	id      string
	name    string
	visible bool
	pixels  *image.NRGBA
	dirty   bool
}

// Workspace is a Document stored as a directory: manifest.yaml lists the
// layers bottom to top, each layer lives in layers/<id>.png and
// projection.png holds the last refreshed composite. An exclusive file lock
// keeps a second process from editing the same workspace.
type Workspace struct {
	dir  string
	lock *flock.Flock

	mu       sync.RWMutex
	name     string
	width    int
	height   int
	active   string
	selected []string
	layers   []*layerState          // attached, bottom to top
	detached map[string]*layerState // created but not yet inserted
	removed  []string               // layer files to delete on the next commit

	batchMode      bool
	pendingRefresh bool
	closed         bool
}

var _ Document = (*Workspace)(nil)

// CreateWorkspace initialises dir from a single image. The image becomes the
// only layer, active and visible.
func CreateWorkspace(dir, name string, img image.Image) (*Workspace, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
		return nil, fmt.Errorf("document: %s already contains a workspace", dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, layersDir), 0755); err != nil {
		return nil, fmt.Errorf("document: create workspace: %w", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	base := &layerState{
		id:      newLayerID(),
		name:    name,
		visible: true,
		pixels:  toNRGBA(img),
		dirty:   true,
	}
	ws := &Workspace{
		dir:      dir,
		lock:     lock,
		name:     filepath.Base(dir),
		width:    b.Dx(),
		height:   b.Dy(),
		active:   base.id,
		layers:   []*layerState{base},
		detached: make(map[string]*layerState),
	}
	if err := ws.commitLocked(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return ws, nil
}

// OpenWorkspace loads the workspace in dir and takes its lock.
func OpenWorkspace(dir string) (*Workspace, error) {
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	ws, err := loadWorkspace(dir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	ws.lock = lock
	return ws, nil
}

func acquireLock(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("document: lock workspace: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock, nil
}

func loadWorkspace(dir string) (*Workspace, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("document: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("document: parse manifest: %w", err)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("document: manifest has invalid canvas %dx%d", m.Width, m.Height)
	}

	ws := &Workspace{
		dir:      dir,
		name:     m.Name,
		width:    m.Width,
		height:   m.Height,
		active:   m.Active,
		selected: m.Selected,
		detached: make(map[string]*layerState),
	}
	if ws.name == "" {
		ws.name = filepath.Base(dir)
	}

	seen := make(map[string]bool, len(m.Layers))
	for _, entry := range m.Layers {
		if entry.ID == "" || seen[entry.ID] {
			return nil, fmt.Errorf("document: manifest has missing or duplicate layer id %q", entry.ID)
		}
		seen[entry.ID] = true

		img, err := readImage(filepath.Join(dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("document: layer %q: %w", entry.Name, err)
		}
		ws.layers = append(ws.layers, &layerState{
			id:      entry.ID,
			name:    entry.Name,
			visible: entry.Visible,
			pixels:  toNRGBA(img),
		})
	}
	return ws, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Name returns the workspace name.
func (w *Workspace) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.name
}

// Width returns the canvas width.
func (w *Workspace) Width() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.width
}

// Height returns the canvas height.
func (w *Workspace) Height() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.height
}

// Layers lists attached layers bottom to top.
func (w *Workspace) Layers() []Layer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Layer, 0, len(w.layers))
	for _, l := range w.layers {
		out = append(out, l.view())
	}
	return out
}

// Layer returns the attached or detached layer with id.
func (w *Workspace) Layer(id string) (Layer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	l := w.findLocked(id)
	if l == nil {
		return Layer{}, false
	}
	return l.view(), true
}

// ActiveLayer returns the manifest's active layer.
func (w *Workspace) ActiveLayer() (Layer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, l := w.attachedLocked(w.active); l != nil {
		return l.view(), true
	}
	return Layer{}, false
}

// SelectedLayers returns the selection in stacking order. Stale IDs are
// skipped.
func (w *Workspace) SelectedLayers() []Layer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	wanted := make(map[string]bool, len(w.selected))
	for _, id := range w.selected {
		wanted[id] = true
	}
	var out []Layer
	for _, l := range w.layers {
		if wanted[l.id] {
			out = append(out, l.view())
		}
	}
	return out
}

// SetActive marks id as the active layer.
func (w *Workspace) SetActive(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, l := w.attachedLocked(id); l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	w.active = id
	return w.writeManifestLocked()
}

// SetSelection replaces the multi-selection.
func (w *Workspace) SetSelection(ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		if _, l := w.attachedLocked(id); l == nil {
			return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
		}
	}
	w.selected = append([]string(nil), ids...)
	return w.writeManifestLocked()
}

// ExportImage writes the layer composited onto a transparent canvas-sized
// raster. Without opts.Alpha the raster is flattened onto white.
func (w *Workspace) ExportImage(layerID, path string, opts ExportOptions) error {
	w.mu.RLock()
	canvas, err := w.renderLayerLocked(layerID)
	w.mu.RUnlock()
	if err != nil {
		return err
	}

	var out image.Image = canvas
	if !opts.Alpha {
		flat := image.NewNRGBA(canvas.Bounds())
		draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), canvas, image.Point{}, draw.Over)
		out = flat
	}
	return writePNG(path, out)
}

// ProjectionPixels returns the layer's composited pixels inside rect.
func (w *Workspace) ProjectionPixels(layerID string, rect image.Rectangle) ([]byte, error) {
	w.mu.RLock()
	canvas, err := w.renderLayerLocked(layerID)
	w.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !rect.In(canvas.Bounds()) || rect.Empty() {
		return nil, fmt.Errorf("document: rectangle %v outside canvas %v", rect, canvas.Bounds())
	}

	pix := make([]byte, 0, rect.Dx()*rect.Dy()*4)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		start := canvas.PixOffset(rect.Min.X, y)
		pix = append(pix, canvas.Pix[start:start+rect.Dx()*4]...)
	}
	return pix, nil
}

// CreateLayer creates a detached, visible, empty layer.
func (w *Workspace) CreateLayer(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}
	id := newLayerID()
	w.detached[id] = &layerState{
		id:      id,
		name:    name,
		visible: true,
		pixels:  image.NewNRGBA(image.Rect(0, 0, 0, 0)),
		dirty:   true,
	}
	return id, nil
}

// SetLayerPixels copies pix into rect of the layer, growing the layer so
// it spans at least rect.Max.
func (w *Workspace) SetLayerPixels(layerID string, pix []byte, rect image.Rectangle) error {
	if rect.Empty() || rect.Min.X < 0 || rect.Min.Y < 0 || len(pix) != rect.Dx()*rect.Dy()*4 {
		return fmt.Errorf("%w: %d bytes for %v", ErrInvalidPixels, len(pix), rect)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	l := w.findLocked(layerID)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layerID)
	}

	bounds := l.pixels.Bounds().Union(image.Rect(0, 0, rect.Max.X, rect.Max.Y))
	if bounds != l.pixels.Bounds() {
		grown := image.NewNRGBA(bounds)
		draw.Draw(grown, l.pixels.Bounds(), l.pixels, l.pixels.Bounds().Min, draw.Src)
		l.pixels = grown
	}
	rowBytes := rect.Dx() * 4
	for y := 0; y < rect.Dy(); y++ {
		dst := l.pixels.PixOffset(rect.Min.X, rect.Min.Y+y)
		copy(l.pixels.Pix[dst:dst+rowBytes], pix[y*rowBytes:(y+1)*rowBytes])
	}
	l.dirty = true
	return nil
}

// InsertLayerAbove attaches a detached layer directly above sibling.
func (w *Workspace) InsertLayerAbove(layerID, siblingID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.detached[layerID]
	if !ok {
		return fmt.Errorf("%w: %s is not a detached layer", ErrLayerNotFound, layerID)
	}
	idx, _ := w.attachedLocked(siblingID)
	if idx < 0 {
		return fmt.Errorf("%w: sibling %s", ErrLayerNotFound, siblingID)
	}

	w.layers = append(w.layers, nil)
	copy(w.layers[idx+2:], w.layers[idx+1:])
	w.layers[idx+1] = l
	delete(w.detached, layerID)
	return nil
}

// RemoveLayer drops a layer from the stack or from the detached set. Its
// file is deleted, and the manifest rewritten, by the next refresh.
func (w *Workspace) RemoveLayer(layerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, ok := w.detached[layerID]; ok {
		delete(w.detached, layerID)
		return nil
	}
	idx, _ := w.attachedLocked(layerID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layerID)
	}
	w.layers = append(w.layers[:idx], w.layers[idx+1:]...)
	w.removed = append(w.removed, layerID)
	if w.active == layerID {
		w.active = ""
		if len(w.layers) > 0 {
			w.active = w.layers[len(w.layers)-1].id
		}
	}
	selected := w.selected[:0]
	for _, id := range w.selected {
		if id != layerID {
			selected = append(selected, id)
		}
	}
	w.selected = selected
	return nil
}

// SetLayerVisible toggles visibility of an attached or detached layer.
func (w *Workspace) SetLayerVisible(layerID string, visible bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	l := w.findLocked(layerID)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layerID)
	}
	l.visible = visible
	return nil
}

// RefreshProjection composites the visible layers into projection.png and
// persists the manifest and changed layers. In batch mode the work is
// deferred until batch mode ends.
func (w *Workspace) RefreshProjection() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.batchMode {
		w.pendingRefresh = true
		return nil
	}
	return w.commitLocked()
}

// SetBatchMode defers RefreshProjection while enabled. Turning it off
// flushes a deferred refresh; a flush error is returned by Close.
func (w *Workspace) SetBatchMode(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batchMode = enabled
	if !enabled && w.pendingRefresh && !w.closed {
		if err := w.commitLocked(); err == nil {
			w.pendingRefresh = false
		}
	}
}

// Projection renders the current visible composite without writing it.
func (w *Workspace) Projection() *image.NRGBA {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.compositeLocked()
}

// Close flushes a deferred refresh and releases the workspace lock.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	var flushErr error
	if w.pendingRefresh {
		flushErr = w.commitLocked()
		w.pendingRefresh = false
	}
	w.closed = true
	if w.lock != nil {
		if err := w.lock.Unlock(); err != nil && flushErr == nil {
			flushErr = fmt.Errorf("document: unlock workspace: %w", err)
		}
	}
	return flushErr
}

func (w *Workspace) findLocked(id string) *layerState {
	if _, l := w.attachedLocked(id); l != nil {
		return l
	}
	return w.detached[id]
}

func (w *Workspace) attachedLocked(id string) (int, *layerState) {
	for i, l := range w.layers {
		if l.id == id {
			return i, l
		}
	}
	return -1, nil
}

// renderLayerLocked draws one layer at the canvas origin onto a transparent
// canvas-sized raster, regardless of its visibility.
func (w *Workspace) renderLayerLocked(id string) (*image.NRGBA, error) {
	if w.closed {
		return nil, ErrClosed
	}
	l := w.findLocked(id)
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w.width, w.height))
	draw.Draw(canvas, canvas.Bounds(), l.pixels, image.Point{}, draw.Src)
	return canvas, nil
}

func (w *Workspace) compositeLocked() *image.NRGBA {
	canvas := image.NewNRGBA(image.Rect(0, 0, w.width, w.height))
	for _, l := range w.layers {
		if l.visible {
			draw.Draw(canvas, canvas.Bounds(), l.pixels, image.Point{}, draw.Over)
		}
	}
	return canvas
}

func (w *Workspace) commitLocked() error {
	for _, l := range w.layers {
		if !l.dirty {
			continue
		}
		if err := writePNG(filepath.Join(w.dir, layerFile(l.id)), l.pixels); err != nil {
			return fmt.Errorf("document: write layer %q: %w", l.name, err)
		}
		l.dirty = false
	}
	if err := writePNG(filepath.Join(w.dir, ProjectionFile), w.compositeLocked()); err != nil {
		return fmt.Errorf("document: write projection: %w", err)
	}
	if err := w.writeManifestLocked(); err != nil {
		return err
	}
	for _, id := range w.removed {
		if err := os.Remove(filepath.Join(w.dir, layerFile(id))); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("document: remove layer file: %w", err)
		}
	}
	w.removed = nil
	return nil
}

func (w *Workspace) writeManifestLocked() error {
	m := manifest{
		Version:  manifestVer,
		Name:     w.name,
		Width:    w.width,
		Height:   w.height,
		Active:   w.active,
		Selected: w.selected,
	}
	for _, l := range w.layers {
		m.Layers = append(m.Layers, manifestLayer{
			ID:      l.id,
			Name:    l.name,
			File:    layerFile(l.id),
			Visible: l.visible,
		})
	}
	raw, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("document: encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(w.dir, ManifestFile), raw)
}

func (l *layerState) view() Layer {
	b := l.pixels.Bounds()
	return Layer{ID: l.id, Name: l.name, Visible: l.visible, Width: b.Dx(), Height: b.Dy()}
}

func layerFile(id string) string {
	return filepath.Join(layersDir, id+".png")
}

func newLayerID() string {
	return uuid.New().String()[:8]
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func writePNG(path string, img image.Image) error {
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

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("document: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("document: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
