package inpaint

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestInserter_OrderedContract(t *testing.T) {
	ws, layer := newWorkspace(t, halfTransparent(4, 4))
	doc := &recordingDoc{Document: ws}

	id, err := NewInserter(InserterConfig{}, newTestLogger(t)).Insert(doc, layer.ID, layer.Name, solid(4, 4, color.NRGBA{G: 200, A: 255}))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	want := "CreateLayer,SetLayerPixels,InsertLayerAbove,SetLayerVisible,RefreshProjection"
	if got := strings.Join(doc.calls, ","); got != want {
		t.Errorf("calls = %s\nwant   %s", got, want)
	}

	layers := ws.Layers()
	if len(layers) != 2 {
		t.Fatalf("layers = %+v", layers)
	}
	if layers[0].ID != layer.ID || layers[0].Visible {
		t.Errorf("source = %+v, want hidden", layers[0])
	}
	if layers[1].ID != id || layers[1].Name != "Paint FLUX" || !layers[1].Visible {
		t.Errorf("inserted = %+v", layers[1])
	}
	if c := ws.Projection().NRGBAAt(3, 3); c != (color.NRGBA{G: 200, A: 255}) {
		t.Errorf("projection = %v, want result pixels", c)
	}
}

func TestInserter_FitToCanvas(t *testing.T) {
	ws, layer := newWorkspace(t, halfTransparent(8, 6))

	in := NewInserter(InserterConfig{Suffix: " (filled)", FitToCanvas: true}, nil)
	id, err := in.Insert(ws, layer.ID, layer.Name, solid(16, 12, color.NRGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	got, _ := ws.Layer(id)
	if got.Width != 8 || got.Height != 6 || got.Name != "Paint (filled)" {
		t.Errorf("layer = %+v, want 8x6 named with suffix", got)
	}
}

func TestInserter_KeepsResultSizeByDefault(t *testing.T) {
	ws, layer := newWorkspace(t, halfTransparent(8, 6))

	id, err := NewInserter(InserterConfig{}, nil).Insert(ws, layer.ID, layer.Name, solid(16, 12, color.NRGBA{A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := ws.Layer(id); got.Width != 16 || got.Height != 12 {
		t.Errorf("layer = %+v, want 16x12", got)
	}
}

func TestInserter_Failure(t *testing.T) {
	ws, layer := newWorkspace(t, halfTransparent(2, 2))
	doc := &recordingDoc{Document: ws, failCreate: true}

	_, err := NewInserter(InserterConfig{}, nil).Insert(doc, layer.ID, layer.Name, solid(2, 2, color.NRGBA{A: 255}))
	if !errors.Is(err, ErrInsertFailed) {
		t.Fatalf("error = %v, want ErrInsertFailed", err)
	}
	if l, _ := ws.Layer(layer.ID); !l.Visible {
		t.Error("source hidden although insertion failed")
	}

	if _, err := NewInserter(InserterConfig{}, nil).Insert(ws, layer.ID, layer.Name, nil); !errors.Is(err, ErrInsertFailed) {
		t.Errorf("nil image error = %v", err)
	}
}

func TestInserter_UndoesPartialInsert(t *testing.T) {
	tests := []struct {
		name  string
		doc   func(*recordingDoc)
		calls string
	}{
		{
			name:  "set pixels",
			doc:   func(d *recordingDoc) { d.failWrite = true },
			calls: "CreateLayer,SetLayerPixels,RemoveLayer",
		},
		{
			name:  "hide source",
			doc:   func(d *recordingDoc) { d.failHide = true },
			calls: "CreateLayer,SetLayerPixels,InsertLayerAbove,SetLayerVisible,RemoveLayer",
		},
		{
			name:  "refresh",
			doc:   func(d *recordingDoc) { d.failFlush = true },
			calls: "CreateLayer,SetLayerPixels,InsertLayerAbove,SetLayerVisible,RefreshProjection,RemoveLayer,SetLayerVisible",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, layer := newWorkspace(t, halfTransparent(2, 2))
			doc := &recordingDoc{Document: ws}
			tt.doc(doc)

			_, err := NewInserter(InserterConfig{}, newTestLogger(t)).Insert(doc, layer.ID, layer.Name, solid(2, 2, color.NRGBA{A: 255}))
			if !errors.Is(err, ErrInsertFailed) {
				t.Fatalf("error = %v, want ErrInsertFailed", err)
			}
			if got := strings.Join(doc.calls, ","); got != tt.calls {
				t.Errorf("calls = %s\nwant   %s", got, tt.calls)
			}

			layers := ws.Layers()
			if len(layers) != 1 || layers[0].ID != layer.ID || !layers[0].Visible {
				t.Errorf("layers = %+v, want only the visible source", layers)
			}
			if _, ok := ws.Layer(doc.created); ok {
				t.Errorf("result layer %s left behind", doc.created)
			}
		})
	}
}

func TestDecodeResult(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "out.png")
	if err := writePNGFile(pngPath, halfTransparent(3, 2)); err != nil {
		t.Fatal(err)
	}
	img, err := DecodeResult(pngPath)
	if err != nil {
		t.Fatalf("DecodeResult(png) error = %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("bounds = %v", img.Bounds())
	}

	jpgPath := filepath.Join(dir, "out.jpg")
	f, err := os.Create(jpgPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, solid(5, 5, color.NRGBA{R: 255, A: 255}), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()
	img, err = DecodeResult(jpgPath)
	if err != nil {
		t.Fatalf("DecodeResult(jpeg) error = %v", err)
	}
	if img.NRGBAAt(2, 2).A != 255 {
		t.Errorf("jpeg pixel = %v, want opaque", img.NRGBAAt(2, 2))
	}

	garbage := filepath.Join(dir, "garbage.png")
	os.WriteFile(garbage, []byte("<html>expired</html>"), 0644)
	if _, err := DecodeResult(garbage); !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("garbage error = %v, want ErrDecodeFailed", err)
	}
}
