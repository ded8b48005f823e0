package inpaint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func assertMask(t *testing.T, mask *image.Gray, want func(x, y int) uint8) {
	t.Helper()
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if got := mask.GrayAt(x, y).Y; got != want(x, y) {
				t.Fatalf("mask(%d,%d) = %d, want %d", x, y, got, want(x, y))
			}
		}
	}
}

func TestGenerateMask_FullyOpaque(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	mask := GenerateMask(img)
	if mask.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v", mask.Bounds())
	}
	assertMask(t, mask, func(x, y int) uint8 { return MaskKeep })
}

func TestGenerateMask_FullyTransparent(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 3))
	assertMask(t, GenerateMask(img), func(x, y int) uint8 { return MaskFill })
}

func TestGenerateMask_HalfAndHalf(t *testing.T) {
	// Alpha 1 still counts as present.
	img := halfTransparent(6, 4)
	assertMask(t, GenerateMask(img), func(x, y int) uint8 {
		if x < 3 {
			return MaskKeep
		}
		return MaskFill
	})
}

func TestGenerateMask_OffsetAndGenericImages(t *testing.T) {
	// A sub-image keeps its non-zero origin; the mask is re-anchored.
	full := halfTransparent(8, 2)
	sub := full.SubImage(image.Rect(2, 0, 6, 2)).(*image.NRGBA)
	assertMask(t, GenerateMask(sub), func(x, y int) uint8 {
		if x < 2 {
			return MaskKeep
		}
		return MaskFill
	})

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgba.SetRGBA(0, 0, color.RGBA{A: 255})
	assertMask(t, GenerateMask(rgba), func(x, y int) uint8 {
		if x == 0 {
			return MaskKeep
		}
		return MaskFill
	})

	// Gray has no alpha channel: everything is kept.
	assertMask(t, GenerateMask(image.NewGray(image.Rect(0, 0, 3, 3))), func(x, y int) uint8 { return MaskKeep })
}

func TestMaskFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	if err := writePNGFile(src, halfTransparent(16, 9)); err != nil {
		t.Fatal(err)
	}

	first := filepath.Join(dir, "mask1.png")
	second := filepath.Join(dir, "mask2.png")
	if err := MaskFile(src, first); err != nil {
		t.Fatalf("MaskFile() error = %v", err)
	}
	if err := MaskFile(src, second); err != nil {
		t.Fatalf("MaskFile() error = %v", err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if len(a) == 0 || !bytes.Equal(a, b) {
		t.Error("mask files differ between runs")
	}

	decoded, err := decodeImageFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds() != image.Rect(0, 0, 16, 9) {
		t.Errorf("mask bounds = %v", decoded.Bounds())
	}
}

func TestMaskFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := MaskFile(filepath.Join(dir, "missing.png"), filepath.Join(dir, "out.png"))
	if !errors.Is(err, ErrMaskFailed) {
		t.Errorf("error = %v, want ErrMaskFailed", err)
	}
}
