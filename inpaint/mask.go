package inpaint

import (
	"fmt"
	"image"
	"image/color"
	"os"
)

// Mask values in the remote service's convention.
const (
	MaskFill = 255 // white: regenerate
	MaskKeep = 0   // black: preserve
)

// GenerateMask derives a same-size binary mask from the alpha channel of
// src. Pixels with zero alpha become white, every other pixel black. The
// threshold is alpha presence, not magnitude, and every pixel is visited.
func GenerateMask(src image.Image) *image.Gray {
	b := src.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	// Fast paths read alpha bytes directly.
	switch img := src.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < b.Dx(); x++ {
				mask.Pix[y*mask.Stride+x] = maskValue(uint32(row[x*4+3]))
			}
		}
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < b.Dx(); x++ {
				mask.Pix[y*mask.Stride+x] = maskValue(uint32(row[x*4+3]))
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				_, _, _, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
				mask.SetGray(x, y, color.Gray{Y: maskValue(a)})
			}
		}
	}
	return mask
}

func maskValue(alpha uint32) uint8 {
	if alpha == 0 {
		return MaskFill
	}
	return MaskKeep
}

// MaskFile reads the PNG at srcPath and writes its mask to dstPath as PNG.
// The output depends only on the input pixels, so repeated runs produce
// identical files.
func MaskFile(srcPath, dstPath string) error {
	src, err := decodeImageFile(srcPath)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrMaskFailed, srcPath, err)
	}
	if err := writePNGFile(dstPath, GenerateMask(src)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrMaskFailed, dstPath, err)
	}
	return nil
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
