package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

const jpegQuality = 85

// imageOrientation extracts the EXIF orientation tag, defaulting to 1 (upright)
func imageOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// orient returns img turned upright according to an EXIF orientation value
func orient(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var (
		dw, dh = w, h
		mapXY  func(x, y int) (int, int)
	)
	switch orientation {
	case 2:
		mapXY = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3:
		mapXY = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4:
		mapXY = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5:
		dw, dh = h, w
		mapXY = func(x, y int) (int, int) { return y, x }
	case 6:
		dw, dh = h, w
		mapXY = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7:
		dw, dh = h, w
		mapXY = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8:
		dw, dh = h, w
		mapXY = func(x, y int) (int, int) { return y, w - 1 - x }
	default:
		return img
	}

	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			nx, ny := mapXY(x, y)
			out.Set(nx, ny, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// NormalizeJPEG turns a photo upright and scales it to fit within maxDimension.
// Photos that are already upright and small enough are returned unchanged.
func NormalizeJPEG(data []byte, maxDimension int) ([]byte, error) {
	orientation := imageOrientation(data)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if orientation != 1 {
		img = orient(img, orientation)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if orientation == 1 && (maxDimension <= 0 || (width <= maxDimension && height <= maxDimension)) {
		return data, nil
	}

	newWidth, newHeight := width, height
	if maxDimension > 0 && (width > maxDimension || height > maxDimension) {
		scale := float64(maxDimension) / float64(width)
		if s := float64(maxDimension) / float64(height); s < scale {
			scale = s
		}
		newWidth = max(1, min(maxDimension, int(float64(width)*scale)))
		newHeight = max(1, min(maxDimension, int(float64(height)*scale)))
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	log.Debugf("Photo normalised: %d -> %d bytes, %dx%d -> %dx%d, orientation %d",
		len(data), buf.Len(), width, height, newWidth, newHeight, orientation)
	return buf.Bytes(), nil
}
