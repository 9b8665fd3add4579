// Package image overlays a human-readable timestamp and camera id onto a
// captured frame and re-encodes it as JPEG, and computes the average
// brightness spec.md's ImageMetadata records. Text rendering is grounded
// on golang.org/x/image/font/basicfont, the bitmap font dependency the
// wider pack's camera-dashboard repos use for exactly this kind of
// on-image annotation (see other_examples/manifests/
// Reece-Reklai-learn_go_cam_dashboard's go.mod).
package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/jpeg"

	// Decoders for whatever format an adapter hands back.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay draws text (typically "<camera_id> 2026-01-02 15:04:05") in the
// bottom-left corner of data and re-encodes the result as JPEG at the given
// quality. If data can't be decoded, it is returned unchanged — a capture
// still gets stored even if annotation fails.
func Overlay(data []byte, text string, quality int) []byte {
	src, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := src.Bounds()
	dst := stdimage.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	drawLabel(dst, text, bounds.Min.X+6, bounds.Max.Y-8)

	var buf bytes.Buffer
	q := quality
	if q <= 0 || q > 100 {
		q = 85
	}
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
		return data
	}
	return buf.Bytes()
}

func drawLabel(img draw.Image, label string, x, y int) {
	col := color.White
	point := fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)}
	d := &font.Drawer{
		Dst:  img,
		Src:  stdimage.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  point,
	}
	d.DrawString(label)
}

// AverageBrightness computes the mean luminance (0-255) of data, part of
// spec.md's ImageMetadata.image.average_brightness. Extreme values are
// logged by the caller as a warning, never rejected (spec.md §4.2).
func AverageBrightness(data []byte) (float64, int, int, error) {
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, 0, err
	}
	bounds := img.Bounds()
	var sum uint64
	var count uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 4 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 4 {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8))
			sum += uint64(lum)
			count++
		}
	}
	if count == 0 {
		return 0, bounds.Dx(), bounds.Dy(), nil
	}
	return float64(sum) / float64(count), bounds.Dx(), bounds.Dy(), nil
}
