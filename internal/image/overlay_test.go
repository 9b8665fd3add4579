package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/jpeg"
	"testing"
)

func testJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOverlayProducesDecodableJPEG(t *testing.T) {
	src := testJPEG(t, 64, 48, color.Black)
	out := Overlay(src, "cam1 2026-01-02 15:04:05", 85)

	img, _, err := stdimage.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("overlay output not decodable: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 48 {
		t.Errorf("overlay changed dimensions: got %v", img.Bounds())
	}
}

func TestOverlayReturnsInputOnDecodeFailure(t *testing.T) {
	junk := []byte("not an image")
	out := Overlay(junk, "label", 85)
	if !bytes.Equal(out, junk) {
		t.Error("expected Overlay to pass through undecodable input unchanged")
	}
}

func TestAverageBrightnessWhiteVsBlack(t *testing.T) {
	black := testJPEG(t, 32, 32, color.Black)
	white := testJPEG(t, 32, 32, color.White)

	bBright, w, h, err := AverageBrightness(black)
	if err != nil {
		t.Fatal(err)
	}
	if w != 32 || h != 32 {
		t.Errorf("dimensions = (%d,%d), want (32,32)", w, h)
	}
	wBright, _, _, err := AverageBrightness(white)
	if err != nil {
		t.Fatal(err)
	}

	if bBright >= wBright {
		t.Errorf("expected black (%v) < white (%v) average brightness", bBright, wBright)
	}
}

func TestAverageBrightnessRejectsGarbage(t *testing.T) {
	if _, _, _, err := AverageBrightness([]byte("garbage")); err == nil {
		t.Fatal("expected error decoding non-image data")
	}
}
