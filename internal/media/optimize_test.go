package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"reflect"
	"testing"

	"github.com/disintegration/imaging"
)

func pngCapture(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(w, h, color.White)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOptimizePassesSmallCapturesThrough(t *testing.T) {
	data := pngCapture(t, 640, 480)

	img, err := Optimize(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.MimeType != "image/png" {
		t.Errorf("mime = %s", img.MimeType)
	}
	if img.Width != 640 || img.Height != 480 {
		t.Errorf("size = %dx%d", img.Width, img.Height)
	}
	if !bytes.Equal(img.Data, data) {
		t.Error("in-limit capture should pass through unchanged")
	}
}

func TestOptimizeRejectsNonImages(t *testing.T) {
	if _, err := Optimize([]byte("<html></html>")); err == nil {
		t.Fatal("expected an error for non-image input")
	}
}

func TestOptimizeCapsWidth(t *testing.T) {
	img, err := Optimize(pngCapture(t, 2600, 400))
	if err != nil {
		t.Fatal(err)
	}
	if img.Width != MaxWidth {
		t.Errorf("width = %d, want %d", img.Width, MaxWidth)
	}
	// Aspect preserved: 400 * 2000/2600.
	if img.Height < 300 || img.Height > 310 {
		t.Errorf("height = %d, want about 308", img.Height)
	}
}

func TestOptimizeBoundsTallCaptures(t *testing.T) {
	img, err := Optimize(pngCapture(t, 1000, 9000))
	if err != nil {
		t.Fatal(err)
	}
	if img.Height > MaxHeight || img.Height < 7500 {
		t.Errorf("height = %d, want close under %d", img.Height, MaxHeight)
	}
	if img.Width >= 1000 {
		t.Errorf("width = %d, should shrink with the height", img.Width)
	}
	if !img.IsWithinLimits() {
		t.Error("result exceeds transport limits")
	}
}

func TestJPEGFlattensAlphaOntoWhite(t *testing.T) {
	transparent := imaging.New(12, 12, color.NRGBA{})

	enc, err := jpegBytes(transparent, MaxQuality)
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(enc))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := decoded.At(6, 6).RGBA()
	if r < 0xf000 || g < 0xf000 || b < 0xf000 {
		t.Errorf("flattened pixel = (%d, %d, %d), want near white", r, g, b)
	}
}

func TestFitWidths(t *testing.T) {
	tests := []struct {
		orig int
		want []int
	}{
		{3000, []int{2000, 1600, 1280, 1024, 800}},
		{900, []int{900, 800}},
		{500, []int{500}},
	}
	for _, tt := range tests {
		if got := fitWidths(tt.orig); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("fitWidths(%d) = %v, want %v", tt.orig, got, tt.want)
		}
	}
}
