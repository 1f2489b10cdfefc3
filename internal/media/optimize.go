package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	// Decode support for formats beyond png and jpeg.
	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// Width steps for progressively harder downscaling. Heights follow the
// aspect ratio, so tall full-page captures stay readable top to bottom
// instead of being squeezed into a square.
var widthLevels = []int{1600, 1280, 1024, 800}

// Optimize reduces a captured screenshot to the transport limits. Captures
// keep their PNG form while it fits, since UI content is mostly flat color
// and text that PNG keeps crisp; oversized ones are scaled down by width
// and, as a last resort, re-encoded as JPEG down a quality ladder.
func Optimize(data []byte) (*Image, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("not an image the pipeline decodes: %s", mimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= MaxWidth && bounds.Dy() <= MaxHeight && len(data) <= MaxBytes {
		return &Image{
			Data:     data,
			MimeType: mimeType,
			Width:    bounds.Dx(),
			Height:   bounds.Dy(),
		}, nil
	}

	return reduce(img)
}

// reduce walks width steps, trying PNG first and then the JPEG quality
// ladder at each size, until an encoding lands under MaxBytes.
func reduce(img image.Image) (*Image, error) {
	smallest := 0

	for _, w := range fitWidths(img.Bounds().Dx()) {
		scaled := scaleTo(img, w)
		b := scaled.Bounds()

		var buf bytes.Buffer
		if err := png.Encode(&buf, scaled); err == nil {
			if buf.Len() <= MaxBytes {
				return &Image{
					Data:     buf.Bytes(),
					MimeType: "image/png",
					Width:    b.Dx(),
					Height:   b.Dy(),
				}, nil
			}
			if smallest == 0 || buf.Len() < smallest {
				smallest = buf.Len()
			}
		}

		for q := MaxQuality; q >= MinQuality; q -= 10 {
			encoded, err := jpegBytes(scaled, q)
			if err != nil {
				continue
			}
			if len(encoded) <= MaxBytes {
				return &Image{
					Data:     encoded,
					MimeType: "image/jpeg",
					Width:    b.Dx(),
					Height:   b.Dy(),
				}, nil
			}
			if smallest == 0 || len(encoded) < smallest {
				smallest = len(encoded)
			}
		}
	}

	return nil, fmt.Errorf("screenshot could not be reduced below %dMB (best %.2fMB)",
		MaxBytes/(1024*1024), float64(smallest)/(1024*1024))
}

// fitWidths lists the widths to try, widest first, starting at the capped
// original width.
func fitWidths(orig int) []int {
	first := min(orig, MaxWidth)
	widths := []int{first}
	for _, w := range widthLevels {
		if w < first {
			widths = append(widths, w)
		}
	}
	return widths
}

// scaleTo resizes by width, preserving aspect, then bounds the result's
// height. Returns the input untouched when it already fits.
func scaleTo(img image.Image, maxW int) image.Image {
	out := img
	if out.Bounds().Dx() > maxW {
		out = imaging.Resize(out, maxW, 0, imaging.Lanczos)
	}
	if out.Bounds().Dy() > MaxHeight {
		out = imaging.Fit(out, out.Bounds().Dx(), MaxHeight, imaging.Lanczos)
	}
	return out
}

// jpegBytes encodes with any alpha flattened onto white; pages with
// transparent backgrounds would otherwise come out black.
func jpegBytes(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
