package vision

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/rotisserie/eris"
)

// downscalePNG decodes a PNG or JPEG image and re-encodes it at half
// resolution, repeating until the encoded size is under maxBytes or the
// image can no longer usefully shrink. There is no image-resizing
// library anywhere in the example pack this module was grounded on, so
// this is a deliberate, narrowly-scoped stdlib exception (nearest-
// neighbor sampling via image.Image.At, re-encoded with image/png) —
// see DESIGN.md.
func downscalePNG(data []byte, maxBytes int64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "vision: decode image for downscale")
	}

	for attempt := 0; attempt < 4; attempt++ {
		bounds := img.Bounds()
		w, h := bounds.Dx()/2, bounds.Dy()/2
		if w < 1 || h < 1 {
			break
		}
		img = nearestNeighborResize(img, w, h)

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, eris.Wrap(err, "vision: encode downscaled image")
		}
		if int64(buf.Len()) <= maxBytes {
			return buf.Bytes(), nil
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "vision: encode downscaled image")
	}
	return buf.Bytes(), nil
}

func nearestNeighborResize(src image.Image, w, h int) image.Image {
	srcBounds := src.Bounds()
	sw, sh := srcBounds.Dx(), srcBounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := srcBounds.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := srcBounds.Min.X + x*sw/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
