package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FitWithin scales img down so that neither side exceeds maxDimension,
// preserving the aspect ratio. Images already within bounds, and a
// non-positive maxDimension, return img unchanged with resized == false.
func FitWithin(img image.Image, maxDimension int) (out image.Image, resized bool) {
	if maxDimension <= 0 {
		return img, false
	}
	b := img.Bounds()
	if b.Dx() <= maxDimension && b.Dy() <= maxDimension {
		return img, false
	}
	return imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos), true
}

// Encode serializes img in the named format ("png", "jpeg" or "gif").
// JPEG output uses quality 90.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90))
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	default:
		return nil, fmt.Errorf("cannot encode %q: %w", format, ErrUnknownFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Prepared is an image payload ready to be sent to an analysis backend.
type Prepared struct {
	Data     []byte
	MIMEType string
	Info     *Info
}

// Prepare inspects data and, when either side exceeds maxDimension,
// downscales and re-encodes it in its original format. The returned MIME
// type reflects the decoded content, not whatever the caller declared.
// maxPixels is passed to Inspect.
func Prepare(data []byte, maxDimension, maxPixels int) (*Prepared, error) {
	info, img, err := Inspect(data, maxPixels)
	if err != nil {
		return nil, err
	}

	fitted, resized := FitWithin(img, maxDimension)
	if !resized {
		return &Prepared{Data: data, MIMEType: info.MIMEType(), Info: info}, nil
	}

	encoded, err := Encode(fitted, info.Format)
	if err != nil {
		return nil, err
	}
	b := fitted.Bounds()
	info.Width = b.Dx()
	info.Height = b.Dy()
	info.SizeBytes = len(encoded)
	info.Resized = true

	return &Prepared{Data: encoded, MIMEType: info.MIMEType(), Info: info}, nil
}
