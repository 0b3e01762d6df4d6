package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
)

// ErrUnknownFormat is returned when the bytes are not an image format this
// package can decode.
var ErrUnknownFormat = errors.New("unknown image format")

// ErrTooLarge is returned when the header declares more pixels than the
// caller allows. The pixel data is never decoded in that case.
var ErrTooLarge = errors.New("image too large")

// DefaultMaxPixels caps width*height when the caller does not set a limit.
const DefaultMaxPixels = 40_000_000

// Info contains metadata about a decoded image payload.
//
// Info is attached to analysis results so clients can see what the server
// actually sent to the backend, including after any downscaling.
type Info struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the decoded format: "png", "jpeg" or "gif".
	// Detection is based on file contents, not the declared MIME type.
	Format string `json:"format"`

	// HasAlpha indicates whether the decoded color model carries an alpha channel.
	HasAlpha bool `json:"hasAlpha"`

	// AverageColor is the mean color as "#rrggbb".
	AverageColor string `json:"averageColor,omitempty"`

	// SizeBytes is the encoded payload size in bytes.
	SizeBytes int `json:"sizeBytes"`

	// Resized reports whether the payload was downscaled before analysis.
	Resized bool `json:"resized,omitempty"`
}

// MIMEType returns the MIME type matching the decoded format.
func (i *Info) MIMEType() string {
	return FormatMIMEType(i.Format)
}

// FormatMIMEType maps a decoder format name to its MIME type. Unknown formats
// map to the empty string.
func FormatMIMEType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	}
	return ""
}

// Inspect decodes an encoded image held in memory and reports its metadata.
//
// The header is read first; images declaring more than maxPixels pixels
// are rejected before any pixel buffer is allocated. A non-positive
// maxPixels means DefaultMaxPixels.
//
// Returns:
//   - *Info: dimensions, format, alpha and average color of the image.
//   - image.Image: the decoded image, for callers that go on to resize it.
//   - error: ErrUnknownFormat (wrapped) when the bytes are not PNG, JPEG or GIF,
//     ErrTooLarge (wrapped) when the declared size exceeds maxPixels,
//     or a decode error for truncated or corrupt content.
func Inspect(data []byte, maxPixels int) (*Info, image.Image, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty image payload: %w", ErrUnknownFormat)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil, decodeError(err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, nil, fmt.Errorf("%dx%d exceeds %d pixels: %w", cfg.Width, cfg.Height, maxPixels, ErrTooLarge)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, decodeError(err)
	}

	bounds := img.Bounds()
	hasAlpha := false
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		hasAlpha = true
	}

	return &Info{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Format:       format,
		HasAlpha:     hasAlpha,
		AverageColor: AverageColor(img),
		SizeBytes:    len(data),
	}, img, nil
}

func decodeError(err error) error {
	if errors.Is(err, image.ErrFormat) {
		return fmt.Errorf("failed to decode image: %w", ErrUnknownFormat)
	}
	return fmt.Errorf("failed to decode image: %w", err)
}
