package gateway

import (
	"encoding/base64"
	"strings"

	"github.com/ironsheep/visionstruct-mcp/internal/registry"
)

// Image is a decoded image ready for analysis.
type Image struct {
	Data     []byte
	MIMEType string
}

// DecodePayload turns the wire form of the image argument into raw bytes.
//
// The payload is base64 text, optionally prefixed with a data URI scheme
// ("data:image/png;base64,"). The prefix is stripped and, when mimeType is
// empty, its media type is adopted. An empty mimeType with no data URI
// defaults to image/jpeg. Standard, unpadded and URL-safe alphabets are all
// accepted; embedded whitespace and line breaks are ignored.
func DecodePayload(payload, mimeType string) (Image, error) {
	mimeType = strings.TrimSpace(mimeType)
	body := strings.TrimSpace(payload)

	if rest, ok := cutPrefixFold(body, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return Image{}, invalidPayload("data URI has no comma separator", nil)
		}
		params := strings.Split(header, ";")
		if !strings.EqualFold(params[len(params)-1], "base64") {
			return Image{}, invalidPayload("data URI is not base64 encoded", nil)
		}
		if mimeType == "" && len(params) > 1 && params[0] != "" {
			mimeType = params[0]
		}
		body = data
	}

	if mimeType == "" {
		mimeType = registry.DefaultMIMEType
	}

	body = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, body)
	if body == "" {
		return Image{}, invalidPayload("image payload is empty", nil)
	}

	data, err := decodeBase64(body)
	if err != nil {
		return Image{}, invalidPayload("image payload is not valid base64", err)
	}
	if len(data) == 0 {
		return Image{}, invalidPayload("image payload is empty", nil)
	}

	return Image{Data: data, MIMEType: mimeType}, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
