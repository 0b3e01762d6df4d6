// Package gateway wraps the external visual-analysis backend.
//
// The gateway turns an image into the backend's structured-description text.
// It owns everything on the path to the backend: decoding the transport form
// of the image (base64, optionally as a data URI), an optional local
// preflight that learns the real format and downscales oversized images,
// attaching the fixed VisionStruct system instruction, bounding the call with
// a timeout, and stripping the code fence the model sometimes adds in spite
// of its instructions.
//
// The backend output is treated as opaque text. No JSON parsing or schema
// validation happens here.
//
// # Errors
//
// Every failure is an *AnalysisError. Use errors.Is with ErrConfiguration,
// ErrInvalidPayload or ErrBackend to classify it. A missing credential is
// detected before any network activity, and an empty backend answer is a
// success with empty text.
package gateway
