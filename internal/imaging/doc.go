// Package imaging inspects and prepares image payloads before they are sent
// to the analysis backend.
//
// Payloads arrive as raw encoded bytes (PNG, JPEG or GIF). Inspect decodes
// them to report dimensions, format and an average color; Prepare optionally
// downscales oversized images so they stay within the backend's input
// limits. Decoding is done from memory; nothing is read from or written to
// disk.
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package imaging
