// Package registry declares the tools the server exposes and validates
// invocation arguments against their input schemas.
//
// The registry is immutable, process-wide data. Both the metadata endpoints
// and the tools/list method serve List() verbatim, and Validate compiles its
// JSON Schemas from the same values, so a tool's advertised shape and its
// enforced shape cannot drift apart.
package registry
