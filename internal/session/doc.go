// Package session multiplexes protocol sessions over long-lived streams.
//
// A Manager owns the table from session identifier to Session. Each Session
// is bound to exactly one Stream and one Handler, and processes its inbound
// messages sequentially on a dedicated goroutine, so two requests on the
// same stream never interleave while different sessions run independently.
//
// Requests for unknown or closed sessions fail with ErrSessionNotFound and
// touch no stream. A failed stream write closes the session, and responses
// produced after a session closed are dropped rather than written.
package session
