// Package protocol implements the MCP (JSON-RPC 2.0) methods served on each
// session: initialize, ping, tools/list, tools/call and notifications.
//
// A Handler belongs to exactly one session. HandleMessage takes a raw
// JSON-RPC message and returns the encoded response, or nil when the message
// is a notification. tools/call runs through a small state machine exposed
// by State:
//
//	Idle -> Validating -> Invoking -> Responding -> Idle
//	Idle -> Validating -> Rejected -> Idle
//
// An unknown tool is a JSON-RPC error (-32602). Bad arguments and analysis
// failures are ordinary results with isError set, so the session keeps
// serving after any of them.
package protocol
