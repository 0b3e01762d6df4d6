// Package server implements the MCP transport over HTTP and Server-Sent
// Events.
//
// # Protocol
//
// A client opens a stream with GET /sse. The server creates a session and
// sends, as the first event:
//
//	event: endpoint
//	data: /messages?sessionId=<id>
//
// The client then POSTs JSON-RPC messages to that URL. Each POST returns
// 202 Accepted once the message is queued; the JSON-RPC response arrives
// later on the stream as a "message" event. Comment lines (": ping") are
// sent periodically to keep intermediaries from timing the stream out.
//
// POST status codes:
//   - 400: sessionId missing or body not JSON
//   - 404: no open session with that id ({"error":"Session not found"})
//   - 413: body larger than Config.MaxBodyBytes
//   - 503: the session already has the maximum number of queued requests
//
// # Discovery
//
// GET /metadata.json and GET /mcp return the server name, version and tool
// descriptors without opening a session. GET /tools lists tool names and
// descriptions. GET / and GET /healthz report liveness.
//
// # Usage
//
//	srv := server.New(server.Config{Analyzer: gw, Logger: logger})
//	httpSrv := &http.Server{Addr: ":3000", Handler: srv.Handler()}
//	httpSrv.RegisterOnShutdown(func() { _ = srv.Shutdown(context.Background()) })
//	log.Fatal(httpSrv.ListenAndServe())
package server
