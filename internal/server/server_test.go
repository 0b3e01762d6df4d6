package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/visionstruct-mcp/internal/gateway"
	"github.com/ironsheep/visionstruct-mcp/internal/protocol"
	"github.com/ironsheep/visionstruct-mcp/internal/registry"
)

const waitFor = 2 * time.Second

type sseEvent struct {
	name string
	data string
}

type testStream struct {
	events   chan sseEvent
	cancel   context.CancelFunc
	endpoint string
}

// openStream connects to /sse and consumes the endpoint event.
func openStream(t *testing.T, baseURL string) *testStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+PathSSE, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ts := &testStream{events: make(chan sseEvent, 32), cancel: cancel}
	go func() {
		defer close(ts.events)
		defer resp.Body.Close()
		br := bufio.NewReader(resp.Body)
		var ev sseEvent
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			var out *sseEvent
			switch {
			case line == "":
				if ev.name != "" || ev.data != "" {
					done := ev
					out = &done
				}
				ev = sseEvent{}
			case strings.HasPrefix(line, ":"):
				out = &sseEvent{name: "comment", data: strings.TrimSpace(line[1:])}
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				ev.data += strings.TrimSpace(line[len("data:"):])
			}
			if out != nil {
				select {
				case ts.events <- *out:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	t.Cleanup(cancel)

	first := ts.next(t)
	require.Equal(t, EndpointEvent, first.name)
	require.True(t, strings.HasPrefix(first.data, PathMessages+"?sessionId="), first.data)
	ts.endpoint = first.data
	return ts
}

// next returns the next non-comment event.
func (s *testStream) next(t *testing.T) sseEvent {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-s.events:
			require.True(t, ok, "stream ended")
			if ev.name == "comment" {
				continue
			}
			return ev
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

// expectSilence fails if a non-comment event arrives within d.
func (s *testStream) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			if ev.name != "comment" {
				t.Fatalf("unexpected event %q: %s", ev.name, ev.data)
			}
		case <-timeout:
			return
		}
	}
}

func (s *testStream) sessionID() string {
	return strings.TrimPrefix(s.endpoint, PathMessages+"?sessionId=")
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func rpcMessage(id any, method string, params any) string {
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, _ := json.Marshal(msg)
	return string(data)
}

func decodeRPC(t *testing.T, data string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &out))
	return out
}

func newTestServer(t *testing.T, cfg Config, backend gateway.BackendFunc) (*Server, *httptest.Server) {
	t.Helper()
	if backend == nil {
		backend = func(context.Context, gateway.Request) (string, error) {
			return `{"ok":true}`, nil
		}
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = gateway.New(gateway.Config{APIKey: "test-key"}, backend)
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, ts
}

func onePixelPNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestMetadataRoutes(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)

	want, err := json.Marshal(NewMetadata())
	require.NoError(t, err)

	for _, path := range []string{"/metadata.json", "/mcp"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.JSONEq(t, string(want), string(body))

			doc := decodeRPC(t, string(body))
			assert.Equal(t, "vision-struct", doc["name"])
			assert.Equal(t, "1.0.0", doc["version"])
		})
	}
}

func TestToolsRoute(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)

	resp, err := http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var body struct {
		Tools []ToolSummary `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, registry.VisionToJSON, body.Tools[0].Name)
	assert.NotEmpty(t, body.Tools[0].Description)
}

func TestRootAndHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	var root map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	resp.Body.Close()
	assert.Equal(t, "ok", root["status"])
	assert.Contains(t, root["info"], "/sse")

	openStream(t, ts.URL)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["sessions"])
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+PathMessages, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/metadata.json", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMessageRequestErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxBodyBytes: 256}, nil)
	stream := openStream(t, ts.URL)

	tests := []struct {
		name   string
		url    string
		body   string
		status int
	}{
		{"missing session id", ts.URL + PathMessages, rpcMessage(1, "ping", nil), http.StatusBadRequest},
		{"empty session id", ts.URL + PathMessages + "?sessionId=", rpcMessage(1, "ping", nil), http.StatusBadRequest},
		{"not json", ts.URL + stream.endpoint, "this is not json", http.StatusBadRequest},
		{"too large", ts.URL + stream.endpoint, `{"pad":"` + strings.Repeat("x", 1024) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, tt.url, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.Contains(t, body, `"error"`)
		})
	}
	stream.expectSilence(t, 50*time.Millisecond)
}

func TestGhostSessionIsRejected(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)
	other := openStream(t, ts.URL)

	resp, body := post(t, ts.URL+PathMessages+"?sessionId=ghost-session", rpcMessage(1, "tools/list", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Session not found"}`, body)

	other.expectSilence(t, 100*time.Millisecond)
}

func TestInitializeOverSSE(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)
	stream := openStream(t, ts.URL)

	resp, body := post(t, ts.URL+stream.endpoint, rpcMessage(1, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Accepted", body)

	ev := stream.next(t)
	assert.Equal(t, "message", ev.name)
	msg := decodeRPC(t, ev.data)
	assert.EqualValues(t, 1, msg["id"])
	result := msg["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.Equal(t, "vision-struct", result["serverInfo"].(map[string]any)["name"])

	resp, _ = post(t, ts.URL+stream.endpoint, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	stream.expectSilence(t, 50*time.Millisecond)
}

func TestToolCallOverSSE(t *testing.T) {
	var calls atomic.Int32
	_, ts := newTestServer(t, Config{}, func(context.Context, gateway.Request) (string, error) {
		calls.Add(1)
		return "```json\n{\"objects\":[]}\n```", nil
	})
	stream := openStream(t, ts.URL)

	resp, _ := post(t, ts.URL+stream.endpoint, rpcMessage("call-1", "tools/call", map[string]any{
		"name":      registry.VisionToJSON,
		"arguments": map[string]any{"image": "data:image/png;base64," + onePixelPNG(t)},
	}))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	msg := decodeRPC(t, stream.next(t).data)
	assert.Equal(t, "call-1", msg["id"])
	result := msg["result"].(map[string]any)
	assert.Nil(t, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, `{"objects":[]}`, content["text"])
	info := result["_meta"].(map[string]any)["image"].(map[string]any)
	assert.Equal(t, "#0000ff", info["averageColor"])
	assert.EqualValues(t, 1, calls.Load())
}

func TestBackendFailureKeepsSession(t *testing.T) {
	var calls atomic.Int32
	_, ts := newTestServer(t, Config{}, func(context.Context, gateway.Request) (string, error) {
		if calls.Add(1) == 1 {
			return "", fmt.Errorf("rate limited")
		}
		return `{"ok":true}`, nil
	})
	stream := openStream(t, ts.URL)
	call := rpcMessage(1, "tools/call", map[string]any{
		"name":      registry.VisionToJSON,
		"arguments": map[string]any{"image": onePixelPNG(t)},
	})

	post(t, ts.URL+stream.endpoint, call)
	result := decodeRPC(t, stream.next(t).data)["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	assert.Equal(t, "Error analyzing image: rate limited", result["content"].([]any)[0].(map[string]any)["text"])

	post(t, ts.URL+stream.endpoint, call)
	result = decodeRPC(t, stream.next(t).data)["result"].(map[string]any)
	assert.Nil(t, result["isError"])
}

func TestConcurrentSessionsDoNotCrossDeliver(t *testing.T) {
	_, ts := newTestServer(t, Config{}, nil)
	a := openStream(t, ts.URL)
	b := openStream(t, ts.URL)
	require.NotEqual(t, a.sessionID(), b.sessionID())

	post(t, ts.URL+a.endpoint, rpcMessage("for-a", "ping", nil))
	post(t, ts.URL+b.endpoint, rpcMessage("for-b", "ping", nil))

	assert.Equal(t, "for-a", decodeRPC(t, a.next(t).data)["id"])
	assert.Equal(t, "for-b", decodeRPC(t, b.next(t).data)["id"])
	a.expectSilence(t, 50*time.Millisecond)
	b.expectSilence(t, 50*time.Millisecond)
}

func TestDisconnectClosesSession(t *testing.T) {
	srv, ts := newTestServer(t, Config{}, nil)
	stream := openStream(t, ts.URL)
	require.Equal(t, 1, srv.Sessions().Len())

	stream.cancel()
	require.Eventually(t, func() bool { return srv.Sessions().Len() == 0 }, waitFor, 10*time.Millisecond)

	resp, body := post(t, ts.URL+stream.endpoint, rpcMessage(1, "ping", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Session not found"}`, body)
}

func TestHeartbeat(t *testing.T) {
	_, ts := newTestServer(t, Config{HeartbeatInterval: 10 * time.Millisecond}, nil)
	stream := openStream(t, ts.URL)

	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-stream.events:
			if ev.name == "comment" {
				assert.Equal(t, "ping", ev.data)
				return
			}
		case <-timeout:
			t.Fatal("no heartbeat received")
		}
	}
}

func TestQueueFullReturns503(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	_, ts := newTestServer(t, Config{QueueDepth: 1}, func(ctx context.Context, _ gateway.Request) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "{}", nil
	})
	stream := openStream(t, ts.URL)
	call := rpcMessage(1, "tools/call", map[string]any{
		"name":      registry.VisionToJSON,
		"arguments": map[string]any{"image": onePixelPNG(t)},
	})

	resp, _ := post(t, ts.URL+stream.endpoint, call)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	resp, _ = post(t, ts.URL+stream.endpoint, call)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := post(t, ts.URL+stream.endpoint, call)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, body)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestShutdownEndsStreams(t *testing.T) {
	srv, ts := newTestServer(t, Config{}, nil)
	stream := openStream(t, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	deadline := time.After(waitFor)
	for closed := false; !closed; {
		select {
		case _, ok := <-stream.events:
			closed = !ok
		case <-deadline:
			t.Fatal("stream still open after shutdown")
		}
	}

	resp, err := http.Get(ts.URL + PathSSE)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

var _ protocol.Analyzer = (*gateway.Gateway)(nil)
