package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/visionstruct-mcp/internal/gateway"
	"github.com/ironsheep/visionstruct-mcp/internal/registry"
)

// Analyzer performs the image analysis behind vision_to_json.
// *gateway.Gateway satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, img gateway.Image) (*gateway.Result, error)
}

// configurationChecker is implemented by analyzers that can report a missing
// credential up front. When the analyzer implements it, that failure is
// returned before the arguments are looked at.
type configurationChecker interface {
	CheckConfigured() error
}

var _ configurationChecker = (*gateway.Gateway)(nil)

// Outcome classifies a finished tools/call.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeToolNotFound     Outcome = "tool_not_found"
	OutcomeInvalidArguments Outcome = "invalid_arguments"
	OutcomeConfiguration    Outcome = "configuration_error"
	OutcomeBackend          Outcome = "backend_error"
)

// Observer is notified of each tool invocation. StartInvocation may return a
// derived context (for example carrying a span); the returned func is called
// exactly once with the outcome.
type Observer interface {
	StartInvocation(ctx context.Context, tool string) (context.Context, func(Outcome, error))
}

// Invocation is a validated tools/call request.
type Invocation struct {
	SessionID string
	Tool      string
	Arguments map[string]any
	Image     gateway.Image
}

// Config configures a Handler.
type Config struct {
	SessionID string
	Analyzer  Analyzer
	Logger    *zap.Logger
	Observer  Observer
}

// Handler implements the MCP methods for one session. It is not safe for
// concurrent HandleMessage calls; the session worker serialises them.
type Handler struct {
	sessionID string
	analyzer  Analyzer
	observer  Observer
	logger    *zap.Logger
	state     stateCell

	clientInfo *Implementation
}

// New creates a Handler in the Idle state.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("protocol")
	if cfg.SessionID != "" {
		logger = logger.With(zap.String("session_id", cfg.SessionID))
	}
	return &Handler{
		sessionID: cfg.SessionID,
		analyzer:  cfg.Analyzer,
		observer:  cfg.Observer,
		logger:    logger,
	}
}

// State returns the current tools/call lifecycle state.
func (h *Handler) State() State {
	return h.state.load()
}

// ClientInfo returns the client identity sent with initialize, if any.
func (h *Handler) ClientInfo() *Implementation {
	return h.clientInfo
}

// HandleMessage processes one raw JSON-RPC message and returns the encoded
// response, or nil for notifications.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return encode(errorResponse(nil, CodeInvalidRequest, "batch requests are not supported"))
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logger.Debug("unparseable message", zap.Error(err))
		return encode(errorResponse(nil, CodeParseError, "Parse error"))
	}

	if req.IsNotification() {
		h.logger.Debug("notification", zap.String("method", req.Method))
		return nil
	}

	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		return encode(errorResponse(req.ID, CodeInvalidRequest, "Invalid Request"))
	}

	return encode(h.dispatch(ctx, &req))
}

func (h *Handler) dispatch(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("method panicked",
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			h.state.store(StateIdle)
			resp = errorResponse(req.ID, CodeInternalError, "Internal error")
		}
	}()

	switch req.Method {
	case "initialize":
		return h.initialize(req)
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return resultResponse(req.ID, ListToolsResult{Tools: registry.List()})
	case "tools/call":
		return h.callTool(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (h *Handler) initialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}
	h.clientInfo = params.ClientInfo

	version := NegotiateVersion(params.ProtocolVersion)
	fields := []zap.Field{
		zap.String("requested_version", params.ProtocolVersion),
		zap.String("protocol_version", version),
	}
	if params.ClientInfo != nil {
		fields = append(fields,
			zap.String("client_name", params.ClientInfo.Name),
			zap.String("client_version", params.ClientInfo.Version))
	}
	h.logger.Info("initialize", fields...)

	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      Implementation{Name: ServerName, Version: ServerVersion},
	})
}

func (h *Handler) callTool(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		msg := "Invalid params: tool name is required"
		if err != nil {
			msg = "Invalid params: " + err.Error()
		}
		return errorResponse(req.ID, CodeInvalidParams, msg)
	}

	ctx, finish := h.startInvocation(ctx, params.Name)
	start := time.Now()
	h.state.store(StateValidating)
	defer h.state.store(StateIdle)

	result, outcome, err := h.runTool(ctx, params)

	h.logger.Info("tool call",
		zap.String("tool", params.Name),
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	finish(outcome, err)

	if outcome == OutcomeToolNotFound {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("tool not found: %s", params.Name))
	}
	return resultResponse(req.ID, result)
}

// runTool walks the state machine for one call. The returned error is the
// cause of a non-success outcome and is only used for logging.
func (h *Handler) runTool(ctx context.Context, params CallToolParams) (*ToolResult, Outcome, error) {
	if _, ok := registry.Lookup(params.Name); !ok {
		h.state.store(StateRejected)
		return nil, OutcomeToolNotFound, fmt.Errorf("%w: %s", registry.ErrToolNotFound, params.Name)
	}

	if cc, ok := h.analyzer.(configurationChecker); ok {
		if err := cc.CheckConfigured(); err != nil {
			h.state.store(StateRejected)
			return errorResult("Error: " + reason(err)), OutcomeConfiguration, err
		}
	}

	inv, err := h.decodeInvocation(params)
	if err != nil {
		h.state.store(StateRejected)
		return errorResult("Invalid arguments: " + reason(err)), OutcomeInvalidArguments, err
	}

	h.state.store(StateInvoking)
	res, err := h.analyzer.Analyze(ctx, inv.Image)
	h.state.store(StateResponding)

	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrConfiguration):
			return errorResult("Error: " + reason(err)), OutcomeConfiguration, err
		case errors.Is(err, gateway.ErrInvalidPayload):
			return errorResult("Invalid arguments: " + reason(err)), OutcomeInvalidArguments, err
		default:
			return errorResult("Error analyzing image: " + reason(err)), OutcomeBackend, err
		}
	}

	out := textResult(res.Text)
	if res.Image != nil {
		out.Meta = map[string]any{"image": res.Image}
	}
	return out, OutcomeSuccess, nil
}

// decodeInvocation validates the arguments against the registry schema,
// fills defaults and decodes the image payload.
func (h *Handler) decodeInvocation(params CallToolParams) (*Invocation, error) {
	if err := registry.Validate(params.Name, params.Arguments); err != nil {
		return nil, err
	}

	var args map[string]any
	if raw := bytes.TrimSpace(params.Arguments); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}

	payload, _ := args["image"].(string)
	mimeType, _ := args["mimeType"].(string)
	args = registry.ApplyDefaults(params.Name, args)
	// A data URI carries its own media type; only fall back to the schema
	// default when there is none.
	if mimeType == "" && !isDataURI(payload) {
		mimeType, _ = args["mimeType"].(string)
	}

	img, err := gateway.DecodePayload(payload, mimeType)
	if err != nil {
		return nil, err
	}
	return &Invocation{
		SessionID: h.sessionID,
		Tool:      params.Name,
		Arguments: args,
		Image:     img,
	}, nil
}

func (h *Handler) startInvocation(ctx context.Context, tool string) (context.Context, func(Outcome, error)) {
	if h.observer == nil {
		return ctx, func(Outcome, error) {}
	}
	return h.observer.StartInvocation(ctx, tool)
}

// reason extracts the client-facing part of an error.
func reason(err error) string {
	var verr *registry.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason()
	}
	var aerr *gateway.AnalysisError
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	return err.Error()
}

func isDataURI(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

func encode(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "Internal error"))
	}
	return data
}
