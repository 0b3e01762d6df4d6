package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/visionstruct-mcp/internal/imaging"
)

// DefaultModel is the backend model used when none is configured.
const DefaultModel = "gemini-3-pro-preview"

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 2 * time.Minute

// Request is one call to the inference backend.
type Request struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Directive         string
	Image             Image
}

// Backend performs the external analysis call. Implementations return the
// backend's raw text output; an empty string is a valid answer.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config configures a Gateway.
type Config struct {
	// APIKey is the backend credential. When empty every Analyze call fails
	// with ErrConfiguration; construction still succeeds.
	APIKey string

	// Model is the backend model identifier. Defaults to DefaultModel.
	Model string

	// SystemInstruction defines the output schema. Defaults to
	// DefaultSystemInstruction().
	SystemInstruction string

	// Directive is the per-image instruction. Defaults to DefaultDirective.
	Directive string

	// Timeout bounds each backend call. Zero means DefaultTimeout; a
	// negative value disables the bound.
	Timeout time.Duration

	// MaxDimension downscales images whose width or height exceeds it.
	// Zero disables downscaling.
	MaxDimension int

	// MaxPixels skips local decoding of images whose header declares more
	// than this many pixels; they are forwarded untouched. Zero means
	// imaging.DefaultMaxPixels.
	MaxPixels int

	Logger *zap.Logger
}

// Result is a successful analysis.
type Result struct {
	// Text is the backend output with any enclosing code fence removed. It is
	// expected, but not guaranteed, to be a JSON document.
	Text string

	// Image describes the payload as sent to the backend. Nil when the
	// payload is in a format the server cannot decode locally (for example
	// WebP), in which case it was forwarded untouched.
	Image *imaging.Info
}

// Gateway wraps the external image analysis call.
type Gateway struct {
	cfg     Config
	backend Backend
	logger  *zap.Logger
}

// New creates a Gateway that calls backend. A nil backend selects the
// Gemini API.
func New(cfg Config, backend Backend) *Gateway {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction()
	}
	if cfg.Directive == "" {
		cfg.Directive = DefaultDirective
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = NewGeminiBackend(GeminiOptions{})
	}
	return &Gateway{
		cfg:     cfg,
		backend: backend,
		logger:  logger.Named("gateway"),
	}
}

// Model returns the configured backend model identifier.
func (g *Gateway) Model() string {
	return g.cfg.Model
}

// Configured reports whether a credential is present.
func (g *Gateway) Configured() bool {
	return g.cfg.APIKey != ""
}

// CheckConfigured returns the ErrConfiguration failure Analyze would report
// for a missing credential, or nil when one is present.
func (g *Gateway) CheckConfigured() error {
	if g.cfg.APIKey == "" {
		return configurationError("API_KEY environment variable is missing.")
	}
	return nil
}

// Analyze sends img to the backend and returns its normalized text output.
//
// Exactly one backend call is made per invocation; there are no retries.
// Errors are always *AnalysisError:
//   - ErrConfiguration when no credential is configured (no call is made)
//   - ErrInvalidPayload when img carries no data
//   - ErrBackend when the call fails or exceeds the configured timeout
func (g *Gateway) Analyze(ctx context.Context, img Image) (*Result, error) {
	if err := g.CheckConfigured(); err != nil {
		return nil, err
	}
	if len(img.Data) == 0 {
		return nil, invalidPayload("image payload is empty", nil)
	}

	payload, info := g.preflight(img)

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.backend.Generate(ctx, Request{
		APIKey:            g.cfg.APIKey,
		Model:             g.cfg.Model,
		SystemInstruction: g.cfg.SystemInstruction,
		Directive:         g.cfg.Directive,
		Image:             payload,
	})
	elapsed := time.Since(start)

	if err != nil {
		g.logger.Warn("backend call failed",
			zap.String("model", g.cfg.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) && g.cfg.Timeout > 0 {
			return nil, backendError(fmt.Sprintf("backend call timed out after %s", g.cfg.Timeout), err)
		}
		return nil, backendError(err.Error(), err)
	}

	g.logger.Debug("backend call succeeded",
		zap.String("model", g.cfg.Model),
		zap.Duration("elapsed", elapsed),
		zap.Int("response_bytes", len(text)))

	return &Result{Text: StripCodeFence(text), Image: info}, nil
}

// preflight decodes the image locally to learn its real format and, if
// configured, shrink it. Payloads that cannot be decoded here are forwarded
// as-is; the backend accepts more formats than the standard library decodes.
func (g *Gateway) preflight(img Image) (Image, *imaging.Info) {
	prepared, err := imaging.Prepare(img.Data, g.cfg.MaxDimension, g.cfg.MaxPixels)
	if errors.Is(err, imaging.ErrTooLarge) {
		g.logger.Warn("image preflight skipped: declared size over pixel limit",
			zap.String("declared_mime", img.MIMEType),
			zap.Int("size_bytes", len(img.Data)),
			zap.Error(err))
		return img, nil
	}
	if err != nil {
		g.logger.Debug("image preflight skipped",
			zap.String("declared_mime", img.MIMEType),
			zap.Error(err))
		return img, nil
	}
	if prepared.MIMEType != img.MIMEType {
		g.logger.Debug("declared mime type does not match content",
			zap.String("declared_mime", img.MIMEType),
			zap.String("detected_mime", prepared.MIMEType))
	}
	if prepared.Info.Resized {
		g.logger.Debug("image downscaled",
			zap.Int("width", prepared.Info.Width),
			zap.Int("height", prepared.Info.Height),
			zap.Int("max_dimension", g.cfg.MaxDimension))
	}
	return Image{Data: prepared.Data, MIMEType: prepared.MIMEType}, prepared.Info
}
