package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GeminiOptions configures the Gemini API backend.
type GeminiOptions struct {
	// BaseURL overrides the API endpoint. Empty means the public endpoint.
	BaseURL string

	// HTTPClient overrides the HTTP client used for API calls.
	HTTPClient *http.Client
}

// GeminiBackend calls the Gemini generateContent API through the genai SDK.
// Clients are created lazily and reused per credential.
type GeminiBackend struct {
	opts GeminiOptions

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiBackend creates a Gemini backend. No network activity happens
// until the first Generate call.
func NewGeminiBackend(opts GeminiOptions) *GeminiBackend {
	return &GeminiBackend{
		opts:    opts,
		clients: make(map[string]*genai.Client),
	}
}

// Generate sends the image and directive as one user turn with the system
// instruction attached, and returns the concatenated text of the first
// candidate.
func (b *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	client, err := b.client(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType),
			genai.NewPartFromText(req.Directive),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (b *GeminiBackend) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[apiKey]; ok {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.opts.HTTPClient,
	}
	if b.opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: b.opts.BaseURL}
	}

	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	b.clients[apiKey] = c
	return c, nil
}

