package server

import (
	"net/http"

	"github.com/ironsheep/visionstruct-mcp/internal/protocol"
	"github.com/ironsheep/visionstruct-mcp/internal/registry"
)

// Metadata is the static description served by /metadata.json and /mcp.
type Metadata struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Tools   []registry.Tool `json:"tools"`
}

// ToolSummary is one entry of the /tools listing.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewMetadata describes the server from the registry, so the discovery
// routes always match tools/list.
func NewMetadata() Metadata {
	return Metadata{
		Name:    protocol.ServerName,
		Version: protocol.ServerVersion,
		Tools:   registry.List(),
	}
}

const rootInfo = "VisionStruct MCP server. Use /sse for SSE or /metadata.json for tool listing."

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"info":   rootInfo,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, NewMetadata())
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	tools := registry.List()
	out := make([]ToolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSummary{Name: t.Name, Description: t.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}
