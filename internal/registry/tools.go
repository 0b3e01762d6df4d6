package registry

import "slices"

// VisionToJSON is the name of the image analysis tool.
const VisionToJSON = "vision_to_json"

// DefaultMIMEType is applied when a caller omits the image MIME type.
const DefaultMIMEType = "image/jpeg"

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON Schema object describing a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single tool argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// IsRequired reports whether field must be supplied by the caller.
func (s InputSchema) IsRequired(field string) bool {
	return slices.Contains(s.Required, field)
}

// tools is the process-wide tool table. Every capability the server
// exposes is declared here and nowhere else.
var tools = []Tool{
	{
		Name:        VisionToJSON,
		Description: "Visual Analysis Tool. Use this tool when the user asks to analyze, describe, or convert an image into JSON. It provides a deep structural breakdown of the visual elements.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"image": {
					Type:        "string",
					Description: "Base64 encoded image data (a data URI prefix is accepted and stripped)",
				},
				"mimeType": {
					Type:        "string",
					Description: "MIME type of the image (e.g., image/jpeg, image/png)",
					Default:     DefaultMIMEType,
				},
			},
			Required: []string{"image"},
		},
	},
}

// List returns all available tools. The slice is a copy but the schemas
// share their property maps with the registry and must not be modified.
func List() []Tool {
	out := make([]Tool, len(tools))
	copy(out, tools)
	return out
}

// Lookup returns the tool registered under name.
func Lookup(name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
