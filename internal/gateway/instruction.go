package gateway

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// DefaultDirective is the user-turn text sent alongside every image.
const DefaultDirective = "Perform full visual serialization."

//go:embed prompts/visionstruct.txt
var defaultSystemInstruction string

// DefaultSystemInstruction returns the built-in VisionStruct instruction that
// defines the output JSON schema.
func DefaultSystemInstruction() string {
	return strings.TrimSpace(defaultSystemInstruction)
}

// LoadSystemInstruction reads an instruction override from path. An empty
// path returns the built-in instruction.
func LoadSystemInstruction(path string) (string, error) {
	if path == "" {
		return DefaultSystemInstruction(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system instruction: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system instruction file %s is empty", path)
	}
	return text, nil
}
