package gateway

import (
	"strings"
	"testing"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"crlf", "```json\r\n{\"a\":1}\r\n```", `{"a":1}`},
		{"single line", "```json{\"a\":1}```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
		{"leading only", "```json\n{\"a\":1}", `{"a":1}`},
		{"trailing only", "{\"a\":1}\n```", `{"a":1}`},
		{"inner fence kept", "```json\n{\"md\":\"use ``` here\"}\n```", "{\"md\":\"use ``` here\"}"},
		{"empty", "", ""},
		{"only fences", "```json\n```", ""},
		{"plain text trimmed", "  no detections \n", "no detections"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence(%q): got %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripCodeFence_NoMarkersRemain(t *testing.T) {
	bodies := []string{`{}`, `{"objects":[]}`, "[1,2,3]", "null"}
	langs := []string{"", "json", "JSON", "jsonc"}

	for _, body := range bodies {
		for _, lang := range langs {
			wrapped := "```" + lang + "\n" + body + "\n```"
			got := StripCodeFence(wrapped)
			if strings.Contains(got, "```") {
				t.Errorf("fence markers remain in %q", got)
			}
			if got != body {
				t.Errorf("StripCodeFence(%q): got %q, want %q", wrapped, got, body)
			}
		}
	}
}
