package protocol

import "slices"

// SupportedVersions lists the MCP revisions this server speaks, newest first.
var SupportedVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestVersion is offered to clients that ask for an unknown revision.
var LatestVersion = SupportedVersions[0]

// NegotiateVersion echoes the client's revision when supported and falls
// back to LatestVersion otherwise.
func NegotiateVersion(requested string) string {
	if slices.Contains(SupportedVersions, requested) {
		return requested
	}
	return LatestVersion
}
