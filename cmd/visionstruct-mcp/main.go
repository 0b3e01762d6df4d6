package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/visionstruct-mcp/internal/config"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "visionstruct-mcp",
		Short: "MCP server that turns images into structured JSON",
		Long: `visionstruct-mcp serves the vision_to_json tool to MCP clients over
Server-Sent Events. Connect to /sse; POST messages to the endpoint it
announces. The Gemini API key is read from API_KEY, GEMINI_API_KEY or
VISIONSTRUCT_API_KEY; without one the server runs but every analysis
returns an error result.`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newToolsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP SSE server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}
