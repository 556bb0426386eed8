package cmd

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

//go:embed mcp_prelude.md
var mcpPrelude string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server (publishes CLI instructions only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := binaryName()
		instructions := fmt.Sprintf(mcpPrelude, name) + agentHelp(name)

		s := server.NewMCPServer("implindex-cli", "0.1.0",
			server.WithInstructions(instructions),
		)
		return server.ServeStdio(s)
	},
}

// agentHelp lists the CLI commands an agent can shell out to.
func agentHelp(name string) string {
	var b strings.Builder
	b.WriteString("\n## Commands\n")
	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "mcp", "daemon", "help", "completion":
			continue
		}
		if c.Hidden {
			continue
		}
		fmt.Fprintf(&b, "\n### %s %s\n\n%s\n", name, c.Use, c.Short)
		if c.Example != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.ReplaceAll(c.Example, "implindex", name))
		}
	}
	return b.String()
}

// binaryName returns "implindex" if it's in PATH and points to the current binary,
// otherwise returns the full path to the binary.
func binaryName() string {
	exe, err := os.Executable()
	if err != nil {
		return "implindex"
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "implindex"
	}

	onPath, err := exec.LookPath("implindex")
	if err == nil {
		resolved, err := filepath.EvalSymlinks(onPath)
		if err == nil && resolved == exe {
			return "implindex"
		}
	}

	return exe
}
