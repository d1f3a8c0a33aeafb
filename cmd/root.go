package cmd

import (
	"context"
	"fmt"
	"strings"
)

// Version is stamped at build time with -ldflags "-X glean-mcp/cmd.Version=...".
var Version = "dev"

const usage = `glean-mcp exposes Glean Chat as an MCP tool.

Usage:
  glean-mcp serve [flags]
  glean-mcp chat [flags] <question>
  glean-mcp version

Commands:
  serve    Start the MCP server (stdio by default)
  chat     Send a single chat request and print the reply
  version  Print the version

Environment:
  GLEAN_API_KEY        API token (required for chat calls)
  GLEAN_BASE_URL       REST API root, defaults to the production host
  GLEAN_TIMEOUT        Request timeout, e.g. 300s
  GLEAN_ACT_AS         User to act as when using a global token
  GLEAN_MCP_LOG_LEVEL  debug, info, warn or error

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "chat":
		return chat(ctx, args[1:])
	case "version", "--version":
		fmt.Println(Version)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
