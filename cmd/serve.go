package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"glean-mcp/internal/config"
	"glean-mcp/internal/glean"
	"glean-mcp/internal/mcpserver"
	"glean-mcp/internal/server"
	"glean-mcp/internal/tool"
)

const serverName = "mcp-glean"

const serveUsage = `Usage:
  glean-mcp serve [--config <path>] [--transport stdio|http] [--port <port>]

Flags:
  --config     string   Path to YAML configuration file
  --transport  string   Override server transport (stdio or http)
  --port       int      Override HTTP port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath, transport string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&transport, "transport", "", "override server transport")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if transport != "" {
		cfg.Server.Transport = transport
	}
	if overridePort != 0 {
		cfg.Server.Port = overridePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := setupLogging(cfg.Log.Level); err != nil {
		return err
	}
	if !cfg.Glean.HasAPIKey() {
		slog.Warn("GLEAN_API_KEY is not set; chat calls will fail until it is configured")
	}

	mcp, err := newMCPServer(cfg)
	if err != nil {
		return err
	}

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		srv, err := server.New(cfg, mcp)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	default:
		slog.Info("starting Glean MCP server with stdio transport")
		return mcp.ServeStdio(ctx)
	}
}

// newChatTool wires the Glean client behind the chat tool.
func newChatTool(cfg config.Config) (*tool.Chat, error) {
	client, err := glean.New(cfg.Glean, glean.NewHTTPClient(cfg.Glean.Timeout), serverName+"/"+Version)
	if err != nil {
		return nil, fmt.Errorf("initialise glean client: %w", err)
	}
	return tool.NewChat(client)
}

func newMCPServer(cfg config.Config) (*mcpserver.Server, error) {
	chatTool, err := newChatTool(cfg)
	if err != nil {
		return nil, err
	}

	mcp, err := mcpserver.New(mcpserver.Options{
		Name:               serverName,
		Version:            Version,
		Instructions:       "Use the chat tool to ask Glean questions about company knowledge. Pass the full conversation history on every call.",
		MaxConcurrentCalls: cfg.Server.MaxConcurrentCalls,
	})
	if err != nil {
		return nil, err
	}
	chatTool.Register(mcp)
	return mcp, nil
}

func setupLogging(level string) error {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return err
	}
	// stdout carries protocol traffic
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}
