package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"
)

const methodCallTool = "tools/call"

// Options describes the server identity and call limits.
type Options struct {
	Name         string
	Version      string
	Instructions string

	// MaxConcurrentCalls bounds tool calls in flight across all sessions.
	MaxConcurrentCalls int
}

// Server exposes registered tools over MCP. Protocol handling is delegated
// to the SDK; this type adds call logging and the concurrency bound.
type Server struct {
	sdk    *mcpsdk.Server
	calls  *semaphore.Weighted
	logger *slog.Logger
}

// New constructs a server with no tools registered.
func New(opts Options) (*Server, error) {
	if opts.Name == "" {
		return nil, errors.New("server name must not be empty")
	}
	if opts.MaxConcurrentCalls <= 0 {
		opts.MaxConcurrentCalls = 1
	}

	s := &Server{
		sdk: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: opts.Name, Version: opts.Version},
			&mcpsdk.ServerOptions{Instructions: opts.Instructions},
		),
		calls:  semaphore.NewWeighted(int64(opts.MaxConcurrentCalls)),
		logger: slog.Default().With("component", "mcp"),
	}
	s.sdk.AddReceivingMiddleware(s.limitCalls)
	return s, nil
}

// AddTool registers a tool. The handler receives raw arguments and reports
// failures as *jsonrpc.Error so hosts see the intended error code.
func (s *Server) AddTool(tool *mcpsdk.Tool, handler mcpsdk.ToolHandler) {
	s.sdk.AddTool(tool, handler)
}

// Connect starts a session over transport without blocking.
func (s *Server) Connect(ctx context.Context, transport mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.sdk.Connect(ctx, transport, nil)
}

// ServeStdio serves a single session over stdin and stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("serving over stdio")
	err := s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// HTTPHandler serves the streamable HTTP transport. Sessions are issued and
// checked by the SDK.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.sdk
	}, nil)
}

func (s *Server) limitCalls(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
	return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
		if method != methodCallTool {
			return next(ctx, method, req)
		}

		var name string
		if call, ok := req.(*mcpsdk.CallToolRequest); ok && call.Params != nil {
			name = call.Params.Name
		}
		logger := s.logger.With("tool", name, "call_id", uuid.NewString())

		if err := s.calls.Acquire(ctx, 1); err != nil {
			logger.Warn("tool call abandoned while waiting for a slot", "err", err)
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "request cancelled"}
		}
		defer s.calls.Release(1)

		start := time.Now()
		logger.Debug("calling tool")
		res, err := next(ctx, method, req)
		if err != nil {
			logger.Error("tool call failed", "err", err, "latency_ms", time.Since(start).Milliseconds())
			return res, err
		}
		logger.Info("tool call succeeded", "latency_ms", time.Since(start).Milliseconds())
		return res, nil
	}
}
