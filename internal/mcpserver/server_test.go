package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() (*mcpsdk.Tool, mcpsdk.ToolHandler) {
	tool := &mcpsdk.Tool{
		Name:        "echo",
		Description: "echoes its text argument",
		InputSchema: map[string]any{"type": "object"},
	}
	handler := func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var in struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &in); err != nil || in.Text == nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: "text must be a string"}
		}
		if *in.Text == "fail" {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "tool exploded"}
		}
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: *in.Text}}}, nil
	}
	return tool, handler
}

func newTestServer(t *testing.T, maxCalls int) *Server {
	t.Helper()
	srv, err := New(Options{Name: "test-server", Version: "1.2.3", Instructions: "ask away", MaxConcurrentCalls: maxCalls})
	require.NoError(t, err)
	return srv
}

func connect(t *testing.T, srv *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := srv.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	session, err := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "host", Version: "0.1"}, nil).
		Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestInitializeReportsIdentity(t *testing.T) {
	session := connect(t, newTestServer(t, 1))

	result := session.InitializeResult()
	require.NotNil(t, result)
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", result.ServerInfo.Version)
	assert.Equal(t, "ask away", result.Instructions)
	assert.NotEmpty(t, result.ProtocolVersion)
}

func TestToolCallErrorCodes(t *testing.T) {
	srv := newTestServer(t, 1)
	srv.AddTool(echoTool())
	session := connect(t, srv)
	ctx := context.Background()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content[0].(*mcpsdk.TextContent).Text)

	tests := []struct {
		name    string
		params  *mcpsdk.CallToolParams
		code    int64
		message string
	}{
		{
			name:    "handler rejects params",
			params:  &mcpsdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": 1}},
			code:    int64(jsonrpc.CodeInvalidParams),
			message: "text must be a string",
		},
		{
			name:    "handler fails",
			params:  &mcpsdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "fail"}},
			code:    int64(jsonrpc.CodeInternalError),
			message: "tool exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := session.CallTool(ctx, tt.params)
			var rpcErr *jsonrpc.Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.Equal(t, tt.message, rpcErr.Message)
		})
	}

	_, err = session.CallTool(ctx, &mcpsdk.CallToolParams{Name: "nope"})
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc.CodeInvalidParams), rpcErr.Code)
}

// blockingTool records how many calls run at once and holds each call until
// release is closed or its context ends.
type blockingTool struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	started  chan struct{}
	release  chan struct{}
}

func newBlockingTool() *blockingTool {
	return &blockingTool{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingTool) handle(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		old := b.peak.Load()
		if n <= old || b.peak.CompareAndSwap(old, n) {
			break
		}
	}
	b.started <- struct{}{}

	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "done"}}}, nil
}

func TestToolCallsAreBounded(t *testing.T) {
	srv := newTestServer(t, 2)
	slow := newBlockingTool()
	srv.AddTool(&mcpsdk.Tool{Name: "slow", InputSchema: map[string]any{"type": "object"}}, slow.handle)
	session := connect(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
				Name:      "slow",
				Arguments: map[string]any{"n": strconv.Itoa(i)},
			})
			assert.NoError(t, err)
		}(i)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-slow.started:
		case <-time.After(2 * time.Second):
			t.Fatal("tool calls did not start")
		}
	}
	assert.Equal(t, int32(2), slow.inFlight.Load())

	close(slow.release)
	wg.Wait()
	assert.LessOrEqual(t, slow.peak.Load(), int32(2))
}

func TestCancelWhileCallsSaturated(t *testing.T) {
	srv := newTestServer(t, 1)

	hold := make(chan struct{})
	entered := make(chan struct{}, 4)
	next := func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
		entered <- struct{}{}
		select {
		case <-hold:
		case <-ctx.Done():
		}
		return &mcpsdk.CallToolResult{}, nil
	}
	handler := srv.limitCalls(next)
	call := &mcpsdk.CallToolRequest{Params: &mcpsdk.CallToolParamsRaw{Name: "slow"}}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = handler(ctx, methodCallTool, call)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first call did not take the slot")
	}

	queued := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := handler(ctx, methodCallTool, call)
			queued <- err
		}()
	}

	cancel()

	for i := 0; i < 3; i++ {
		select {
		case err := <-queued:
			var rpcErr *jsonrpc.Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, int64(jsonrpc.CodeInternalError), rpcErr.Code)
		case <-time.After(2 * time.Second):
			t.Fatal("queued call did not return after cancellation")
		}
	}

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("running call did not return after cancellation")
	}
	close(hold)
	assert.Len(t, entered, 0, "queued calls never reached the tool")
}

func TestCancelStopsSessionWithQueuedCalls(t *testing.T) {
	srv := newTestServer(t, 1)
	slow := newBlockingTool()
	srv.AddTool(&mcpsdk.Tool{Name: "slow", InputSchema: map[string]any{"type": "object"}}, slow.handle)
	t.Cleanup(func() { close(slow.release) })

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.sdk.Run(ctx, serverTransport)
	}()

	session, err := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "host", Version: "0.1"}, nil).
		Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	for i := 0; i < 4; i++ {
		go func() {
			_, _ = session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "slow", Arguments: map[string]any{}})
		}()
	}

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first call did not start")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestHTTPHandlerServesTools(t *testing.T) {
	srv := newTestServer(t, 1)
	srv.AddTool(echoTool())
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	ctx := context.Background()
	session, err := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "host", Version: "0.1"}, nil).
		Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "over http"}})
	require.NoError(t, err)
	assert.Equal(t, "over http", res.Content[0].(*mcpsdk.TextContent).Text)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	srv, err := New(Options{Name: "x"})
	require.NoError(t, err)
	assert.True(t, srv.calls.TryAcquire(1))
	assert.False(t, srv.calls.TryAcquire(1), "non-positive limit falls back to one call")
}
