package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"glean-mcp/internal/glean"
	"glean-mcp/internal/mcpserver"
	"glean-mcp/internal/models"
	"glean-mcp/internal/translator"
)

// ChatToolName is the name the chat tool is registered under.
const ChatToolName = "chat"

const chatDescription = "Send a chat request to Glean's Chat API."

// Caller-facing wording for extraction failures.
const (
	emptyResponseMessage        = "Empty response received from Glean Chat API"
	unrecognizedResponseMessage = "Could not extract assistant response from Glean Chat API"
)

// ChatClient is the upstream the chat tool posts to.
type ChatClient interface {
	Chat(ctx context.Context, req models.ChatRequest) ([]byte, error)
}

// Chat forwards a conversation to Glean and returns the assistant reply.
type Chat struct {
	client ChatClient
	logger *slog.Logger
}

// NewChat constructs the chat tool around client.
func NewChat(client ChatClient) (*Chat, error) {
	if client == nil {
		return nil, errors.New("chat client must not be nil")
	}
	return &Chat{
		client: client,
		logger: slog.Default().With("component", "chat_tool"),
	}, nil
}

// Definition describes the tool to MCP hosts.
func (c *Chat) Definition() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        ChatToolName,
		Description: chatDescription,
		InputSchema: chatInputSchema(),
	}
}

// Register adds the chat tool to server.
func (c *Chat) Register(server *mcpserver.Server) {
	server.AddTool(c.Definition(), c.Handle)
}

// Handle is the MCP entry point. It wraps the reply as text content.
func (c *Chat) Handle(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args json.RawMessage
	if req != nil && req.Params != nil {
		args = req.Params.Arguments
	}

	text, err := c.Call(ctx, args)
	if err != nil {
		return nil, err
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}, nil
}

// Call validates args, calls Glean and returns the assistant text. Failures
// are *jsonrpc.Error with either an invalid-params or an internal-error code.
func (c *Chat) Call(ctx context.Context, args json.RawMessage) (string, error) {
	req, err := translator.BuildChatRequest(args)
	if err != nil {
		c.logger.Warn("rejecting chat arguments", "err", err)
		return "", invalidParams(err.Error())
	}

	text, err := c.Ask(ctx, req)
	if err != nil {
		return "", toolError(err)
	}
	return text, nil
}

// Ask sends an already validated request and extracts the assistant text.
func (c *Chat) Ask(ctx context.Context, req models.ChatRequest) (string, error) {
	body, err := c.client.Chat(ctx, req)
	if err != nil {
		c.logger.Error("glean chat request failed", "err", err)
		return "", err
	}

	resp, err := translator.DecodeResponse(body)
	if err != nil {
		c.logger.Error("decode glean response", "err", err, "bytes", len(body))
		return "", err
	}
	c.logger.Debug("decoded glean response", "kind", resp.Kind.String(), "messages", len(resp.Messages))

	text, err := resp.AssistantText()
	if err != nil {
		c.logger.Error("extract assistant text", "err", err, "kind", resp.Kind.String())
		return "", err
	}
	return text, nil
}

func invalidParams(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: message}
}

func internalError(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: message}
}

// toolError collapses every failure after validation into the internal
// error category, keeping a short caller-facing message.
func toolError(err error) *jsonrpc.Error {
	var (
		validationErr *translator.ValidationError
		apiErr        *glean.APIError
		transportErr  *glean.TransportError
	)

	switch {
	case errors.As(err, &validationErr):
		return invalidParams(validationErr.Error())
	case errors.Is(err, translator.ErrEmptyResponse):
		return internalError(emptyResponseMessage)
	case errors.Is(err, translator.ErrUnrecognizedResponse):
		return internalError(unrecognizedResponseMessage)
	case errors.Is(err, glean.ErrNotConfigured):
		return internalError(err.Error())
	case errors.As(err, &apiErr):
		return internalError(apiErr.Error())
	case errors.As(err, &transportErr):
		return internalError(transportErr.Error())
	default:
		return internalError(fmt.Sprintf("Error processing chat request: %v", err))
	}
}

func chatInputSchema() map[string]any {
	fragment := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}

	message := map[string]any{
		"type":        "object",
		"description": "A chat message in the conversation",
		"properties": map[string]any{
			"author": map[string]any{
				"type":    "string",
				"default": models.AuthorUser,
			},
			"fragments": map[string]any{
				"type":  "array",
				"items": fragment,
			},
			"messageType": map[string]any{
				"type":    "string",
				"default": models.MessageTypeContent,
			},
		},
		"required": []string{"fragments"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"messages": map[string]any{
				"type":        "array",
				"description": "List of messages in the conversation",
				"items":       message,
			},
		},
		"required": []string{"messages"},
	}
}
