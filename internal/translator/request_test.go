package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glean-mcp/internal/models"
)

func TestBuildChatRequestPreservesOrderAndFlags(t *testing.T) {
	args := json.RawMessage(`{"messages":[
		{"author":"USER","fragments":[{"text":"first"},{"text":"second"}],"messageType":"CONTENT"},
		{"author":"GLEAN_AI","fragments":[{"text":"reply"}]},
		{"fragments":[{"text":"follow up"}]}
	]}`)

	req, err := BuildChatRequest(args)
	require.NoError(t, err)

	assert.True(t, req.SaveChat)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, []models.Fragment{{Text: "first"}, {Text: "second"}}, req.Messages[0].Fragments)
	assert.Equal(t, models.AuthorAI, req.Messages[1].Author)
	assert.Equal(t, models.MessageTypeContent, req.Messages[1].MessageType)
	assert.Equal(t, models.AuthorUser, req.Messages[2].Author)
	assert.Equal(t, "follow up", req.Messages[2].Fragments[0].Text)

	body, err := json.Marshal(req)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, true, wire["saveChat"])
	assert.Equal(t, false, wire["stream"])

	messages := wire["messages"].([]any)
	require.Len(t, messages, 3)
	first := messages[0].(map[string]any)
	assert.Equal(t, "USER", first["author"])
	assert.Equal(t, "CONTENT", first["messageType"])
	assert.Equal(t, []any{
		map[string]any{"text": "first"},
		map[string]any{"text": "second"},
	}, first["fragments"])
}

func TestBuildChatRequestAllowsEmptyFragments(t *testing.T) {
	req, err := BuildChatRequest(json.RawMessage(`{"messages":[{"fragments":[]}]}`))
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Empty(t, req.Messages[0].Fragments)
}

func TestBuildChatRequestIgnoresUnknownFields(t *testing.T) {
	req, err := BuildChatRequest(json.RawMessage(`{"messages":[{"fragments":[{"text":"hi","citation":{}}],"extra":1}],"other":true}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Messages[0].Fragments[0].Text)
}

func TestBuildChatRequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		args  string
		field string
	}{
		{name: "nil arguments", args: ``, field: "messages"},
		{name: "null arguments", args: `null`, field: "messages"},
		{name: "arguments not an object", args: `[1,2]`, field: ""},
		{name: "missing messages", args: `{}`, field: "messages"},
		{name: "messages not a list", args: `{"messages":"hello"}`, field: "messages"},
		{name: "message not an object", args: `{"messages":["hello"]}`, field: "messages[0]"},
		{name: "null message", args: `{"messages":[null]}`, field: "messages[0]"},
		{name: "missing fragments", args: `{"messages":[{"author":"USER"}]}`, field: "messages[0].fragments"},
		{name: "fragments not a list", args: `{"messages":[{"fragments":{"text":"x"}}]}`, field: "messages[0].fragments"},
		{name: "fragment missing text", args: `{"messages":[{"fragments":[{"text":"ok"}]},{"fragments":[{}]}]}`, field: "messages[1].fragments[0].text"},
		{name: "fragment text not a string", args: `{"messages":[{"fragments":[{"text":42}]}]}`, field: "messages[0].fragments[0].text"},
		{name: "author not a string", args: `{"messages":[{"author":7,"fragments":[]}]}`, field: "messages[0].author"},
		{name: "message type not a string", args: `{"messages":[{"messageType":false,"fragments":[]}]}`, field: "messages[0].messageType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildChatRequest(json.RawMessage(tt.args))
			require.Error(t, err)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "messages[0].fragments", Reason: "is required"}
	assert.Equal(t, "messages[0].fragments: is required", err.Error())

	err = &ValidationError{Reason: "arguments must be a JSON object"}
	assert.Equal(t, "arguments must be a JSON object", err.Error())
}
