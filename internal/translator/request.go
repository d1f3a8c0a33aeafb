package translator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"glean-mcp/internal/models"
)

// ValidationError reports tool arguments that do not match the chat message
// schema. It is raised before any request leaves the process.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// BuildChatRequest validates raw tool arguments of the form
// {"messages": [...]} and returns the request to post to Glean.
func BuildChatRequest(args json.RawMessage) (models.ChatRequest, error) {
	if isNull(args) {
		return models.ChatRequest{}, invalid("messages", "is required")
	}

	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(args, &raw); err != nil {
		return models.ChatRequest{}, invalid("", "arguments must be a JSON object: %v", err)
	}

	messages, err := parseMessages(raw.Messages)
	if err != nil {
		return models.ChatRequest{}, err
	}
	return models.NewChatRequest(messages), nil
}

func parseMessages(data json.RawMessage) ([]models.Message, error) {
	if isNull(data) {
		return nil, invalid("messages", "is required")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, invalid("messages", "must be an array of messages")
	}

	messages := make([]models.Message, 0, len(items))
	for i, item := range items {
		msg, err := parseMessage(fmt.Sprintf("messages[%d]", i), item)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseMessage(path string, data json.RawMessage) (models.Message, error) {
	var raw struct {
		Author      json.RawMessage `json:"author"`
		Fragments   json.RawMessage `json:"fragments"`
		MessageType json.RawMessage `json:"messageType"`
	}
	if isNull(data) {
		return models.Message{}, invalid(path, "must be an object")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Message{}, invalid(path, "must be an object")
	}

	author, err := optionalString(path+".author", raw.Author, models.AuthorUser)
	if err != nil {
		return models.Message{}, err
	}
	messageType, err := optionalString(path+".messageType", raw.MessageType, models.MessageTypeContent)
	if err != nil {
		return models.Message{}, err
	}

	if isNull(raw.Fragments) {
		return models.Message{}, invalid(path+".fragments", "is required")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw.Fragments, &items); err != nil {
		return models.Message{}, invalid(path+".fragments", "must be an array of fragments")
	}

	fragments := make([]models.Fragment, 0, len(items))
	for i, item := range items {
		fragment, err := parseFragment(fmt.Sprintf("%s.fragments[%d]", path, i), item)
		if err != nil {
			return models.Message{}, err
		}
		fragments = append(fragments, fragment)
	}

	return models.Message{
		Author:      author,
		Fragments:   fragments,
		MessageType: messageType,
	}, nil
}

func parseFragment(path string, data json.RawMessage) (models.Fragment, error) {
	var raw struct {
		Text json.RawMessage `json:"text"`
	}
	if isNull(data) {
		return models.Fragment{}, invalid(path, "must be an object")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Fragment{}, invalid(path, "must be an object")
	}
	if isNull(raw.Text) {
		return models.Fragment{}, invalid(path+".text", "is required")
	}

	var text string
	if err := json.Unmarshal(raw.Text, &text); err != nil {
		return models.Fragment{}, invalid(path+".text", "must be a string")
	}
	return models.Fragment{Text: text}, nil
}

func optionalString(path string, data json.RawMessage, fallback string) (string, error) {
	if isNull(data) {
		return fallback, nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return "", invalid(path, "must be a string")
	}
	return value, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
