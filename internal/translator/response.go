package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"glean-mcp/internal/models"
)

// FragmentSeparator joins the fragment texts of an assistant reply.
const FragmentSeparator = "\n---\n"

var (
	// ErrEmptyResponse indicates Glean answered without any messages.
	ErrEmptyResponse = errors.New("empty response received from Glean Chat API")
	// ErrUnrecognizedResponse indicates no assistant text could be located.
	ErrUnrecognizedResponse = errors.New("could not extract assistant response from Glean Chat API")
)

// ResponseKind tags the shape of a decoded chat response.
type ResponseKind int

const (
	KindUnrecognized ResponseKind = iota
	KindEmpty
	KindStructuredMessages
	KindPlainContent
)

func (k ResponseKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindStructuredMessages:
		return "structured_messages"
	case KindPlainContent:
		return "plain_content"
	default:
		return "unrecognized"
	}
}

// ResponseMessage is a message-shaped entry of a structured response. Only
// fragments carrying string text are kept, in order.
type ResponseMessage struct {
	Author string
	Texts  []string
}

// ChatResponse is a Glean chat response decoded into one of its known
// shapes. Content is set for KindPlainContent and, when the body also had a
// string "content" field, for KindStructuredMessages.
type ChatResponse struct {
	Kind     ResponseKind
	Messages []ResponseMessage
	Content  *string
}

// DecodeResponse classifies a raw response body. Only malformed JSON is
// reported as an error; unknown shapes decode to KindUnrecognized.
func DecodeResponse(body []byte) (ChatResponse, error) {
	if isNull(body) {
		return ChatResponse{Kind: KindEmpty}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if json.Valid(body) {
			return ChatResponse{Kind: KindUnrecognized}, nil
		}
		return ChatResponse{}, fmt.Errorf("decode chat response: %w", err)
	}

	content := stringField(fields["content"])

	if rawMessages, ok := fields["messages"]; ok {
		if isFalsy(rawMessages) {
			return ChatResponse{Kind: KindEmpty}, nil
		}

		var items []json.RawMessage
		if err := json.Unmarshal(rawMessages, &items); err == nil {
			return ChatResponse{
				Kind:     KindStructuredMessages,
				Messages: decodeMessages(items),
				Content:  content,
			}, nil
		}
	}

	if content != nil {
		return ChatResponse{Kind: KindPlainContent, Content: content}, nil
	}
	return ChatResponse{Kind: KindUnrecognized}, nil
}

// LastAssistantMessage returns the final GLEAN_AI message of a structured
// response.
func (r ChatResponse) LastAssistantMessage() (ResponseMessage, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Author == models.AuthorAI {
			return r.Messages[i], true
		}
	}
	return ResponseMessage{}, false
}

// AssistantText recovers the reply text. For structured responses the last
// assistant message wins and its fragments are joined with
// FragmentSeparator; a string "content" field is the fallback.
func (r ChatResponse) AssistantText() (string, error) {
	switch r.Kind {
	case KindEmpty:
		return "", ErrEmptyResponse
	case KindStructuredMessages:
		if msg, ok := r.LastAssistantMessage(); ok && len(msg.Texts) > 0 {
			slog.Debug("extracted assistant message",
				"messages", len(r.Messages),
				"fragments", len(msg.Texts),
			)
			return strings.Join(msg.Texts, FragmentSeparator), nil
		}
		if r.Content != nil {
			return *r.Content, nil
		}
		return "", ErrUnrecognizedResponse
	case KindPlainContent:
		if r.Content == nil {
			return "", ErrUnrecognizedResponse
		}
		return *r.Content, nil
	default:
		return "", ErrUnrecognizedResponse
	}
}

// ExtractAssistantText decodes body and returns the assistant reply.
func ExtractAssistantText(body []byte) (string, error) {
	resp, err := DecodeResponse(body)
	if err != nil {
		return "", err
	}
	return resp.AssistantText()
}

func decodeMessages(items []json.RawMessage) []ResponseMessage {
	messages := make([]ResponseMessage, 0, len(items))
	for _, item := range items {
		var raw struct {
			Author    json.RawMessage `json:"author"`
			Fragments json.RawMessage `json:"fragments"`
		}
		if err := json.Unmarshal(item, &raw); err != nil || isNull(item) {
			// non-object entries carry no author
			continue
		}

		msg := ResponseMessage{}
		if author := stringField(raw.Author); author != nil {
			msg.Author = *author
		}
		var fragments []json.RawMessage
		if err := json.Unmarshal(raw.Fragments, &fragments); err != nil {
			fragments = nil
		}
		for _, fragment := range fragments {
			var f struct {
				Text json.RawMessage `json:"text"`
			}
			if err := json.Unmarshal(fragment, &f); err != nil {
				continue
			}
			if text := stringField(f.Text); text != nil {
				msg.Texts = append(msg.Texts, *text)
			}
		}
		messages = append(messages, msg)
	}
	return messages
}

func stringField(data json.RawMessage) *string {
	if isNull(data) {
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return nil
	}
	return &value
}

func isFalsy(data json.RawMessage) bool {
	if isNull(data) {
		return true
	}
	var value any
	if err := json.Unmarshal(bytes.TrimSpace(data), &value); err != nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
