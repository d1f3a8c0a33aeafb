package models

const (
	// AuthorUser is the default author for caller-supplied messages.
	AuthorUser = "USER"
	// AuthorAI marks assistant replies in Glean chat responses.
	AuthorAI = "GLEAN_AI"
	// MessageTypeContent is the default message type.
	MessageTypeContent = "CONTENT"
)

// Fragment is the smallest unit of message text on the wire.
type Fragment struct {
	Text string `json:"text"`
}

// Message is one conversational turn made of ordered fragments.
type Message struct {
	Author      string     `json:"author"`
	Fragments   []Fragment `json:"fragments"`
	MessageType string     `json:"messageType"`
}

// ChatRequest is the payload posted to the Glean chat endpoint.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	SaveChat bool      `json:"saveChat"`
	Stream   bool      `json:"stream"`
}

// NewChatRequest wraps the conversation history in a non-streaming request
// that asks Glean to persist the chat.
func NewChatRequest(messages []Message) ChatRequest {
	return ChatRequest{
		Messages: messages,
		SaveChat: true,
		Stream:   false,
	}
}

// NewUserMessage builds a single-fragment message authored by the user.
func NewUserMessage(text string) Message {
	return Message{
		Author:      AuthorUser,
		Fragments:   []Fragment{{Text: text}},
		MessageType: MessageTypeContent,
	}
}
