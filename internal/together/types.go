package together

import "encoding/json"

// Message is one turn of an OpenAI-compatible chat conversation. Parts,
// when set, take precedence over Text and produce a multimodal content
// array on the wire.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an inline data URI or a remote image address.
type ImageURL struct {
	URL string `json:"url"`
}

// TextMessage builds a plain-text conversation turn.
func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

// VisionMessage builds a user turn holding a prompt followed by inline
// images, in the order the model should see them.
func VisionMessage(prompt string, imageURIs []string) Message {
	parts := make([]ContentPart, 0, len(imageURIs)+1)
	parts = append(parts, ContentPart{Type: "text", Text: prompt})
	for _, uri := range imageURIs {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: uri}})
	}
	return Message{Role: "user", Parts: parts}
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Parts != nil {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Text})
}

// ChatRequest is the chat completion request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}
