package llm

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Images are attached to a "user" message as inline image parts.
	Images []Image
}

// Image is an inline image attachment.
type Image struct {
	// MimeType is the media type of Data, e.g. "image/jpeg".
	MimeType string

	// Data holds the raw encoded image bytes.
	Data []byte
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens generated in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsJSONMode indicates the backend can constrain output to JSON.
	SupportsJSONMode bool
}

// UserMessage returns a "user" role message with the given text.
func UserMessage(text string, images ...Image) Message {
	return Message{Role: "user", Content: text, Images: images}
}
