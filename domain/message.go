package domain

type MessageType string

const (
	MessageTypeInfo    MessageType = "info"
	MessageTypeWarning MessageType = "warning"
	MessageTypeError   MessageType = "error"
)

type Severity string

const (
	SeverityRecoverable         Severity = "recoverable"
	SeverityRequiresBuyerInput  Severity = "requires_buyer_input"
	SeverityRequiresBuyerReview Severity = "requires_buyer_review"
)

type ContentType string

const (
	ContentTypePlain    ContentType = "plain"
	ContentTypeMarkdown ContentType = "markdown"
)

// Message is a tagged union discriminated by Type. Severity is only set on errors.
type Message struct {
	Type        MessageType `json:"type"`
	Code        string      `json:"code,omitempty"`
	Path        string      `json:"path,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
	Content     string      `json:"content"`
	Severity    Severity    `json:"severity,omitempty"`
}

func NewError(code, path, content string, severity Severity) Message {
	return Message{
		Type:        MessageTypeError,
		Code:        code,
		Path:        path,
		ContentType: ContentTypePlain,
		Content:     content,
		Severity:    severity,
	}
}

func NewWarning(code, path, content string) Message {
	return Message{
		Type:        MessageTypeWarning,
		Code:        code,
		Path:        path,
		ContentType: ContentTypePlain,
		Content:     content,
	}
}

func NewInfo(code, path, content string) Message {
	return Message{
		Type:        MessageTypeInfo,
		Code:        code,
		Path:        path,
		ContentType: ContentTypePlain,
		Content:     content,
	}
}

func (m Message) IsError() bool {
	return m.Type == MessageTypeError
}

// RequiresEscalation is true for errors that need a human in the loop.
func (m Message) RequiresEscalation() bool {
	return m.IsError() &&
		(m.Severity == SeverityRequiresBuyerInput || m.Severity == SeverityRequiresBuyerReview)
}
