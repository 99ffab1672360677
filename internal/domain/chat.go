package domain

// ChatRequest is the JSON body posted to the workflow webhook. It is built
// fresh for every send and never persisted.
type ChatRequest struct {
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	UserID    string         `json:"userId"`
	Context   map[string]any `json:"context,omitempty"`
}

// ErrorKind classifies a degraded ChatResponse. The zero value means the
// reply was extracted successfully.
type ErrorKind string

const (
	ErrorNone               ErrorKind = ""
	ErrorWebhookUnavailable ErrorKind = "webhook_unavailable"
	ErrorMalformedResponse  ErrorKind = "malformed_response"
	ErrorAborted            ErrorKind = "aborted"
)

// ChatResponse is the normalized reply handed back to the chat UI. Text is
// always renderable, even when Success is false.
type ChatResponse struct {
	Text         string    `json:"text"`
	Success      bool      `json:"success"`
	Error        ErrorKind `json:"error,omitempty"`
	RawResponse  *string   `json:"rawResponse,omitempty"`
	ContentParts *int      `json:"contentParts,omitempty"`
}

// Outcome returns the error kind, or "ok" for a successful reply.
func (r ChatResponse) Outcome() string {
	if r.Error == ErrorNone {
		return "ok"
	}
	return string(r.Error)
}
