package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/prdflow/pkg/domain"
)

// StreamRequest is the body of a streamed workflow invocation.
type StreamRequest struct {
	TextInput string   `json:"text_input"`
	SessionID string   `json:"session_id,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Answers   []string `json:"answers,omitempty"`
}

// StartRequest opens a conversation on backends that assign ids.
type StartRequest struct {
	TextInput string `json:"text_input"`
}

// StartResponse is the reply to StartRequest.
type StartResponse struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

// ContinueRequest forwards answers to an open conversation.
type ContinueRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	ThreadID  string   `json:"thread_id"`
	Answers   []string `json:"answers"`
}

// ContinueResponse is the reply to ContinueRequest. Content is a JSON
// document encoded as a string.
type ContinueResponse struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
}

// Continuation is the parsed Content of a ContinueResponse.
type Continuation struct {
	Questions []domain.QA
	Done      bool
}

// ParseContinuation parses the string-encoded content of a continuation reply.
func ParseContinuation(content string) (Continuation, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Continuation{}, domain.NewDecodeError([]byte(content), "invalid continuation content", err)
	}
	var p clarifierPayload
	if err := decodeMap(raw, &p); err != nil {
		return Continuation{}, domain.NewDecodeError([]byte(content), "malformed continuation content", err)
	}
	return Continuation{Questions: p.questions(), Done: p.Done}, nil
}

// EncodeContinuation is the inverse of ParseContinuation.
func EncodeContinuation(questions []domain.QA, done bool) (string, error) {
	resp := make([]clarifierJSON, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, clarifierJSON{Question: q.Question, Answer: q.Answer})
	}
	b, err := json.Marshal(struct {
		Resp []clarifierJSON `json:"resp"`
		Done bool            `json:"done"`
	}{resp, done})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type clarifierJSON struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ErrorBody is the JSON body of a non-success response.
type ErrorBody struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ParseErrorBody builds a BackendError from a non-success response. When the
// body carries no message a generic one is used.
func ParseErrorBody(status int, body []byte) *domain.BackendError {
	var eb ErrorBody
	msg := ""
	if err := json.Unmarshal(body, &eb); err == nil {
		msg = eb.Error
		if msg == "" {
			msg = eb.Detail
		}
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &domain.BackendError{StatusCode: status, Message: msg}
}
