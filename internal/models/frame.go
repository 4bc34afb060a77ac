package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Frame types exchanged over the websocket connection.
const (
	FrameRequestResponse = "request_response"
	FrameRequestStream   = "request_stream"
	FrameCancel          = "cancel"

	FramePayload  = "payload"
	FrameNext     = "next"
	FrameComplete = "complete"
	FrameError    = "error"
)

// Frame is one client request on the protocol connection.
type Frame struct {
	ID    uint64          `json:"id"`
	Type  string          `json:"type"`
	Route string          `json:"route,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ReplyFrame is one server frame answering a request id.
type ReplyFrame struct {
	ID     uint64         `json:"id"`
	Type   string         `json:"type"`
	Data   interface{}    `json:"data,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
	Status int            `json:"status,omitempty"`
}

// MessageRequest is the payload of the "send" route.
type MessageRequest struct {
	ChatID  uuid.UUID `json:"chatId" validate:"required"`
	UserID  uuid.UUID `json:"userId"`
	Content string    `json:"content" validate:"required"`
}

// ChatAccessRequest is the payload of the "subscribe" and "history" routes.
type ChatAccessRequest struct {
	ChatID uuid.UUID `json:"chatId" validate:"required"`
	UserID uuid.UUID `json:"userId"`
}

// HistoryRequest is the payload of the "loadHistory" route.
type HistoryRequest struct {
	UserID          uuid.UUID `json:"userId"`
	ChatID          uuid.UUID `json:"chatId" validate:"required"`
	BeforeTimestamp Timestamp `json:"beforeTimestamp"`
	Limit           int       `json:"limit" validate:"gte=0"`
}

// ErrorResponse is the wire shape of every failure.
type ErrorResponse struct {
	Type         string                 `json:"type"`
	DebugMessage string                 `json:"debugMessage"`
	DebugParams  map[string]interface{} `json:"debugParams"`
}

// Timestamp accepts RFC 3339 as well as zone-less local date-times, which
// browsers produce by trimming the trailing "Z". Zone-less values are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}
