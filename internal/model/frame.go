package model

import (
	"encoding/json"
	"time"
)

// Frame types written to stream clients.
const (
	FrameConnected    = "connected"
	FrameHeartbeat    = "heartbeat"
	FrameNotification = "notification"
)

// Frame is the wire envelope {type, data, timestamp}.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// QueueEntry is the transient envelope stored in a user's durable queue.
// It has the same shape as Frame so a popped entry is forwarded as-is.
type QueueEntry = Frame

// NewFrame marshals data into a frame stamped with now.
func NewFrame(frameType string, data any) (Frame, error) {
	f := Frame{Type: frameType, Timestamp: time.Now().UTC()}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	f.Data = raw
	return f, nil
}

// NotificationID extracts data.id from a notification frame, or "".
func (f Frame) NotificationID() string {
	if f.Type != FrameNotification || len(f.Data) == 0 {
		return ""
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(f.Data, &probe); err != nil {
		return ""
	}
	return probe.ID
}
