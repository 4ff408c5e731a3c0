package ws

import (
	"github.com/workaholi/focusroom/internal/record"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgChanged  MessageType = "changed"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// ChangedPayload tells clients that records of a type, optionally scoped to
// one session, changed. Clients re-read through the records API.
type ChangedPayload struct {
	RecordType record.Type `json:"recordType"`
	SessionID  string      `json:"sessionId,omitempty"`
}

// SnapshotPayload is sent on connect and periodically as a liveness beacon.
type SnapshotPayload struct {
	Counts map[record.Type]int `json:"counts"`
}
