// Package wsconnector is a demo WebSocket transport for the connector
// lifecycle, adapted from this module's WebSocket coordination client: the
// same typed-envelope-over-JSON wire format and dial/read/send-loop
// structure, generalized from workflow phase messages to property-change
// and structural-change events.
package wsconnector

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the wire envelope's payload.
type MessageType string

const (
	MessageTypeSnapshotComplete MessageType = "snapshot_complete"
	MessageTypePropertyChanged  MessageType = "property_changed"
	MessageTypeSubjectAdded     MessageType = "subject_added"
	MessageTypeSubjectRemoved   MessageType = "subject_removed"
	MessageTypePing             MessageType = "ping"
	MessageTypePong             MessageType = "pong"
)

// Envelope is the wire message exchanged with the remote system.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PropertyChangedPayload describes one inbound value transition, keyed by
// the remote system's external identifier rather than a local subject
// reference — the registry resolves that on the receiving side.
type PropertyChangedPayload struct {
	ExternalID       string      `json:"externalId"`
	Property         string      `json:"property"`
	NewValue         interface{} `json:"newValue"`
	ChangedTimestamp time.Time   `json:"changedTimestamp"`
}

// SubjectEdgePayload describes one inbound structural add/remove against a
// collection or dictionary property.
type SubjectEdgePayload struct {
	ParentExternalID string  `json:"parentExternalId"`
	Property         string  `json:"property"`
	ChildExternalID  string  `json:"childExternalId"`
	Index            *int    `json:"index,omitempty"`
	Key              *string `json:"key,omitempty"`
}

func newEnvelope(t MessageType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Timestamp: time.Now(), Payload: raw}, nil
}

func parseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
