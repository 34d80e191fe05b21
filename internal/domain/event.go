// Package domain holds the types and interfaces shared by every crispdesk
// package.
package domain

import "time"

// EventKind classifies an inbound platform webhook.
type EventKind string

const (
	EventMessageSent EventKind = "message:send"
	EventOther       EventKind = "other"
)

// MessageKind is the payload type of a chat message.
type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

// InboundEvent is one decoded webhook delivery. It is built once per call and
// never mutated afterwards.
type InboundEvent struct {
	Kind           EventKind
	RawKind        string // event name as sent by the platform
	ConversationID string // Crisp session_id
	ChannelID      string // Crisp website_id
	ParticipantID  string // data.user.user_id
	MessageKind    MessageKind
	Content        string
	Timestamp      time.Time
	Fingerprint    string // platform message fingerprint, empty if not sent
	DeliveryID     string
}

// IsSupportedMessage reports whether the message kind can be routed to a flow.
func (e InboundEvent) IsSupportedMessage() bool {
	return e.MessageKind == MessageText || e.MessageKind == MessageFile
}
