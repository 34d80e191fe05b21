package domain

import "time"

// Author identifies who wrote a transcript entry.
type Author string

const (
	AuthorUser     Author = "user"
	AuthorOperator Author = "operator"
)

// TranscriptEntry is one message of a remote conversation, oldest first.
type TranscriptEntry struct {
	Author      Author    `json:"from"`
	Content     string    `json:"content"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutgoingMessage is what the bot posts into a conversation.
type OutgoingMessage struct {
	Content string
	Kind    MessageKind
	From    Author // sender role, normally AuthorOperator
	Origin  string // "chat"
}

// TextMessage builds the default operator text message.
func TextMessage(content string) OutgoingMessage {
	return OutgoingMessage{
		Content: content,
		Kind:    MessageText,
		From:    AuthorOperator,
		Origin:  "chat",
	}
}
