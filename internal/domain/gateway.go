package domain

import "context"

// Gateway is the chat-platform boundary. Implementations must be safe for
// concurrent use by many flows.
type Gateway interface {
	SendMessage(ctx context.Context, conversationID, channelID string, msg OutgoingMessage) error
	FetchTranscript(ctx context.Context, conversationID, channelID string) ([]TranscriptEntry, error)
	AssignRouting(ctx context.Context, conversationID, channelID, operatorID string) error
}
