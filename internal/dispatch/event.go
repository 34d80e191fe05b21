package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crispdesk/internal/crisp"
	"crispdesk/internal/domain"
)

var (
	ErrMalformedEvent     = errors.New("malformed event")
	ErrUnsupportedEvent   = errors.New("unsupported event kind")
	ErrUnsupportedMessage = errors.New("unsupported message kind")
	ErrDuplicateDelivery  = errors.New("duplicate delivery")
	ErrConversationBusy   = errors.New("conversation busy")
	ErrClosed             = errors.New("dispatcher closed")
)

// webhookPayload is the subset of a Crisp web hook body the bot reads.
type webhookPayload struct {
	Event     string       `json:"event"`
	WebsiteID string       `json:"website_id"`
	Timestamp int64        `json:"timestamp"`
	Data      *messageData `json:"data"`
}

type messageData struct {
	WebsiteID   string          `json:"website_id"`
	SessionID   string          `json:"session_id"`
	Type        string          `json:"type"`
	From        string          `json:"from"`
	Content     json.RawMessage `json:"content"`
	Fingerprint json.Number     `json:"fingerprint"`
	Timestamp   int64           `json:"timestamp"`
	User        struct {
		UserID   string `json:"user_id"`
		Nickname string `json:"nickname"`
	} `json:"user"`
}

// DecodeEvent parses a web hook body. Events other than message:send are
// returned with Kind EventOther and no error; the caller decides to ignore
// them. The delivery id is the message fingerprint, or a hash of the body
// when the platform sent none.
func DecodeEvent(raw []byte) (domain.InboundEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	p.Event = strings.TrimSpace(p.Event)
	if p.Event == "" {
		return domain.InboundEvent{}, fmt.Errorf("%w: missing event", ErrMalformedEvent)
	}

	ev := domain.InboundEvent{RawKind: p.Event, Kind: domain.EventOther}
	if p.Event != string(domain.EventMessageSent) {
		return ev, nil
	}
	ev.Kind = domain.EventMessageSent

	d := p.Data
	if d == nil {
		return ev, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if d.SessionID == "" {
		return ev, fmt.Errorf("%w: missing data.session_id", ErrMalformedEvent)
	}

	ev.ConversationID = d.SessionID
	ev.ChannelID = d.WebsiteID
	if ev.ChannelID == "" {
		ev.ChannelID = p.WebsiteID
	}
	ev.ParticipantID = d.User.UserID
	ev.MessageKind = domain.MessageKind(d.Type)
	ev.Content = crisp.ContentText(d.Content)
	ev.Fingerprint = d.Fingerprint.String()

	switch {
	case d.Timestamp > 0:
		ev.Timestamp = time.UnixMilli(d.Timestamp)
	case p.Timestamp > 0:
		ev.Timestamp = time.UnixMilli(p.Timestamp)
	}

	if ev.Fingerprint != "" {
		ev.DeliveryID = ev.Fingerprint
	} else {
		sum := sha256.Sum256(raw)
		ev.DeliveryID = hex.EncodeToString(sum[:])
	}
	return ev, nil
}
