package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"crispdesk/internal/collector"
	"crispdesk/internal/domain"
	"crispdesk/internal/intent"
)

// StepOutcome is the result of one conversational turn.
type StepOutcome int

const (
	// Continue means the user answered with something other than the exit keyword.
	Continue StepOutcome = iota
	// Exit means the user sent the exit keyword.
	Exit
	// Timeout means no answer arrived in time.
	Timeout
)

func (o StepOutcome) String() string {
	switch o {
	case Exit:
		return "exit"
	case Timeout:
		return "timeout"
	default:
		return "continue"
	}
}

// Turn is what Ask returns. Text is the trimmed user reply for Continue and Exit.
type Turn struct {
	Outcome StepOutcome
	Text    string
}

// Session is the context of one flow run: the conversation it serves and a
// transcript cursor owned exclusively by the run.
type Session struct {
	RunID          string
	ConversationID string
	ChannelID      string
	ParticipantID  string
	Trigger        string // text that selected the flow

	gateway     domain.Gateway
	cursor      *collector.Cursor
	exitKeyword string
	timeout     time.Duration
	logger      *slog.Logger
}

// Logger returns a logger annotated with the run's identifiers.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Send posts a text message into the conversation.
func (s *Session) Send(ctx context.Context, text string) error {
	return s.gateway.SendMessage(ctx, s.ConversationID, s.ChannelID, domain.TextMessage(text))
}

// Ask sends prompt and waits for the next user message. A timeout of zero
// uses the session default. Timeouts are reported as a Turn, not an error;
// the returned error is non-nil only for gateway failures and cancellation.
func (s *Session) Ask(ctx context.Context, prompt string, timeout time.Duration) (Turn, error) {
	if timeout <= 0 {
		timeout = s.timeout
	}
	text, err := s.cursor.Await(ctx, prompt, timeout)
	if errors.Is(err, collector.ErrAwaitTimeout) {
		s.logger.Info("turn timed out", "timeout", timeout)
		return Turn{Outcome: Timeout}, nil
	}
	if err != nil {
		return Turn{}, err
	}
	if intent.Normalize(text) == s.exitKeyword {
		return Turn{Outcome: Exit, Text: text}, nil
	}
	return Turn{Outcome: Continue, Text: text}, nil
}

// Assign routes the conversation to an operator.
func (s *Session) Assign(ctx context.Context, operatorID string) error {
	return s.gateway.AssignRouting(ctx, s.ConversationID, s.ChannelID, operatorID)
}

// TimedOut tells the user the current request was closed for inactivity.
func (s *Session) TimedOut(ctx context.Context) error {
	return s.Send(ctx, msgTimedOut)
}
