package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crispdesk/internal/domain"
	"crispdesk/internal/intent"
)

const (
	bugReportIntro = "You have selected 'Report a bug'. Please provide details about the bug. " +
		"You can type '%s' to exit the bug reporting process."
	bugReportCollected = "Bug details collected so far:\n%s\n\nType '%s' to submit the bug report or provide additional details:"
	bugReportExited    = "Bug report process has been exited."
	bugReportSubmitted = "Thank you! Your bug report #%d has been submitted. Bug report process has been exited."
)

// BugReport collects free-text details until the user sends the exit keyword,
// echoing everything gathered so far after each message. Collected details
// are stored when the dialog ends by exit or timeout.
type BugReport struct {
	Sink        domain.BugReportSink // optional
	ExitKeyword string
	Timeout     time.Duration
}

func (b *BugReport) Name() string { return intent.FlowBugReport }

func (b *BugReport) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	var details []string
	prompt := fmt.Sprintf(bugReportIntro, b.ExitKeyword)

	for {
		turn, err := s.Ask(ctx, prompt, b.Timeout)
		if err != nil {
			return Continue, err
		}

		switch turn.Outcome {
		case Continue:
			details = append(details, turn.Text)
			prompt = fmt.Sprintf(bugReportCollected, bulletList(details), b.ExitKeyword)

		case Exit:
			id, err := b.save(ctx, s, details)
			if err != nil {
				return Exit, err
			}
			if id > 0 {
				return Exit, s.Send(ctx, fmt.Sprintf(bugReportSubmitted, id))
			}
			return Exit, s.Send(ctx, bugReportExited)

		case Timeout:
			if _, err := b.save(ctx, s, details); err != nil {
				return Timeout, err
			}
			return Timeout, s.TimedOut(ctx)
		}
	}
}

func (b *BugReport) save(ctx context.Context, s *Session, details []string) (int64, error) {
	if b.Sink == nil || len(details) == 0 {
		return 0, nil
	}
	id, err := b.Sink.SaveBugReport(ctx, domain.BugReport{
		ConversationID: s.ConversationID,
		ParticipantID:  s.ParticipantID,
		Details:        details,
	})
	if err != nil {
		return 0, fmt.Errorf("save bug report: %w", err)
	}
	return id, nil
}

func bulletList(items []string) string {
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(it)
	}
	return sb.String()
}
