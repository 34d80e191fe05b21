package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crispdesk/internal/intent"
)

const (
	inquiryPrompt     = "Please type your inquiry, or '%s' when you are done:"
	inquiryNextPrompt = "Anything else? Type your next inquiry, or '%s' when you are done:"
	inquiryAirtime    = "For airtime issues, choose 'Report airtime not received' from the menu, or 'Purchase airtime' to top up."
	inquiryData       = "Data bundles can be bought from the Bundles section of the app and are activated within a few minutes."
	inquiryGeneric    = "Thank you for your inquiry. A member of our team will review it and get back to you."
	inquiryGoodbye    = "Thank you for reaching out. Have a nice day!"
)

// Inquiries answers free-form questions by keyword until the user exits.
type Inquiries struct {
	ExitKeyword string
	Timeout     time.Duration
}

func (q *Inquiries) Name() string { return intent.FlowInquiries }

func (q *Inquiries) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	prompt := fmt.Sprintf(inquiryPrompt, q.ExitKeyword)
	for {
		turn, err := s.Ask(ctx, prompt, q.Timeout)
		if err != nil {
			return Continue, err
		}
		switch turn.Outcome {
		case Timeout:
			return Timeout, s.TimedOut(ctx)
		case Exit:
			return Exit, s.Send(ctx, inquiryGoodbye)
		}

		if err := s.Send(ctx, answerInquiry(turn.Text)); err != nil {
			return Continue, err
		}
		prompt = fmt.Sprintf(inquiryNextPrompt, q.ExitKeyword)
	}
}

func answerInquiry(text string) string {
	norm := intent.Normalize(text)
	switch {
	case strings.Contains(norm, "airtime"):
		return inquiryAirtime
	case strings.Contains(norm, "data"), strings.Contains(norm, "bundle"):
		return inquiryData
	default:
		return inquiryGeneric
	}
}
