package flow

import (
	"context"
	"fmt"
	"time"

	"crispdesk/internal/extract"
	"crispdesk/internal/intent"
)

const (
	airtimePrompt = "You have selected 'Report airtime not received'. " +
		"Please paste the transaction message you received for the purchase."
	airtimeFound    = "Thank you. Here are the details of your transaction:\n%s\nOur team will look into it and get back to you shortly."
	airtimeNotFound = "Sorry, we could not read the transaction details from that message. " +
		"Please select the option again and paste a valid transaction message."
	airtimeCancelled = "Airtime report cancelled."
)

// AirtimeNotReceived asks for the transaction notification once and replies
// with what the extractor could read from it.
type AirtimeNotReceived struct {
	Extractor *extract.Extractor
	Timeout   time.Duration
}

func (a *AirtimeNotReceived) Name() string { return intent.FlowAirtimeNotReceived }

func (a *AirtimeNotReceived) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	turn, err := s.Ask(ctx, airtimePrompt, a.Timeout)
	if err != nil {
		return Continue, err
	}
	switch turn.Outcome {
	case Timeout:
		return Timeout, s.TimedOut(ctx)
	case Exit:
		return Exit, s.Send(ctx, airtimeCancelled)
	}

	details := a.Extractor.Extract(turn.Text)
	if !details.Found() {
		s.Logger().Info("no transaction details in reply")
		return Continue, s.Send(ctx, airtimeNotFound)
	}
	return Continue, s.Send(ctx, fmt.Sprintf(airtimeFound, details.Summary()))
}
