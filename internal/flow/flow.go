// Package flow runs the multi-turn support dialogs selected by the intent
// classifier.
package flow

import "context"

// Flow is one named conversational procedure. Run drives the dialog through
// the session and returns the outcome of its final turn (Continue when the
// flow finished on its own). Errors are turned into an apology by the Engine.
type Flow interface {
	Name() string
	Run(ctx context.Context, s *Session) (StepOutcome, error)
}

const (
	msgApology  = "Oops! Something went wrong. We're sorry, please try again in a moment."
	msgTimedOut = "We did not hear back from you, so this request has been closed. Send any message to see the menu again."
)
