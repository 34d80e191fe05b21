package domain

import "context"

// IntentLabel is one ranked guess from an external NLU service.
type IntentLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// NLUResult holds the labels returned for a single utterance, best first.
type NLUResult struct {
	Text   string        `json:"text"`
	Labels []IntentLabel `json:"intents"`
}

// Top returns the highest ranked label, if any.
func (r *NLUResult) Top() (IntentLabel, bool) {
	if r == nil || len(r.Labels) == 0 {
		return IntentLabel{}, false
	}
	return r.Labels[0], true
}

// NLU classifies free text into intent labels.
type NLU interface {
	Name() string
	Classify(ctx context.Context, text string) (*NLUResult, error)
}
