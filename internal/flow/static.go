package flow

import (
	"context"
	"fmt"

	"crispdesk/internal/intent"
)

// Reply answers with a fixed message and takes no turns.
type Reply struct {
	name string
	text string
}

func NewReply(name, text string) *Reply {
	return &Reply{name: name, text: text}
}

func (r *Reply) Name() string { return r.name }

func (r *Reply) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	return Continue, s.Send(ctx, r.text)
}

// TalkToAgent acknowledges the request and routes the conversation to an
// operator. With no configured operator, the requesting participant is used
// as the routing target.
type TalkToAgent struct {
	OperatorID string
}

func (t *TalkToAgent) Name() string { return intent.FlowTalkToAgent }

func (t *TalkToAgent) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	if err := s.Send(ctx, "Give us a few minutes to get you connected to an agent."); err != nil {
		return Continue, err
	}
	target := t.OperatorID
	if target == "" {
		target = s.ParticipantID
	}
	if target == "" {
		return Continue, fmt.Errorf("no routing target for conversation %s", s.ConversationID)
	}
	if err := s.Assign(ctx, target); err != nil {
		return Continue, fmt.Errorf("assign routing: %w", err)
	}
	s.Logger().Info("conversation routed to operator", "operator_id", target)
	return Continue, nil
}
