package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crispdesk/internal/domain"
	"crispdesk/internal/intent"
)

func formatUsers(header string, users []domain.User) string {
	var sb strings.Builder
	sb.WriteString(header)
	for _, u := range users {
		fmt.Fprintf(&sb, "\nID: %d, Name: %s, Email: %s", u.ID, u.Name, u.Email)
	}
	return sb.String()
}

// FindUsers asks for a search term and lists matching directory users.
type FindUsers struct {
	Directory domain.UserDirectory
	Timeout   time.Duration
}

func (f *FindUsers) Name() string { return intent.FlowFindUsers }

func (f *FindUsers) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	turn, err := s.Ask(ctx, "Please enter a user name or email to search:", f.Timeout)
	if err != nil {
		return Continue, err
	}
	switch turn.Outcome {
	case Timeout:
		return Timeout, s.TimedOut(ctx)
	case Exit:
		return Exit, s.Send(ctx, "User search cancelled.")
	}

	users, err := f.Directory.SearchUsers(ctx, turn.Text)
	if err != nil {
		return Continue, fmt.Errorf("search users: %w", err)
	}
	if len(users) == 0 {
		return Continue, s.Send(ctx, fmt.Sprintf("No users found matching '%s'.", turn.Text))
	}
	return Continue, s.Send(ctx, formatUsers("Users found:", users))
}

// RecentPosts lists the posts published since local midnight.
type RecentPosts struct {
	Directory domain.UserDirectory
	Now       func() time.Time // defaults to time.Now
}

func (r *RecentPosts) Name() string { return intent.FlowRecentPosts }

func (r *RecentPosts) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	posts, err := r.Directory.PostsSince(ctx, midnight)
	if err != nil {
		return Continue, fmt.Errorf("list posts: %w", err)
	}
	if len(posts) == 0 {
		return Continue, s.Send(ctx, "No chirps found for today.")
	}

	var sb strings.Builder
	sb.WriteString("Chirps for today:")
	for _, p := range posts {
		fmt.Fprintf(&sb, "\n- %s (%s)", p.Message, p.CreatedAt.In(t.Location()).Format("15:04"))
	}
	return Continue, s.Send(ctx, sb.String())
}

type CountUsers struct {
	Directory domain.UserDirectory
}

func (c *CountUsers) Name() string { return intent.FlowCountUsers }

func (c *CountUsers) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	n, err := c.Directory.CountUsers(ctx)
	if err != nil {
		return Continue, fmt.Errorf("count users: %w", err)
	}
	return Continue, s.Send(ctx, fmt.Sprintf("Total number of users: %d", n))
}

type ListUsers struct {
	Directory domain.UserDirectory
}

func (l *ListUsers) Name() string { return intent.FlowListUsers }

func (l *ListUsers) Run(ctx context.Context, s *Session) (StepOutcome, error) {
	users, err := l.Directory.ListUsers(ctx)
	if err != nil {
		return Continue, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return Continue, s.Send(ctx, "No users found in the database.")
	}
	return Continue, s.Send(ctx, formatUsers("Users in the database:", users))
}
