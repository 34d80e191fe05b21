package domain

import (
	"context"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a short public message authored by a directory user.
type Post struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// BugReport is the result of a completed bug-report conversation.
type BugReport struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	Details        []string  `json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserDirectory is the read side of the host application's user records.
type UserDirectory interface {
	SearchUsers(ctx context.Context, term string) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]User, error)
	PostsSince(ctx context.Context, since time.Time) ([]Post, error)
}

// BugReportSink stores submitted bug reports.
type BugReportSink interface {
	SaveBugReport(ctx context.Context, report BugReport) (int64, error)
}
