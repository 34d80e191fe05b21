// Package directory is the SQLite-backed user directory the support flows
// query, and the sink for submitted bug reports.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crispdesk/internal/domain"
)

// ErrDuplicateEmail is returned by AddUser when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// SQLiteStore implements domain.UserDirectory and domain.BugReportSink.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ domain.UserDirectory = (*SQLiteStore)(nil)
	_ domain.BugReportSink = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// likePattern escapes LIKE wildcards in term and wraps it for substring match.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// AddUser inserts a user. Email is unique.
func (s *SQLiteStore) AddUser(ctx context.Context, name, email string) (domain.User, error) {
	u := domain.User{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), CreatedAt: time.Now()}
	if u.Name == "" || u.Email == "" {
		return domain.User{}, fmt.Errorf("name and email are required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, created_at) VALUES (?, ?, ?)`,
		u.Name, u.Email, toMillis(u.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	u.CreatedAt = fromMillis(toMillis(u.CreatedAt))
	return u, nil
}

// AddPost records a post for an existing user. A zero at uses the current time.
func (s *SQLiteStore) AddPost(ctx context.Context, userID int64, message string, at time.Time) (domain.Post, error) {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (user_id, message, created_at) VALUES (?, ?, ?)`,
		userID, message, toMillis(at),
	)
	if err != nil {
		return domain.Post{}, fmt.Errorf("insert post: %w", err)
	}
	id, _ := res.LastInsertId()
	return domain.Post{ID: id, UserID: userID, Message: message, CreatedAt: fromMillis(toMillis(at))}, nil
}

// SearchUsers matches term as a case-insensitive substring of name or email.
func (s *SQLiteStore) SearchUsers(ctx context.Context, term string) ([]domain.User, error) {
	pattern := likePattern(strings.TrimSpace(term))
	return s.queryUsers(ctx,
		`SELECT id, name, email, created_at FROM users
		 WHERE name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\'
		 ORDER BY id`, pattern, pattern)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.queryUsers(ctx, `SELECT id, name, email, created_at FROM users ORDER BY id`)
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var created int64
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMillis(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// PostsSince returns posts created at or after since, oldest first.
func (s *SQLiteStore) PostsSince(ctx context.Context, since time.Time) ([]domain.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, created_at FROM posts
		 WHERE created_at >= ? ORDER BY created_at, id`, toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var created int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Message, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(created)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *SQLiteStore) SaveBugReport(ctx context.Context, report domain.BugReport) (int64, error) {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	details, err := json.Marshal(report.Details)
	if err != nil {
		return 0, fmt.Errorf("marshal details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bug_reports (conversation_id, participant_id, details, created_at) VALUES (?, ?, ?, ?)`,
		report.ConversationID, report.ParticipantID, string(details), toMillis(report.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert bug report: %w", err)
	}
	id, _ := res.LastInsertId()
	s.logger.Info("bug report saved", "id", id, "conversation_id", report.ConversationID, "details", len(report.Details))
	return id, nil
}

// ListBugReports returns the most recent reports first.
func (s *SQLiteStore) ListBugReports(ctx context.Context, limit int) ([]domain.BugReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, participant_id, details, created_at
		 FROM bug_reports ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bug reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.BugReport
	for rows.Next() {
		var r domain.BugReport
		var details string
		var created int64
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.ParticipantID, &details, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("decode details of report %d: %w", r.ID, err)
		}
		r.CreatedAt = fromMillis(created)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
