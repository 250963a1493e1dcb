// Package comments stores reader comments on posts, encyclopedia articles,
// marketplace prompts and bots, and runs the moderation queue behind them.
//
// Every submission starts pending (or spam, when it carries too many
// links) and becomes public only after an admin approves it.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gvirila/portal/idgen"
	"github.com/gvirila/portal/observability"
	"github.com/gvirila/portal/safe"
	"github.com/microcosm-cc/bluemonday"
)

// Moderation states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusSpam     = "spam"
)

const (
	// MaxTextLen is the longest stored comment, in characters.
	MaxTextLen = 2000
	// MaxLinks is the number of links a comment may hold before it is
	// filed as spam.
	MaxLinks = 3
	// DefaultAuthor names anonymous commenters.
	DefaultAuthor = "სტუმარი"
)

var (
	ErrNotFound      = errors.New("comments: not found")
	ErrEmptyText     = errors.New("comments: text is required")
	ErrInvalidTarget = errors.New("comments: invalid target")
	ErrInvalidStatus = errors.New("comments: invalid status")
)

// targets lists the entity kinds that accept comments.
var targets = map[string]bool{"post": true, "article": true, "prompt": true, "bot": true}

var linkRe = regexp.MustCompile(`(?i)https?://|www\.`)

// Schema is the comments table.
const Schema = `
CREATE TABLE IF NOT EXISTS comments (
    id           TEXT PRIMARY KEY,
    target_type  TEXT NOT NULL,
    target_id    TEXT NOT NULL,
    author_name  TEXT NOT NULL DEFAULT '',
    author_email TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    ip           TEXT NOT NULL DEFAULT '',
    user_agent   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    moderated_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_comments_target ON comments(target_type, target_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_comments_status ON comments(status, created_at);
`

// Comment is one stored comment. Email, IP and user agent are only filled
// for the admin queue.
type Comment struct {
	ID          string `json:"id"`
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email,omitempty"`
	Text        string `json:"text"`
	Status      string `json:"status"`
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ModeratedAt *int64 `json:"moderated_at,omitempty"`
}

// Submission is a comment as received from a reader.
type Submission struct {
	TargetType  string
	TargetID    string
	AuthorName  string
	AuthorEmail string
	Text        string
	IP          string
	UserAgent   string
}

// Config holds the settings needed to create a Store.
type Config struct {
	DB     *sql.DB
	Events observability.Recorder // nil = Discard
}

// Store manages the comments table.
type Store struct {
	db     *sql.DB
	events observability.Recorder
	policy *bluemonday.Policy
	newID  idgen.Generator
	now    func() time.Time
}

// New creates a Store and applies the schema.
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("comments: DB is required")
	}
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := cfg.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("comments schema: %w", err)
		}
	}
	events := cfg.Events
	if events == nil {
		events = observability.Discard
	}
	return &Store{
		db:     cfg.DB,
		events: events,
		policy: bluemonday.StrictPolicy(),
		newID:  idgen.Prefixed("cmt_", idgen.Default),
		now:    time.Now,
	}, nil
}

// Sanitize strips every HTML tag from text, trims it and cuts it to
// MaxTextLen characters.
func (s *Store) Sanitize(text string) string {
	text = strings.TrimSpace(s.policy.Sanitize(text))
	return safe.Truncate(text, MaxTextLen)
}

// IsSpam reports whether text holds more than MaxLinks links.
func IsSpam(text string) bool {
	return len(linkRe.FindAllStringIndex(text, MaxLinks+1)) > MaxLinks
}

// Submit stores a new comment, pending moderation.
func (s *Store) Submit(ctx context.Context, sub Submission) (*Comment, error) {
	if !targets[sub.TargetType] || strings.TrimSpace(sub.TargetID) == "" {
		return nil, ErrInvalidTarget
	}
	raw := sub.Text
	text := s.Sanitize(raw)
	if text == "" {
		return nil, ErrEmptyText
	}
	email := ""
	if strings.TrimSpace(sub.AuthorEmail) != "" {
		e, err := safe.ValidateEmail(sub.AuthorEmail)
		if err != nil {
			return nil, err
		}
		email = e
	}
	name := safe.Truncate(strings.TrimSpace(s.policy.Sanitize(sub.AuthorName)), 80)
	if name == "" {
		name = DefaultAuthor
	}

	c := &Comment{
		ID:          s.newID(),
		TargetType:  sub.TargetType,
		TargetID:    strings.TrimSpace(sub.TargetID),
		AuthorName:  name,
		AuthorEmail: email,
		Text:        text,
		Status:      StatusPending,
		IP:          sub.IP,
		UserAgent:   safe.Truncate(sub.UserAgent, 255),
		CreatedAt:   s.now().UnixMilli(),
	}
	if IsSpam(raw) {
		c.Status = StatusSpam
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, target_type, target_id, author_name, author_email,
			text, status, ip, user_agent, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TargetType, c.TargetID, c.AuthorName, c.AuthorEmail,
		c.Text, c.Status, c.IP, c.UserAgent, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("comments: insert: %w", err)
	}

	s.events.Record(ctx, observability.Event{
		Type:       observability.EventCommentSubmitted,
		EntityType: c.TargetType,
		EntityID:   c.TargetID,
		Details:    map[string]any{"comment_id": c.ID, "status": c.Status},
		Success:    true,
	})
	return c, nil
}

// ListApproved returns the public comments of a target, oldest first.
func (s *Store) ListApproved(ctx context.Context, targetType, targetID string, limit, offset int) ([]Comment, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_type, target_id, author_name, text, status, created_at
		FROM comments
		WHERE target_type = ? AND target_id = ? AND status = 'approved'
		ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		targetType, targetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("comments: list: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TargetType, &c.TargetID, &c.AuthorName, &c.Text, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("comments: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Queue returns comments in the given moderation state, newest first.
// An empty status means pending.
func (s *Store) Queue(ctx context.Context, status string, limit, offset int) ([]Comment, error) {
	if status == "" {
		status = StatusPending
	}
	if !validStatus(status) {
		return nil, ErrInvalidStatus
	}
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_type, target_id, author_name, author_email, text, status,
			ip, user_agent, created_at, moderated_at
		FROM comments WHERE status = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("comments: queue: %w", err)
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		c, err := scanFull(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Get returns a comment by id with every column.
func (s *Store) Get(ctx context.Context, id string) (*Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_type, target_id, author_name, author_email, text, status,
			ip, user_agent, created_at, moderated_at
		FROM comments WHERE id = ?`, id)
	c, err := scanFull(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Moderate moves a comment to status and stamps moderated_at.
func (s *Store) Moderate(ctx context.Context, id, status string) error {
	if !validStatus(status) || status == StatusPending {
		return ErrInvalidStatus
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET status = ?, moderated_at = ? WHERE id = ?`,
		status, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("comments: moderate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a comment.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("comments: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingCount returns the size of the moderation queue.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE status = 'pending'`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFull(sc scanner) (*Comment, error) {
	var c Comment
	var moderated sql.NullInt64
	err := sc.Scan(&c.ID, &c.TargetType, &c.TargetID, &c.AuthorName, &c.AuthorEmail, &c.Text,
		&c.Status, &c.IP, &c.UserAgent, &c.CreatedAt, &moderated)
	if err != nil {
		return nil, err
	}
	if moderated.Valid {
		c.ModeratedAt = &moderated.Int64
	}
	return &c, nil
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSpam:
		return true
	}
	return false
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
