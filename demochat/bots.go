// Package demochat serves the conversational bots sold on the portal: a
// rate- and length-limited demo of each bot for anonymous visitors, the
// full chat for signed-in users, and the prompt-injection guard both
// share.
package demochat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gvirila/portal/idgen"
)

// Bot states.
const (
	BotActive   = "active"
	BotDraft    = "draft"
	BotArchived = "archived"
)

// ErrBotNotFound is returned when no bot matches an id or slug.
var ErrBotNotFound = errors.New("demochat: bot not found")

// Schema is the bots table.
const Schema = `
CREATE TABLE IF NOT EXISTS bots (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    slug          TEXT NOT NULL UNIQUE,
    description   TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    model         TEXT NOT NULL DEFAULT '',
    demo_enabled  INTEGER NOT NULL DEFAULT 1,
    status        TEXT NOT NULL DEFAULT 'draft',
    price         INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status, created_at);
`

// Bot is a sellable conversational bot. Price is in tetri (1/100 GEL).
type Bot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
	DemoEnabled  bool   `json:"demo_enabled"`
	Status       string `json:"status"`
	Price        int64  `json:"price"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Public returns a copy safe to serve to visitors.
func (b *Bot) Public() *Bot {
	c := *b
	c.SystemPrompt = ""
	c.Model = ""
	return &c
}

// Bots is the bot store.
type Bots struct {
	DB    *sql.DB
	newID idgen.Generator
}

// NewBots wraps db, which must have Schema applied.
func NewBots(db *sql.DB) *Bots {
	return &Bots{DB: db, newID: idgen.Prefixed("bot_", idgen.Default)}
}

// Insert adds b, filling id, timestamps and status when unset.
func (s *Bots) Insert(ctx context.Context, b *Bot) error {
	now := time.Now().UnixMilli()
	if b.ID == "" {
		b.ID = s.newID()
	}
	if b.Status == "" {
		b.Status = BotDraft
	}
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO bots (id, name, slug, description, system_prompt, model,
		demo_enabled, status, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Slug, b.Description, b.SystemPrompt, b.Model,
		b.DemoEnabled, b.Status, b.Price, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("demochat: insert bot: %w", err)
	}
	return nil
}

// Get returns a bot by id or slug.
func (s *Bots) Get(ctx context.Context, idOrSlug string) (*Bot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, name, slug, description, system_prompt, model,
		demo_enabled, status, price, created_at, updated_at
		FROM bots WHERE id = ? OR slug = ? LIMIT 1`, idOrSlug, idOrSlug)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBotNotFound
	}
	return b, err
}

// List returns bots, newest first. An empty status lists every bot.
func (s *Bots) List(ctx context.Context, status string) ([]*Bot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, slug, description, system_prompt, model,
		demo_enabled, status, price, created_at, updated_at
		FROM bots WHERE ? = '' OR status = ? ORDER BY created_at DESC`, status, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bots := []*Bot{}
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// Update rewrites a bot's mutable fields.
func (s *Bots) Update(ctx context.Context, b *Bot) error {
	b.UpdatedAt = time.Now().UnixMilli()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE bots SET name=?, slug=?, description=?, system_prompt=?, model=?,
		demo_enabled=?, status=?, price=?, updated_at=?
		WHERE id=?`,
		b.Name, b.Slug, b.Description, b.SystemPrompt, b.Model,
		b.DemoEnabled, b.Status, b.Price, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("demochat: update bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBotNotFound
	}
	return nil
}

// Delete removes a bot.
func (s *Bots) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBotNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBot(sc scanner) (*Bot, error) {
	var b Bot
	err := sc.Scan(&b.ID, &b.Name, &b.Slug, &b.Description, &b.SystemPrompt, &b.Model,
		&b.DemoEnabled, &b.Status, &b.Price, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
