// Package marketplace sells prompt templates. A visitor "buys" a prompt
// with an e-mail address and receives an opaque access token; the full
// template is served only against a completed purchase's token.
//
// Free prompts complete immediately. Paid prompts stay pending until an
// admin confirms the payment; the operator is notified through channels
// when such an order arrives.
package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gvirila/portal/idgen"
)

// Prompt states.
const (
	PromptPublished = "published"
	PromptDraft     = "draft"
)

// DefaultCurrency is used when a prompt has none.
const DefaultCurrency = "GEL"

// ErrPromptNotFound is returned for unknown or unpublished prompts.
var ErrPromptNotFound = errors.New("marketplace: prompt not found")

// Schema holds the marketplace tables. The partial unique index forbids a
// second live purchase of the same prompt by the same address.
const Schema = `
CREATE TABLE IF NOT EXISTS prompts (
    id          TEXT PRIMARY KEY,
    slug        TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    preview     TEXT NOT NULL DEFAULT '',
    template    TEXT NOT NULL DEFAULT '',
    price       INTEGER NOT NULL DEFAULT 0,
    currency    TEXT NOT NULL DEFAULT 'GEL',
    downloads   INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL DEFAULT 'draft',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompts_status ON prompts(status, created_at);

CREATE TABLE IF NOT EXISTS purchases (
    id                TEXT PRIMARY KEY,
    prompt_id         TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
    email             TEXT NOT NULL,
    name              TEXT NOT NULL DEFAULT '',
    phone             TEXT NOT NULL DEFAULT '',
    access_token      TEXT NOT NULL UNIQUE,
    status            TEXT NOT NULL DEFAULT 'pending',
    price             INTEGER NOT NULL DEFAULT 0,
    notification_sent INTEGER NOT NULL DEFAULT 0,
    access_count      INTEGER NOT NULL DEFAULT 0,
    first_accessed_at INTEGER,
    created_at        INTEGER NOT NULL,
    completed_at      INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_live
    ON purchases(prompt_id, email) WHERE status IN ('pending', 'completed');
CREATE INDEX IF NOT EXISTS idx_purchases_status ON purchases(status, created_at);
`

// Prompt is a marketplace item. Price is in tetri (1/100 GEL). Template is
// the gated content and is omitted from public listings.
type Prompt struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Preview     string `json:"preview"`
	Template    string `json:"template,omitempty"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Downloads   int64  `json:"downloads"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// IsFree reports whether the prompt costs nothing.
func (p *Prompt) IsFree() bool { return p.Price <= 0 }

// Public returns a copy without the template.
func (p *Prompt) Public() *Prompt {
	c := *p
	c.Template = ""
	return &c
}

// Prompts is the prompt store.
type Prompts struct {
	DB    *sql.DB
	newID idgen.Generator
}

// NewPrompts wraps db, which must have Schema applied.
func NewPrompts(db *sql.DB) *Prompts {
	return &Prompts{DB: db, newID: idgen.Prefixed("prm_", idgen.Default)}
}

// Insert adds p, filling id, currency, status and timestamps when unset.
func (s *Prompts) Insert(ctx context.Context, p *Prompt) error {
	now := time.Now().UnixMilli()
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Status == "" {
		p.Status = PromptDraft
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO prompts (id, slug, title, description, preview, template,
		price, currency, downloads, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Title, p.Description, p.Preview, p.Template,
		p.Price, p.Currency, p.Downloads, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("marketplace: insert prompt: %w", err)
	}
	return nil
}

// Get returns a prompt by id or slug, whatever its status.
func (s *Prompts) Get(ctx context.Context, idOrSlug string) (*Prompt, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, slug, title, description, preview, template, price, currency,
		downloads, status, created_at, updated_at
		FROM prompts WHERE id = ? OR slug = ? LIMIT 1`, idOrSlug, idOrSlug)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPromptNotFound
	}
	return p, err
}

// GetPublished is Get restricted to published prompts.
func (s *Prompts) GetPublished(ctx context.Context, idOrSlug string) (*Prompt, error) {
	p, err := s.Get(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if p.Status != PromptPublished {
		return nil, ErrPromptNotFound
	}
	return p, nil
}

// List returns prompts, most downloaded first. An empty status lists all.
func (s *Prompts) List(ctx context.Context, status string) ([]*Prompt, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, slug, title, description, preview, template, price, currency,
		downloads, status, created_at, updated_at
		FROM prompts WHERE ? = '' OR status = ?
		ORDER BY downloads DESC, created_at DESC`, status, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update rewrites a prompt's mutable fields. Downloads are left alone.
func (s *Prompts) Update(ctx context.Context, p *Prompt) error {
	p.UpdatedAt = time.Now().UnixMilli()
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE prompts SET slug=?, title=?, description=?, preview=?, template=?,
		price=?, currency=?, status=?, updated_at=?
		WHERE id=?`,
		p.Slug, p.Title, p.Description, p.Preview, p.Template,
		p.Price, p.Currency, p.Status, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("marketplace: update prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPromptNotFound
	}
	return nil
}

// Delete removes a prompt and its purchases.
func (s *Prompts) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPromptNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrompt(sc scanner) (*Prompt, error) {
	var p Prompt
	err := sc.Scan(&p.ID, &p.Slug, &p.Title, &p.Description, &p.Preview, &p.Template,
		&p.Price, &p.Currency, &p.Downloads, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
