// Package encyclopedia holds the AI encyclopedia: categorised educational
// articles with full-text search over title, summary and body.
package encyclopedia

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gvirila/portal/content"
	"github.com/gvirila/portal/idgen"
)

// Difficulty levels.
const (
	Beginner     = "beginner"
	Intermediate = "intermediate"
	Advanced     = "advanced"
)

var (
	ErrNotFound          = errors.New("encyclopedia: article not found")
	ErrInvalidArticle    = errors.New("encyclopedia: slug, title and category are required")
	ErrInvalidDifficulty = errors.New("encyclopedia: difficulty must be beginner, intermediate or advanced")
	ErrEmptyQuery        = errors.New("encyclopedia: empty search query")
)

// Schema is the articles table and its FTS5 index, kept in sync by
// triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
    id          TEXT PRIMARY KEY,
    slug        TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL,
    category    TEXT NOT NULL,
    summary     TEXT NOT NULL DEFAULT '',
    body        TEXT NOT NULL DEFAULT '',
    difficulty  TEXT NOT NULL DEFAULT 'beginner',
    views       INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category, title);

CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
    title, summary, body, content='articles', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS articles_ai AFTER INSERT ON articles BEGIN
    INSERT INTO articles_fts(rowid, title, summary, body) VALUES (new.rowid, new.title, new.summary, new.body);
END;
CREATE TRIGGER IF NOT EXISTS articles_ad AFTER DELETE ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, summary, body) VALUES('delete', old.rowid, old.title, old.summary, old.body);
END;
CREATE TRIGGER IF NOT EXISTS articles_au AFTER UPDATE ON articles BEGIN
    INSERT INTO articles_fts(articles_fts, rowid, title, summary, body) VALUES('delete', old.rowid, old.title, old.summary, old.body);
    INSERT INTO articles_fts(rowid, title, summary, body) VALUES (new.rowid, new.title, new.summary, new.body);
END;
`

// Article is one encyclopedia entry. Body is markdown; tutorial-style
// articles use the tutorial emoji markers.
type Article struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Summary    string `json:"summary"`
	Body       string `json:"body,omitempty"`
	Difficulty string `json:"difficulty"`
	Views      int64  `json:"views"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Category is a category name with its article count.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SearchHit is one full-text match. Snippet marks matched terms with
// [brackets].
type SearchHit struct {
	Slug     string  `json:"slug"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Summary  string  `json:"summary"`
	Snippet  string  `json:"snippet"`
	Rank     float64 `json:"rank"`
}

// Store is the article store.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// NewStore wraps db, which must have Schema applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("art_", idgen.Default), now: time.Now}
}

// Upsert creates the article or, when its slug exists, replaces the
// editable fields. a.ID and a.CreatedAt are filled from the stored row.
func (s *Store) Upsert(ctx context.Context, a *Article) error {
	a.Slug = strings.TrimSpace(a.Slug)
	a.Title = strings.TrimSpace(a.Title)
	a.Category = strings.TrimSpace(a.Category)
	if a.Slug == "" || a.Title == "" || a.Category == "" {
		return ErrInvalidArticle
	}
	switch a.Difficulty {
	case "":
		a.Difficulty = Beginner
	case Beginner, Intermediate, Advanced:
	default:
		return ErrInvalidDifficulty
	}
	now := s.now().UnixMilli()
	a.UpdatedAt = now

	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO articles (id, slug, title, category, summary, body, difficulty, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title, category = excluded.category, summary = excluded.summary,
			body = excluded.body, difficulty = excluded.difficulty, updated_at = excluded.updated_at
		RETURNING id, views, created_at`,
		s.newID(), a.Slug, a.Title, a.Category, a.Summary, a.Body, a.Difficulty, now, now,
	).Scan(&a.ID, &a.Views, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("encyclopedia: upsert: %w", err)
	}
	return nil
}

const articleColumns = `id, slug, title, category, summary, body, difficulty, views, created_at, updated_at`

// Get returns an article by slug without counting a view.
func (s *Store) Get(ctx context.Context, slug string) (*Article, error) {
	a, err := scanArticle(s.DB.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Read returns an article by slug and counts the view.
func (s *Store) Read(ctx context.Context, slug string) (*Article, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE articles SET views = views + 1 WHERE slug = ?`, slug)
	if err != nil {
		return nil, fmt.Errorf("encyclopedia: count view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, slug)
}

// List returns articles without bodies, ordered by title. An empty
// category lists everything.
func (s *Store) List(ctx context.Context, category string, limit, offset int) ([]*Article, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles
		WHERE ? = '' OR category = ?
		ORDER BY category, title LIMIT ? OFFSET ?`, category, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("encyclopedia: list: %w", err)
	}
	defer rows.Close()

	out := []*Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		a.Body = ""
		out = append(out, a)
	}
	return out, rows.Err()
}

// Categories returns every category with its article count.
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM articles GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("encyclopedia: categories: %w", err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Search runs a full-text query, best matches first. Every whitespace
// separated word must match; FTS5 operators in the input are treated as
// plain text.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT a.slug, a.title, a.category, a.summary,
			snippet(articles_fts, 2, '[', ']', '…', 12), bm25(articles_fts, 10.0, 5.0, 1.0)
		FROM articles_fts f
		JOIN articles a ON a.rowid = f.rowid
		WHERE articles_fts MATCH ?
		ORDER BY 6
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("encyclopedia: search: %w", err)
	}
	defer rows.Close()

	out := []*SearchHit{}
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.Slug, &h.Title, &h.Category, &h.Summary, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("encyclopedia: scan hit: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Delete removes an article by slug.
func (s *Store) Delete(ctx context.Context, slug string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM articles WHERE slug = ?`, slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Tutorial parses the article body as a structured tutorial.
func (s *Store) Tutorial(ctx context.Context, slug string) (content.TutorialResult, error) {
	a, err := s.Get(ctx, slug)
	if err != nil {
		return content.TutorialResult{}, err
	}
	return content.ParseTutorial(a.Body), nil
}

// ftsQuery quotes each word so user input cannot form FTS5 syntax.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(sc scanner) (*Article, error) {
	var a Article
	err := sc.Scan(&a.ID, &a.Slug, &a.Title, &a.Category, &a.Summary, &a.Body,
		&a.Difficulty, &a.Views, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
