// Package blog is the portal's post CMS: admin-authored or feed-imported
// posts, served to readers both as parsed display sections and as
// sanitised HTML.
package blog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gvirila/portal/idgen"
)

// Post states.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

var (
	ErrNotFound  = errors.New("blog: post not found")
	ErrSlugTaken = errors.New("blog: slug already in use")
)

// Schema is the posts table.
const Schema = `
CREATE TABLE IF NOT EXISTS posts (
    id           TEXT PRIMARY KEY,
    slug         TEXT NOT NULL UNIQUE,
    title        TEXT NOT NULL,
    body         TEXT NOT NULL DEFAULT '',
    excerpt      TEXT NOT NULL DEFAULT '',
    cover_url    TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'draft',
    views        INTEGER NOT NULL DEFAULT 0,
    source_url   TEXT,
    published_at INTEGER,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_published ON posts(status, published_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_source ON posts(source_url) WHERE source_url IS NOT NULL;
`

// Post is one blog post. Body is markdown, possibly carrying the emoji
// section markers understood by content.Parse.
type Post struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Body        string   `json:"body,omitempty"`
	Excerpt     string   `json:"excerpt"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
	Views       int64    `json:"views"`
	SourceURL   string   `json:"source_url,omitempty"`
	PublishedAt *int64   `json:"published_at,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Store is the post store.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// NewStore wraps db, which must have Schema applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("post_", idgen.Default), now: time.Now}
}

// Insert adds p. A missing slug is derived from the title; a taken one is
// suffixed ("-2", "-3", ...).
func (s *Store) Insert(ctx context.Context, p *Post) error {
	now := s.now().UnixMilli()
	if p.ID == "" {
		p.ID = s.newID()
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.Status == StatusPublished && p.PublishedAt == nil {
		p.PublishedAt = &now
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	base := p.Slug
	if base == "" {
		base = Slugify(p.Title)
	}
	slug, err := s.uniqueSlug(ctx, base, "")
	if err != nil {
		return err
	}
	p.Slug = slug

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO posts (id, slug, title, body, excerpt, cover_url, tags, status,
		views, source_url, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Title, p.Body, p.Excerpt, p.CoverURL, joinTags(p.Tags), p.Status,
		p.Views, nullString(p.SourceURL), p.PublishedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("blog: insert: %w", err)
	}
	return nil
}

// uniqueSlug returns base or the first free base-N. exceptID is ignored so
// an update may keep its own slug.
func (s *Store) uniqueSlug(ctx context.Context, base, exceptID string) (string, error) {
	slug := base
	for i := 2; ; i++ {
		var n int
		err := s.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM posts WHERE slug = ? AND id != ?`, slug, exceptID).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("blog: slug check: %w", err)
		}
		if n == 0 {
			return slug, nil
		}
		if i > 100 {
			return "", ErrSlugTaken
		}
		slug = base + "-" + strconv.Itoa(i)
	}
}

const postColumns = `id, slug, title, body, excerpt, cover_url, tags, status, views,
	source_url, published_at, created_at, updated_at`

// Get returns a post by id or slug, whatever its status.
func (s *Store) Get(ctx context.Context, idOrSlug string) (*Post, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ? OR slug = ? LIMIT 1`, idOrSlug, idOrSlug)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// View returns a published post by slug and counts the view.
func (s *Store) View(ctx context.Context, slug string) (*Post, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE posts SET views = views + 1 WHERE slug = ? AND status = 'published'`, slug)
	if err != nil {
		return nil, fmt.Errorf("blog: count view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, slug)
}

// ListOptions filters List.
type ListOptions struct {
	Status string // empty = any
	Tag    string
	Limit  int
	Offset int
}

// List returns posts without bodies, newest first, and the total count.
func (s *Store) List(ctx context.Context, opt ListOptions) ([]*Post, int, error) {
	if opt.Limit <= 0 || opt.Limit > 100 {
		opt.Limit = 20
	}
	if opt.Offset < 0 {
		opt.Offset = 0
	}
	where := `WHERE (? = '' OR status = ?) AND (? = '' OR (',' || tags || ',') LIKE '%,' || ? || ',%')`
	args := []any{opt.Status, opt.Status, opt.Tag, opt.Tag}

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("blog: count: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts `+where+`
		ORDER BY COALESCE(published_at, created_at) DESC LIMIT ? OFFSET ?`,
		append(args, opt.Limit, opt.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("blog: list: %w", err)
	}
	defer rows.Close()

	out := []*Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		p.Body = ""
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Update rewrites a post's editable fields. Publishing a draft stamps
// published_at once.
func (s *Store) Update(ctx context.Context, p *Post) error {
	cur, err := s.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.ID != cur.ID {
		return ErrNotFound
	}
	if p.Slug == "" {
		p.Slug = cur.Slug
	}
	if p.Slug, err = s.uniqueSlug(ctx, p.Slug, p.ID); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = cur.Status
	}
	p.PublishedAt = cur.PublishedAt
	now := s.now().UnixMilli()
	if p.Status == StatusPublished && p.PublishedAt == nil {
		p.PublishedAt = &now
	}
	p.UpdatedAt = now

	_, err = s.DB.ExecContext(ctx,
		`UPDATE posts SET slug=?, title=?, body=?, excerpt=?, cover_url=?, tags=?,
		status=?, published_at=?, updated_at=? WHERE id=?`,
		p.Slug, p.Title, p.Body, p.Excerpt, p.CoverURL, joinTags(p.Tags),
		p.Status, p.PublishedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("blog: update: %w", err)
	}
	return nil
}

// Publish makes a post public.
func (s *Store) Publish(ctx context.Context, id string) error {
	now := s.now().UnixMilli()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE posts SET status = 'published', published_at = COALESCE(published_at, ?), updated_at = ?
		WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("blog: publish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a post.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasSource reports whether a post was already imported from url.
func (s *Store) HasSource(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM posts WHERE source_url = ?)`, url).Scan(&exists)
	return exists, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(sc scanner) (*Post, error) {
	var p Post
	var tags string
	var source sql.NullString
	var published sql.NullInt64
	err := sc.Scan(&p.ID, &p.Slug, &p.Title, &p.Body, &p.Excerpt, &p.CoverURL, &tags, &p.Status,
		&p.Views, &source, &published, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Tags = splitTags(tags)
	p.SourceURL = source.String
	if published.Valid {
		p.PublishedAt = &published.Int64
	}
	return &p, nil
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#")))
		t = strings.ReplaceAll(t, ",", " ")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		clean = append(clean, t)
	}
	return strings.Join(clean, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
