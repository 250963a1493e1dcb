package blog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/gvirila/portal/dbopen"
	"github.com/gvirila/portal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello, World!", "hello-world"},
		{"  ქართული ბლოგი 2024  ", "ქართული-ბლოგი-2024"},
		{"AI & მომავალი", "ai-მომავალი"},
		{"!!!", "post"},
		{"", "post"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}
	long := Slugify(strings.Repeat("ა", 200))
	assert.Equal(t, 80, utf8.RuneCountInString(long))
}

func TestInsert_UniqueSlug(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := &Post{Title: "ხელოვნური ინტელექტი"}
	b := &Post{Title: "ხელოვნური ინტელექტი"}
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))

	assert.Equal(t, "ხელოვნური-ინტელექტი", a.Slug)
	assert.Equal(t, "ხელოვნური-ინტელექტი-2", b.Slug)
	assert.True(t, strings.HasPrefix(a.ID, "post_"))
	assert.Equal(t, StatusDraft, a.Status)
	assert.Nil(t, a.PublishedAt)
}

func TestView_CountsPublishedOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	draft := &Post{Title: "Draft", Body: "text"}
	require.NoError(t, s.Insert(ctx, draft))
	_, err := s.View(ctx, draft.Slug)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Publish(ctx, draft.ID))
	p, err := s.View(ctx, draft.Slug)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Views)
	require.NotNil(t, p.PublishedAt)

	p, err = s.View(ctx, draft.Slug)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Views)
}

func TestUpdate_KeepsPublishedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	p := &Post{Title: "One", Status: StatusPublished}
	require.NoError(t, s.Insert(ctx, p))
	require.NotNil(t, p.PublishedAt)
	first := *p.PublishedAt

	upd := &Post{ID: p.ID, Title: "One, edited", Body: "new"}
	require.NoError(t, s.Update(ctx, upd))
	assert.Equal(t, p.Slug, upd.Slug)
	assert.Equal(t, StatusPublished, upd.Status)
	require.NotNil(t, upd.PublishedAt)
	assert.Equal(t, first, *upd.PublishedAt)

	assert.ErrorIs(t, s.Update(ctx, &Post{ID: "post_missing", Title: "x"}), ErrNotFound)
}

func TestList_FiltersAndCounts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &Post{Title: "A", Body: "a", Status: StatusPublished, Tags: []string{"#Go", "news", "go"}}))
	require.NoError(t, s.Insert(ctx, &Post{Title: "B", Body: "b", Status: StatusPublished, Tags: []string{"news"}}))
	require.NoError(t, s.Insert(ctx, &Post{Title: "C", Body: "c"}))

	posts, total, err := s.List(ctx, ListOptions{Status: StatusPublished})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, posts, 2)
	for _, p := range posts {
		assert.Empty(t, p.Body, "list omits bodies")
	}

	posts, total, err = s.List(ctx, ListOptions{Tag: "go"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, posts, 1)
	assert.Equal(t, []string{"go", "news"}, posts[0].Tags)

	_, total, err = s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestRenderer_SanitisesAndSections(t *testing.T) {
	r := NewRenderer()
	h, err := r.HTML("**bold** text\n\n<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, h, "<strong>bold</strong>")
	assert.NotContains(t, h, "<script")

	v, err := r.View(&Post{Title: "t", Body: "შესავალი ტექსტი"})
	require.NoError(t, err)
	assert.NotEmpty(t, v.Sections)
	assert.Contains(t, v.HTML, "შესავალი ტექსტი")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "", Excerpt("", 10))
	assert.Equal(t, "short body", Excerpt("short   body", 50))

	got := Excerpt("ერთი ორი სამი ოთხი ხუთი ექვსი", 12)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 13)
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Test</title>
  <link>https://example.com</link>
  <description>test feed</description>
  <item>
    <title>First</title>
    <link>https://example.com/first</link>
    <description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description>
    <category>Go</category>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://example.com/second</link>
    <description>Plain text</description>
  </item>
  <item>
    <title>No link</title>
    <description>dropped</description>
  </item>
</channel>
</rss>`

type countingMetrics struct{ stored float64 }

func (m *countingMetrics) Observe(name string, value float64, _ string, _ map[string]string) {
	if name == observability.MetricFeedItemsStored {
		m.stored += value
	}
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newImporter(s *Store, m observability.Metrics) *Importer {
	im := NewImporter(s, nil, m)
	// httptest listens on loopback, which the SSRF check refuses.
	im.validate = func(string) error { return nil }
	return im
}

func TestImport_StoresDraftsAndDedupes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	srv := newFeedServer(t)
	m := &countingMetrics{}
	im := newImporter(s, m)

	res, err := im.Import(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 1, res.Skipped)

	p, err := s.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, "https://example.com/first", p.SourceURL)
	assert.Contains(t, p.Body, "**world**")
	assert.Equal(t, "Hello world", p.Excerpt)
	assert.Equal(t, []string{"go"}, p.Tags)

	// WHAT: a second run stores nothing new.
	res, err = im.Import(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stored)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, float64(2), m.stored)
}

func TestImport_RejectsUnsafeURL(t *testing.T) {
	im := NewImporter(newStore(t), nil, nil)
	_, err := im.Import(context.Background(), "http://127.0.0.1/feed")
	assert.Error(t, err)
}

func TestImportAll_KeepsGoingOnFailure(t *testing.T) {
	s := newStore(t)
	srv := newFeedServer(t)
	im := newImporter(s, nil)

	results := im.ImportAll(context.Background(), []string{srv.URL + "/rss", "::bad"})
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Stored)
	assert.Equal(t, 1, results[1].Failed)
}

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/posts", h.Routes)
	r.Route("/api/admin/posts", h.AdminRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreatePublishRead(t *testing.T) {
	s := newStore(t)
	r := newRouter(NewHandler(s, nil))

	rec := do(t, r, http.MethodPost, "/api/admin/posts", `{"title":"ახალი პოსტი","body":"პირველი აბზაცი\n\n**მეორე**","tags":["AI"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ახალი-პოსტი", created.Slug)
	assert.NotEmpty(t, created.Excerpt)

	// WHAT: drafts are invisible to readers.
	rec = do(t, r, http.MethodGet, "/api/posts/"+created.Slug, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, http.MethodGet, "/api/posts", "")
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Total)

	rec = do(t, r, http.MethodPost, "/api/admin/posts/"+created.ID+"/publish", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/posts/"+created.Slug, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v struct {
		Slug     string `json:"slug"`
		Views    int64  `json:"views"`
		HTML     string `json:"html"`
		Sections []any  `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, created.Slug, v.Slug)
	assert.Equal(t, int64(1), v.Views)
	assert.Contains(t, v.HTML, "<strong>მეორე</strong>")
	assert.NotEmpty(t, v.Sections)

	rec = do(t, r, http.MethodGet, "/api/posts?tag=ai", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
}

func TestHandlers_Errors(t *testing.T) {
	s := newStore(t)
	r := newRouter(NewHandler(s, nil))

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"missing title", http.MethodPost, "/api/admin/posts", `{"body":"x"}`, http.StatusBadRequest},
		{"bad status", http.MethodPost, "/api/admin/posts", `{"title":"x","status":"live"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/admin/posts", `{`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/admin/posts/post_x", `{"title":"x"}`, http.StatusNotFound},
		{"publish missing", http.MethodPost, "/api/admin/posts/post_x/publish", "", http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/admin/posts/post_x", "", http.StatusNotFound},
		{"import disabled", http.MethodPost, "/api/admin/posts/import", `{"url":"https://example.com/rss"}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, r, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlers_Import(t *testing.T) {
	s := newStore(t)
	srv := newFeedServer(t)
	r := newRouter(NewHandler(s, newImporter(s, nil)))

	rec := do(t, r, http.MethodPost, "/api/admin/posts/import", `{"url":"`+srv.URL+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Stored)

	rec = do(t, r, http.MethodGet, "/api/admin/posts?status=draft", "")
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
}
