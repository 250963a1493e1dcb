package comments

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

type recordedEvents struct{ got []observability.Event }

func (r *recordedEvents) Record(_ context.Context, ev observability.Event) { r.got = append(r.got, ev) }

func newStore(t *testing.T) (*Store, *recordedEvents) {
	t.Helper()
	ev := &recordedEvents{}
	s, err := New(Config{DB: dbopen.OpenMemory(t), Events: ev})
	require.NoError(t, err)
	return s, ev
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB is required")
}

func TestSubmit_SanitisesAndQueues(t *testing.T) {
	s, ev := newStore(t)
	ctx := context.Background()

	c, err := s.Submit(ctx, Submission{
		TargetType: "post",
		TargetID:   "post_1",
		Text:       "  <script>alert(1)</script><b>კარგი</b> სტატიაა  ",
		IP:         "203.0.113.5",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, "კარგი სტატიაა", c.Text)
	assert.Equal(t, DefaultAuthor, c.AuthorName)

	require.Len(t, ev.got, 1)
	assert.Equal(t, observability.EventCommentSubmitted, ev.got[0].Type)
	assert.Equal(t, "post_1", ev.got[0].EntityID)

	// WHAT: pending comments are not public.
	list, err := s.ListApproved(ctx, "post", "post_1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmit_Truncates(t *testing.T) {
	s, _ := newStore(t)
	c, err := s.Submit(context.Background(), Submission{
		TargetType: "article",
		TargetID:   "a1",
		Text:       strings.Repeat("ა", MaxTextLen+500),
	})
	require.NoError(t, err)
	assert.Equal(t, MaxTextLen, utf8.RuneCountInString(c.Text))
	assert.True(t, utf8.ValidString(c.Text))
}

func TestSubmit_Rejects(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, Submission{TargetType: "post", TargetID: "p", Text: "  <i></i> "})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = s.Submit(ctx, Submission{TargetType: "user", TargetID: "p", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Submit(ctx, Submission{TargetType: "post", TargetID: " ", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Submit(ctx, Submission{TargetType: "post", TargetID: "p", Text: "hi", AuthorEmail: "not-an-email"})
	assert.Error(t, err)
}

func TestSubmit_LinkSpam(t *testing.T) {
	s, _ := newStore(t)
	text := "იყიდე https://a.example http://b.example www.c.example https://d.example"
	c, err := s.Submit(context.Background(), Submission{TargetType: "post", TargetID: "p", Text: text})
	require.NoError(t, err)
	assert.Equal(t, StatusSpam, c.Status)

	// WHY: three links is still a normal comment.
	assert.False(t, IsSpam("https://a.example https://b.example https://c.example"))
}

func TestModerationFlow(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a, err := s.Submit(ctx, Submission{TargetType: "prompt", TargetID: "pr1", AuthorName: "ნინო", AuthorEmail: "Nino@Example.ge", Text: "პირველი"})
	require.NoError(t, err)
	assert.Equal(t, "nino@example.ge", a.AuthorEmail)
	b, err := s.Submit(ctx, Submission{TargetType: "prompt", TargetID: "pr1", Text: "მეორე"})
	require.NoError(t, err)

	queue, err := s.Queue(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, queue, 2)

	require.NoError(t, s.Moderate(ctx, a.ID, StatusApproved))
	require.NoError(t, s.Moderate(ctx, b.ID, StatusRejected))
	assert.ErrorIs(t, s.Moderate(ctx, "missing", StatusApproved), ErrNotFound)
	assert.ErrorIs(t, s.Moderate(ctx, a.ID, "bogus"), ErrInvalidStatus)

	list, err := s.ListApproved(ctx, "prompt", "pr1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "პირველი", list[0].Text)
	assert.Empty(t, list[0].AuthorEmail, "public listing must not expose e-mail")

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ModeratedAt)

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrNotFound)
}

func newRouter(s *Store) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/comments", s.Routes)
	r.Route("/admin/comments", s.AdminRoutes)
	return r
}

func TestHandlers_SubmitApproveList(t *testing.T) {
	s, _ := newStore(t)
	h := newRouter(s)

	body := `{"target_type":"post","target_id":"p9","author_name":"გიორგი","text":"მადლობა"}`
	req := httptest.NewRequest(http.MethodPost, "/api/comments/", strings.NewReader(body))
	req.RemoteAddr = "198.51.100.7:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, StatusPending, created["status"])

	stored, err := s.Get(context.Background(), created["id"])
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", stored.IP)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/comments/"+created["id"]+"/approve", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/comments/post/p9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Comment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "გიორგი", list[0].AuthorName)
}

func TestHandlers_Errors(t *testing.T) {
	s, _ := newStore(t)
	h := newRouter(s)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		code   string
	}{
		{"bad json", http.MethodPost, "/api/comments/", "{", http.StatusBadRequest, "invalid_request"},
		{"empty text", http.MethodPost, "/api/comments/", `{"target_type":"post","target_id":"p","text":""}`, http.StatusBadRequest, "text_required"},
		{"bad target", http.MethodPost, "/api/comments/", `{"target_type":"x","target_id":"p","text":"a"}`, http.StatusBadRequest, "invalid_target"},
		{"bad email", http.MethodPost, "/api/comments/", `{"target_type":"post","target_id":"p","text":"a","author_email":"nope"}`, http.StatusBadRequest, "invalid_email"},
		{"approve missing", http.MethodPost, "/admin/comments/nope/approve", "", http.StatusNotFound, "not_found"},
		{"bad queue status", http.MethodGet, "/admin/comments/?status=weird", "", http.StatusBadRequest, "invalid_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			var body struct{ Code string }
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
