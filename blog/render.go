package blog

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/gvirila/portal/content"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// View is a post as served to readers: the stored fields plus the body
// split into display sections and rendered to sanitised HTML.
type View struct {
	*Post
	Sections []content.Section `json:"sections"`
	HTML     string            `json:"html"`
}

// Renderer turns markdown bodies into safe HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer returns a GFM renderer whose output passes the bluemonday
// UGC policy.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// HTML renders markdown to sanitised HTML.
func (r *Renderer) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return r.policy.Sanitize(buf.String()), nil
}

// View builds the reader view of p.
func (r *Renderer) View(p *Post) (*View, error) {
	h, err := r.HTML(p.Body)
	if err != nil {
		return nil, err
	}
	return &View{Post: p, Sections: content.Parse(p.Body), HTML: h}, nil
}

// Excerpt returns the first maxRunes characters of the body's first
// section, cut at a word boundary.
func Excerpt(body string, maxRunes int) string {
	sections := content.Parse(body)
	if len(sections) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(sections[0].Content), " ")
	r := []rune(text)
	if len(r) <= maxRunes {
		return text
	}
	cut := maxRunes
	for i := maxRunes; i > maxRunes/2; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(r[:cut])) + "…"
}

// Slugify builds a URL slug from a title. Letters of any script are kept
// (Georgian titles stay Georgian), Latin is lower-cased and every other run
// of characters becomes a single hyphen.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	n := 0
	for _, r := range strings.ToLower(title) {
		if n >= 80 {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			b.WriteRune(r)
			n++
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "post"
	}
	return b.String()
}
