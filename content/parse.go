package content

import (
	"regexp"
	"strings"
)

var patterns = struct {
	// leadingEmoji captures an emoji cluster (symbol, skin tones, ZWJ
	// joins, variation selectors) at the start of a line and the rest.
	leadingEmoji *regexp.Regexp
	boldTitle    *regexp.Regexp
	bold         *regexp.Regexp
	heading      *regexp.Regexp
	opinion      *regexp.Regexp
}{
	leadingEmoji: regexp.MustCompile(`^(\p{So}(?:[\x{FE0F}\x{200D}\x{20E3}\x{1F3FB}-\x{1F3FF}]|\p{So})*)\s*(.*)$`),
	boldTitle:    regexp.MustCompile(`^\*\*(.+?)\*\*\s*[:：\-–—]?\s*(.*)$`),
	bold:         regexp.MustCompile(`\*\*(.+?)\*\*`),
	heading:      regexp.MustCompile(`^#{2,6}\s+(.*)$`),
	opinion: regexp.MustCompile(`(?i)^(?:ჩემი\s+აზრით|ჩემი\s+აზრი|ჩემი\s+ხედვით|მე\s+ვფიქრობ|ვფიქრობ|მგონია|პირადად|` +
		`in\s+my\s+opinion|i\s+think|i\s+believe|personally|imho)(?:[\s,:.!—-]|$)`),
}

// Parse splits text into ordered sections. Blank lines become paragraph
// breaks inside the current section; hashtag lines, markdown headings,
// emoji-led lines and opinion phrases each start a new section. Prose with
// no open section starts an intro.
//
// A heading with no body of its own titles the next section, or is kept as
// a section of its own when that one already has a title. Every returned
// section has non-empty trimmed content and no **bold** markers. Empty
// input yields an empty, non-nil slice.
func Parse(text string) []Section {
	sections := make([]Section, 0, 8)
	if strings.TrimSpace(text) == "" {
		return sections
	}

	var cur *Section
	var orphan string // title of a heading that got no body
	keepOrphan := func() {
		if orphan != "" {
			sections = append(sections, Section{Content: orphan, Type: TypeSection})
			orphan = ""
		}
	}
	flush := func() {
		if cur == nil {
			return
		}
		if cur.Type == TypeSection && cur.Icon == "" && cur.Title != "" && strings.TrimSpace(cur.Content) == "" {
			keepOrphan()
			orphan = cur.Title
		} else {
			sections = append(sections, *cur)
		}
		cur = nil
	}
	open := func(s *Section) {
		if orphan != "" && s.Title == "" {
			s.Title, orphan = orphan, ""
		}
		keepOrphan()
		cur = s
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case line == "":
			if cur != nil && !strings.HasSuffix(cur.Content, "\n") {
				cur.Content += "\n"
			}

		case isHashtagLine(line):
			flush()
			keepOrphan()
			sections = append(sections, Section{Icon: "Hash", Content: line, Type: TypeHashtags})

		case patterns.heading.MatchString(line):
			flush()
			m := patterns.heading.FindStringSubmatch(line)
			open(&Section{Title: m[1], Type: TypeSection})

		case patterns.leadingEmoji.MatchString(line):
			flush()
			m := patterns.leadingEmoji.FindStringSubmatch(line)
			typ, icon := Classify(m[1])
			s := &Section{Icon: icon, Type: typ}
			if t := patterns.boldTitle.FindStringSubmatch(m[2]); t != nil {
				s.Title = t[1]
				s.Content = t[2]
			} else {
				s.Content = m[2]
			}
			open(s)

		case patterns.opinion.MatchString(line):
			flush()
			open(&Section{Icon: "MessageSquareQuote", Content: line, Type: TypeOpinion})

		case cur == nil:
			open(&Section{Content: line, Type: TypeIntro})

		default:
			if cur.Content == "" {
				cur.Content = line
			} else {
				cur.Content += "\n" + line
			}
		}
	}
	flush()
	keepOrphan()

	return finalize(sections)
}

// isHashtagLine reports whether line is a run of hashtags ("#ai #tech")
// rather than a markdown heading.
func isHashtagLine(line string) bool {
	if !strings.HasPrefix(line, "#") || strings.HasPrefix(line, "##") {
		return false
	}
	return strings.Contains(line[1:], "#")
}

// finalize strips bold markers, trims, and drops sections whose content is
// empty.
func finalize(in []Section) []Section {
	out := in[:0]
	for _, s := range in {
		s.Title = strings.TrimSpace(CleanTitle(s.Title))
		s.Title = strings.TrimRight(s.Title, ":：")
		s.Content = strings.TrimSpace(CleanTitle(s.Content))
		if s.Content == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CleanTitle removes **bold** markers and keeps the text between them. A
// string without markers is returned unchanged.
func CleanTitle(s string) string {
	if !strings.Contains(s, "**") {
		return s
	}
	return patterns.bold.ReplaceAllString(s, "$1")
}
