package content

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tutorial is the structure extracted from a templated tutorial text:
//
//	🎓 Title
//	intro paragraphs
//	🛠 ხელსაწყოები:
//	• tool
//	📚 მოდული 1: module title
//	module body
//	#hashtag #hashtag
type Tutorial struct {
	Title    string   `json:"title"`
	Intro    string   `json:"intro,omitempty"`
	Tools    []string `json:"tools"`
	Modules  []Module `json:"modules"`
	Hashtags []string `json:"hashtags"`
}

// Module is one numbered block of a tutorial.
type Module struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// TutorialResult reports the outcome of ParseTutorial. Callers check
// Success; ParseTutorial itself never panics.
type TutorialResult struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Tutorial *Tutorial `json:"tutorial,omitempty"`
}

// ErrEmptyTutorial is reported when the input has no text at all.
var ErrEmptyTutorial = errors.New("content: empty tutorial text")

var tutorialPatterns = struct {
	title   *regexp.Regexp
	tools   *regexp.Regexp
	module  *regexp.Regexp
	footer  *regexp.Regexp
	hashtag *regexp.Regexp
	bullet  *regexp.Regexp
}{
	title:   regexp.MustCompile(`(?m)^[ \t]*🎓\x{FE0F}?[ \t]*(.+?)[ \t]*$`),
	tools:   regexp.MustCompile(`(?m)^[ \t]*🛠\x{FE0F}?[^\n]*$`),
	module:  regexp.MustCompile(`(?mi)^[ \t]*(?:📚\x{FE0F}?[ \t]*)?(?:\*\*)?(?:მოდული|module|ნაწილი|part)[ \t]*(\d+)[ \t]*[:.\-–—]?[ \t]*(.*?)[ \t]*$`),
	footer:  regexp.MustCompile(`(?m)^[ \t]*#[^\s#]+(?:[ \t]+#[^\s#]+)*[ \t]*$`),
	hashtag: regexp.MustCompile(`#[^\s#]+`),
	bullet:  regexp.MustCompile(`^(?:[•·▪►\-*–]|\d+[.)])\s*`),
}

// ParseTutorial extracts title, intro, tool list, numbered modules and
// footer hashtags. Failures are reported through the result, never as a
// panic.
func ParseTutorial(text string) (res TutorialResult) {
	defer func() {
		if r := recover(); r != nil {
			res = TutorialResult{Error: fmt.Sprintf("content: tutorial parse: %v", r)}
		}
	}()

	t, err := parseTutorial(text)
	if err != nil {
		return TutorialResult{Error: err.Error()}
	}
	return TutorialResult{Success: true, Tutorial: t}
}

// marker is a located structural line: [start,end) covers the line itself.
type marker struct {
	kind       string
	start, end int
	groups     []int
}

func parseTutorial(text string) (*Tutorial, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTutorial
	}

	t := &Tutorial{Tools: []string{}, Modules: []Module{}, Hashtags: []string{}}

	// Title: the 🎓 line, or the first non-empty line of the text.
	bodyStart := 0
	if loc := tutorialPatterns.title.FindStringSubmatchIndex(text); loc != nil {
		t.Title = text[loc[2]:loc[3]]
		bodyStart = loc[1]
	} else {
		for i, line := range strings.SplitAfter(text, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				t.Title = strings.TrimLeft(s, "# ")
				bodyStart = offsetOfLine(text, i) + len(line)
				break
			}
		}
	}
	t.Title = strings.TrimSpace(CleanTitle(t.Title))

	// Structural markers after the title, in document order.
	var markers []marker
	rest := text[bodyStart:]
	if loc := tutorialPatterns.tools.FindStringIndex(rest); loc != nil {
		markers = append(markers, marker{kind: "tools", start: bodyStart + loc[0], end: bodyStart + loc[1]})
	}
	for _, loc := range tutorialPatterns.module.FindAllStringSubmatchIndex(rest, -1) {
		g := make([]int, len(loc))
		for i, v := range loc {
			g[i] = v
			if v >= 0 {
				g[i] = bodyStart + v
			}
		}
		markers = append(markers, marker{kind: "module", start: g[0], end: g[1], groups: g})
	}
	footers := tutorialPatterns.footer.FindAllStringIndex(rest, -1)
	if n := len(footers); n > 0 {
		loc := footers[n-1]
		// Only a trailing hashtag line counts as footer.
		if strings.TrimSpace(rest[loc[1]:]) == "" {
			markers = append(markers, marker{kind: "footer", start: bodyStart + loc[0], end: bodyStart + loc[1]})
		}
	}
	sort.SliceStable(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	next := func(i int) int {
		if i+1 < len(markers) {
			return markers[i+1].start
		}
		return len(text)
	}

	introEnd := len(text)
	if len(markers) > 0 {
		introEnd = markers[0].start
	}
	t.Intro = strings.TrimSpace(CleanTitle(text[bodyStart:introEnd]))

	for i, m := range markers {
		switch m.kind {
		case "tools":
			for _, line := range strings.Split(text[m.end:next(i)], "\n") {
				line = strings.TrimSpace(tutorialPatterns.bullet.ReplaceAllString(strings.TrimSpace(line), ""))
				if line != "" {
					t.Tools = append(t.Tools, CleanTitle(line))
				}
			}
		case "module":
			num, err := strconv.Atoi(text[m.groups[2]:m.groups[3]])
			if err != nil {
				num = len(t.Modules) + 1
			}
			title := ""
			if m.groups[4] >= 0 {
				title = strings.TrimSpace(strings.TrimRight(CleanTitle(text[m.groups[4]:m.groups[5]]), "*"))
			}
			t.Modules = append(t.Modules, Module{
				Number:  num,
				Title:   title,
				Content: strings.TrimSpace(CleanTitle(text[m.end:next(i)])),
			})
		case "footer":
			t.Hashtags = append(t.Hashtags, tutorialPatterns.hashtag.FindAllString(text[m.start:m.end], -1)...)
		}
	}

	return t, nil
}

// offsetOfLine returns the byte offset of the i-th line produced by
// strings.SplitAfter(text, "\n").
func offsetOfLine(text string, i int) int {
	off := 0
	for n := 0; n < i; n++ {
		j := strings.IndexByte(text[off:], '\n')
		if j < 0 {
			return len(text)
		}
		off += j + 1
	}
	return off
}
