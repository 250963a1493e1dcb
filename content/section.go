// Package content turns AI-generated post copy into ordered, typed display
// sections, and extracts the structure of templated tutorial texts.
//
// Both parsers are pure functions over a string: they never fail, and
// malformed input degrades into generic sections (Parse) or a result with
// Success=false (ParseTutorial).
package content

import "strings"

// SectionType classifies a parsed section for rendering.
type SectionType string

const (
	TypeIntro         SectionType = "intro"
	TypeSection       SectionType = "section"
	TypeSarcasm       SectionType = "sarcasm"
	TypeWarning       SectionType = "warning"
	TypeTip           SectionType = "tip"
	TypeFact          SectionType = "fact"
	TypeOpinion       SectionType = "opinion"
	TypeCTA           SectionType = "cta"
	TypeHashtags      SectionType = "hashtags"
	TypeAuthorComment SectionType = "author-comment"
)

// Section is a contiguous, typed chunk of display text. Icon is a lucide
// icon name understood by the front-end.
type Section struct {
	Icon    string      `json:"icon,omitempty"`
	Title   string      `json:"title,omitempty"`
	Content string      `json:"content"`
	Type    SectionType `json:"type"`
}

// DefaultIcon is used for emoji that have no entry in the icon table.
const DefaultIcon = "Sparkles"

type emojiKind struct {
	typ  SectionType
	icon string
}

// emojiTable maps a leading emoji (variation selectors removed) to its
// section type and icon. Emoji not listed here open a plain section with
// DefaultIcon.
var emojiTable = map[string]emojiKind{
	"🔴": {TypeWarning, "AlertTriangle"},
	"\u26A0": {TypeWarning, "AlertTriangle"},
	"🚨": {TypeWarning, "Siren"},
	"\u2757": {TypeWarning, "AlertCircle"},
	"💡": {TypeTip, "Lightbulb"},
	"\u2705": {TypeTip, "CheckCircle"},
	"🔑": {TypeTip, "Key"},
	"📊": {TypeFact, "BarChart"},
	"📈": {TypeFact, "TrendingUp"},
	"🧠": {TypeFact, "Brain"},
	"🔍": {TypeFact, "Search"},
	"😏": {TypeSarcasm, "Smile"},
	"🙃": {TypeSarcasm, "Smile"},
	"🤡": {TypeSarcasm, "Laugh"},
	"👉": {TypeCTA, "ArrowRight"},
	"🚀": {TypeCTA, "Rocket"},
	"📢": {TypeCTA, "Megaphone"},
	"💬": {TypeAuthorComment, "MessageCircle"},
	"\u270D": {TypeAuthorComment, "PenLine"},
	"📌": {TypeSection, "Pin"},
	"🔥": {TypeSection, "Flame"},
	"🎯": {TypeSection, "Target"},
	"\u2753": {TypeSection, "HelpCircle"},
}

// Classify returns the section type and icon for a leading emoji cluster.
// A cluster with no entry of its own is looked up by its first symbol
// ("🔴🔴" reads as "🔴"); unknown emoji fall back to TypeSection and
// DefaultIcon.
func Classify(emoji string) (SectionType, string) {
	key := normalizeEmoji(emoji)
	if k, ok := emojiTable[key]; ok {
		return k.typ, k.icon
	}
	for _, r := range key {
		if k, ok := emojiTable[string(r)]; ok {
			return k.typ, k.icon
		}
		break
	}
	return TypeSection, DefaultIcon
}

// normalizeEmoji drops U+FE0F variation selectors so the text and emoji
// presentations of a symbol share a table entry.
func normalizeEmoji(s string) string {
	return strings.ReplaceAll(s, "\uFE0F", "")
}
