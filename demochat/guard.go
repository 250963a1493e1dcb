package demochat

import (
	"regexp"
	"strings"
)

// Refusal is returned instead of a model answer when a message looks like
// a prompt-injection attempt.
const Refusal = "ბოდიში, ამ მოთხოვნას ვერ შევასრულებ. მოხარული ვიქნები, დაგეხმარო ჩემი ძირითადი თემის ფარგლებში."

// RedactionMarker replaces leaked prompt vocabulary in model answers.
const RedactionMarker = "[დაფარულია]"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override|bypass)\b.{0,30}\b(previous|prior|above|earlier|all|your)\b.{0,20}\b(instructions?|prompts?|rules|directives|guidelines)\b`),
	regexp.MustCompile(`(?i)\b(reveal|show|print|display|repeat|output|leak|dump|tell\s+me|give\s+me|what\s+(is|are|were))\b.{0,20}\byour\b.{0,20}\b(prompt|instructions|initial\s+message|rules)\b`),
	regexp.MustCompile(`(?i)\b(system|master|initial|hidden|original)\s+prompt\b`),
	regexp.MustCompile(`(?i)\bdeveloper\s+mode\b`),
	regexp.MustCompile(`(?i)\bjail\s*break`),
	regexp.MustCompile(`\bDAN\b`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\b(act|pretend|behave|respond)\s+as\s+(if\s+you\s+(are|were)\s+)?(an?\s+|the\s+)?(system|admin(istrator)?|developer|root|unfiltered|unrestricted)\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(an?\s+)?(unfiltered|unrestricted|uncensored|free)\b`),
	regexp.MustCompile(`(?i)<\|?\s*(system|im_start|im_end)\s*\|?>`),
	regexp.MustCompile(`(დაივიწყე|უგულებელყავი|არ\s+მიაქციო\s+ყურადღება).{0,40}(ინსტრუქცი|მითითებ|წესებ|პრომპტ)`),
	regexp.MustCompile(`(მაჩვენე|გამიმხილე|მითხარი|დაწერე|გამოიტანე|გაიმეორე).{0,30}შენი.{0,20}(პრომპტ|ინსტრუქცი|მითითებ)`),
	regexp.MustCompile(`სისტემური\s+პრომპტ`),
	regexp.MustCompile(`დეველოპერის\s+რეჟიმ`),
}

// roleSpoof catches a line posing as a system or assistant turn. It runs on
// the raw message because whitespace folding erases line starts.
var roleSpoof = regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`)

var redactPattern = regexp.MustCompile(`(?i)system\s+prompt|master\s+prompt|instructions|სისტემური\s+პრომპტი?`)

// invisible holds zero-width characters stripped before matching so they
// cannot split a trigger phrase.
var invisible = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "", "\u00ad", "")

// Guard screens chat messages and model answers. The zero value is not
// usable; call NewGuard.
type Guard struct {
	patterns []*regexp.Regexp
}

// NewGuard returns a guard with the built-in injection patterns plus extra.
func NewGuard(extra ...*regexp.Regexp) *Guard {
	p := make([]*regexp.Regexp, 0, len(injectionPatterns)+len(extra))
	p = append(p, injectionPatterns...)
	p = append(p, extra...)
	return &Guard{patterns: p}
}

// Injection reports whether message matches any injection pattern.
func (g *Guard) Injection(message string) bool {
	msg := strings.Join(strings.Fields(invisible.Replace(message)), " ")
	for _, re := range g.patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return roleSpoof.MatchString(message)
}

// Redact replaces prompt vocabulary in a model answer with RedactionMarker.
func (g *Guard) Redact(response string) string {
	return redactPattern.ReplaceAllString(response, RedactionMarker)
}
