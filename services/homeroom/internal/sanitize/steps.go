package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSteps is the ceiling on parsed explanation steps. Anything past it is
// folded into the last step.
const MaxSteps = 7

var (
	bulletPrefix = regexp.MustCompile(`^[-*・•●▶]\s*`)
	fillerPrefix = regexp.MustCompile(`^(?:ステップ|手順|(?i:step))\s*(?:[0-9０-９]{1,2}\s*[.)．）:：、\-－]?|[.)．）:：、\-－])\s*`)
	numberPrefix = regexp.MustCompile(`^(?:[(（][0-9０-９]{1,2}[)）]|[①-⑳]|[0-9０-９]{1,2}\s*[.)．）:：、])\s*`)
)

// Steps parses a numbered explanation into clean step strings.
func Steps(raw string) []string {
	steps := make([]string, 0, MaxSteps)
	for _, line := range cleanLines(StripWrapper(raw)) {
		if s := stripOrdinal(line); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		if r := strings.TrimSpace(Clean(StripWrapper(raw))); r != "" {
			return []string{r}
		}
		return steps
	}
	if len(steps) > MaxSteps {
		rest := strings.Join(steps[MaxSteps-1:], " / ")
		steps = append(steps[:MaxSteps-1:MaxSteps-1], rest)
	}
	return steps
}

func stripOrdinal(line string) string {
	s := strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
	s = bulletPrefix.ReplaceAllString(s, "")
	for i := 0; i < 3; i++ {
		before := s
		if loc := fillerPrefix.FindStringIndex(s); loc != nil {
			s = s[loc[1]:]
		}
		if loc := numberPrefix.FindStringIndex(s); loc != nil && !gluedToNumber(s, loc[1]) {
			s = s[loc[1]:]
		}
		s = strings.TrimSpace(s)
		if s == before {
			break
		}
	}
	return s
}

// gluedToNumber reports whether the prefix ending at end runs straight into
// another digit, as in "3.14" or "10:30", and so is not an ordinal.
func gluedToNumber(s string, end int) bool {
	if end >= len(s) {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s[:end])
	if unicode.IsSpace(last) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[end:])
	return unicode.IsDigit(next)
}
