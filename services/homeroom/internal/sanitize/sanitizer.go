package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"homeroom/services/homeroom/internal/domain"
)

const (
	ChatMaxLines   = 2
	ChatMaxRunes   = 120
	DigestMaxRunes = 80
	Ellipsis       = "…"
)

// metaLine matches the side-channel suggestion marker the model sometimes
// echoes back, with or without a leading bracket or quote.
var metaLine = regexp.MustCompile(`(?i)^[\s\p{Zs}\[【<(（「『"“]*suggest`)

var wrappers = [][2]string{
	{`"`, `"`},
	{"“", "”"},
	{"「", "」"},
	{"『", "』"},
}

// Sanitize shapes raw model output for the given task.
func Sanitize(raw string, task domain.TaskKind) string {
	switch task {
	case domain.TaskExplain:
		return strings.Join(Steps(raw), "\n")
	case domain.TaskDigest:
		return short(raw, 1, DigestMaxRunes)
	default:
		return short(raw, ChatMaxLines, ChatMaxRunes)
	}
}

// StripWrapper removes one layer of matching quotes or brackets around the
// trimmed text. The inner content is returned as is.
func StripWrapper(s string) string {
	t := strings.TrimSpace(s)
	for _, w := range wrappers {
		if len(t) >= len(w[0])+len(w[1]) && strings.HasPrefix(t, w[0]) && strings.HasSuffix(t, w[1]) {
			return t[len(w[0]) : len(t)-len(w[1])]
		}
	}
	return s
}

// Clean drops meta-token lines and collapses runs of three or more blank
// lines into a single blank line.
func Clean(raw string) string {
	return strings.Join(cleanLines(raw), "\n")
}

func cleanLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	out := make([]string, 0, 8)
	blanks := 0
	for _, line := range strings.Split(raw, "\n") {
		if metaLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			blanks++
			continue
		}
		if len(out) > 0 {
			if blanks >= 3 {
				blanks = 1
			}
			for ; blanks > 0; blanks-- {
				out = append(out, "")
			}
		}
		blanks = 0
		out = append(out, line)
	}
	return out
}

func nonEmpty(lines []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, l := range lines {
		if l = strings.TrimSpace(l); l == "" {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

func short(raw string, maxLines, maxRunes int) string {
	picked := nonEmpty(cleanLines(raw), maxLines)
	text := StripWrapper(strings.Join(picked, "\n"))
	text = strings.Join(nonEmpty(strings.Split(text, "\n"), maxLines), "\n")
	return Truncate(text, maxRunes)
}

// Truncate cuts s to at most max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " \t\n　") + Ellipsis
}
