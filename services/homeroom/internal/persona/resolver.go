package persona

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Via records which input decided a resolution.
type Via string

const (
	ViaTag     Via = "tag"
	ViaField   Via = "field"
	ViaDefault Via = "default"
)

type Resolution struct {
	Key  string
	Text string // free text with any persona tag removed
	Via  Via
}

// tagPattern matches a leading [persona:xxx] or [teacher:xxx] marker,
// half or full width.
var tagPattern = regexp.MustCompile(`^\s*[\[［【]\s*(?i:persona|teacher)\s*[:：=＝]\s*([^\]］】]*?)\s*[\]］】]\s*`)

var honorifics = []string{"先生", "せんせい", "センセイ", "sensei", "さん", "ちゃん", "くん"}

// Normalize folds width, trims, lower-cases and removes whitespace and a
// trailing honorific.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	for _, h := range honorifics {
		if len(s) > len(h) && strings.HasSuffix(s, h) {
			s = strings.TrimRight(strings.TrimSuffix(s, h), "-_")
			break
		}
	}
	return s
}

func (r *Registry) lookup(raw string) (string, bool) {
	n := Normalize(raw)
	if n == "" {
		return "", false
	}
	key, ok := r.aliases[n]
	return key, ok
}

// Resolve maps a client identifier and optional free text onto a registered
// persona key. A resolvable tag at the start of freeText wins over rawKey.
// The tag is stripped from the returned text whether or not it resolved.
// Resolve never fails.
func (r *Registry) Resolve(rawKey, freeText string) Resolution {
	res := Resolution{Text: freeText}

	if tagValue, rest, ok := splitTag(freeText); ok {
		res.Text = rest
		if key, ok := r.lookup(tagValue); ok {
			res.Key, res.Via = key, ViaTag
			return res
		}
	}
	if key, ok := r.lookup(rawKey); ok {
		res.Key, res.Via = key, ViaField
		return res
	}
	res.Key, res.Via = r.defaultKey, ViaDefault
	return res
}

// ResolveKey is Resolve without free text.
func (r *Registry) ResolveKey(rawKey string) string {
	return r.Resolve(rawKey, "").Key
}

func splitTag(text string) (value, rest string, ok bool) {
	loc := tagPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", text, false
	}
	return text[loc[2]:loc[3]], strings.TrimSpace(text[loc[1]:]), true
}
