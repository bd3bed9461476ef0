package sanitize

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeroom/services/homeroom/internal/domain"
)

func TestStripWrapper_RemovesExactlyOneLayer(t *testing.T) {
	cases := []struct{ in, want string }{
		{`"hello"`, "hello"},
		{"“こんにちは”", "こんにちは"},
		{"「うん、分かった。」", "うん、分かった。"},
		{"『まず5分』", "まず5分"},
		{"「『二重』」", "『二重』"},
		{`"  inner  spaces "`, "  inner  spaces "},
		{`""`, ""},
		{"「mismatch”", "「mismatch”"},
		{`"`, `"`},
		{"plain", "plain"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StripWrapper(tc.in), "input %q", tc.in)
	}
}

func TestClean_MetaLinesAndBlankRuns(t *testing.T) {
	raw := "first\nSUGGEST: ask about sleep\n\n\n\n\nsecond\n\nthird\n[suggest] more\n「Suggestion: x」\n" +
		"\u3000SUGGEST: y\n\u00a0suggest z\n\tSuggest w\nlast"

	assert.Equal(t, "first\n\nsecond\n\nthird\nlast", Clean(raw))
}

func TestClean_MetaLinesAfterUnicodeSpace(t *testing.T) {
	for _, prefix := range []string{"\u3000", "\u00a0", "\t", " \u3000 ", "「\u3000"} {
		raw := "keep\n" + prefix + "SUGGEST: 英語の話をする\nend"
		assert.Equal(t, "keep\nend", Clean(raw), "prefix %q", prefix)
	}

	got := Sanitize("\u3000SUGGEST: 英語の話をする\nうん、いいね。次はどうする？", domain.TaskChat)
	assert.Equal(t, "うん、いいね。次はどうする？", got)

	assert.Equal(t, []string{"式を整理", "解く"}, Steps("1. 式を整理\n\u3000SUGGEST: next\n2. 解く"))
}

func TestClean_KeepsShortBlankRuns(t *testing.T) {
	assert.Equal(t, "a\n\n\nb", Clean("a\n\n\nb"))
	assert.Equal(t, "a\n\nb", Clean("a\n\n\n\nb"))
	assert.Equal(t, "a", Clean("\n\n\n\na\n\n\n\n"))
}

func TestSanitize_ChatPassThrough(t *testing.T) {
	in := "うん、分かった。まず5分だけ動こう。"
	assert.Equal(t, in, Sanitize(in, domain.TaskChat))
}

func TestSanitize_ChatTrimsLinesAndQuotes(t *testing.T) {
	raw := "「そっか、今日は重いね。\nまず1問だけ見てみよ？」\n三行目は消える\nSUGGEST: x"
	assert.Equal(t, "そっか、今日は重いね。\nまず1問だけ見てみよ？", Sanitize(raw, domain.TaskChat))

	raw = "\n\n  一行目  \n\n\n\n二行目\n三行目"
	assert.Equal(t, "一行目\n二行目", Sanitize(raw, domain.TaskChat))
}

func TestSanitize_ChatLengthCeiling(t *testing.T) {
	raw := strings.Repeat("あ", 300)

	got := Sanitize(raw, domain.TaskChat)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, ChatMaxRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, Ellipsis))
}

func TestSanitize_ChatIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"うん、分かった。まず5分だけ動こう。",
		"「そっか。」",
		"「a\nb」\nc",
		"「SUGGEST: hidden」\nvisible",
		"line1\n\n\n\nline2\nline3",
		strings.Repeat("長い文章です。", 40),
		"“quoted\nacross lines”",
		"  \"spaced\"  ",
		"a\r\nb\r\nc",
		"[suggest]\n\n\n「x」",
		"\u3000SUGGEST: 英語の話をする\nうん、いいね。次はどうする？",
		"a\n\u00a0suggest: b\nc",
		"\tSuggest x\n「y」",
	}
	for _, in := range inputs {
		once := Sanitize(in, domain.TaskChat)
		assert.Equal(t, once, Sanitize(once, domain.TaskChat), "input %q", in)
	}
}

func TestSanitize_Digest(t *testing.T) {
	got := Sanitize("『まずは数学プリントを1枚だけ片付けよう！』\n理由: 期限が近いから", domain.TaskDigest)
	assert.Equal(t, "まずは数学プリントを1枚だけ片付けよう！", got)

	long := Sanitize(strings.Repeat("い", 200), domain.TaskDigest)
	assert.Equal(t, DigestMaxRunes, utf8.RuneCountInString(long))
}

var leadingOrdinal = regexp.MustCompile(`^(?:[0-9０-９]|ステップ|手順|(?i:step)|[①-⑳]|[(（])`)

func TestSteps_NumberedList(t *testing.T) {
	raw := "1. 両辺から3を引く: 2x+3-3=7-3\n2. 整理する: 2x=4\n3. 両辺を2で割る: x=2\n4. 答え: x=2"

	steps := Steps(raw)

	require.Len(t, steps, 4)
	assert.Equal(t, "両辺から3を引く: 2x+3-3=7-3", steps[0])
	assert.Equal(t, "答え: x=2", steps[3])
}

func TestSteps_OrdinalStyles(t *testing.T) {
	raw := strings.Join([]string{
		"ステップ1: 問題文を読む",
		"Step 2 - 式を立てる",
		"手順３．移項する",
		"(4) 計算する",
		"⑤ 検算する",
		"- **6)** まとめる",
		"STEP7：見直す",
	}, "\n")

	steps := Steps(raw)

	require.Len(t, steps, 7)
	assert.Equal(t, []string{"問題文を読む", "式を立てる", "移項する", "計算する", "検算する", "まとめる", "見直す"}, steps)
	for _, s := range steps {
		assert.False(t, leadingOrdinal.MatchString(s), s)
	}
}

func TestSteps_KeepsLeadingArithmetic(t *testing.T) {
	steps := Steps("2x+3=7 から始める\n3.14を掛ける\n10:30までに終える")

	assert.Equal(t, []string{"2x+3=7 から始める", "3.14を掛ける", "10:30までに終える"}, steps)
}

func TestSteps_CeilingFoldsRemainder(t *testing.T) {
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, strings.Repeat("x", i))
	}

	steps := Steps(strings.Join(lines, "\n"))

	require.Len(t, steps, MaxSteps)
	assert.Equal(t, "xxxxxx", steps[5])
	assert.Equal(t, "xxxxxxx / xxxxxxxx / xxxxxxxxx / xxxxxxxxxx", steps[6])
}

func TestSteps_Fallbacks(t *testing.T) {
	assert.Equal(t, []string{"1.\n2."}, Steps("1.\n2."))
	assert.Empty(t, Steps("   "))
	assert.Empty(t, Steps("SUGGEST: only meta"))
	assert.Equal(t, []string{"ひとつだけ"}, Steps("「ひとつだけ」"))
}

func TestSteps_CountWithinBounds(t *testing.T) {
	inputs := []string{
		"1. a\n2. b",
		"a",
		strings.Repeat("1. step\n", 20),
		"\n\n\n1) x\n\n\n\n2) y\nSUGGEST: z",
	}
	for _, in := range inputs {
		n := len(Steps(in))
		assert.GreaterOrEqual(t, n, 1, in)
		assert.LessOrEqual(t, n, MaxSteps, in)
	}
}

func TestSanitize_ExplainJoinsSteps(t *testing.T) {
	assert.Equal(t, "a\nb", Sanitize("1. a\n2. b", domain.TaskExplain))
}
