package application

import (
	"fmt"
	"strings"
	"time"

	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/sanitize"
)

const quoteRunes = 40

func consultFallback(p domain.Persona, text string) string {
	quoted := sanitize.Truncate(strings.Join(strings.Fields(text), " "), quoteRunes)
	if p.Fallback == "" {
		return fmt.Sprintf("%sだよ。『%s』、まずは小さく始めて成功体験を積もう。5〜10分だけ着手→終わったら水を飲む→次の一歩を1行でメモ、でOK。", p.DisplayName, quoted)
	}
	return fmt.Sprintf(p.Fallback, quoted)
}

func explainFallback(p domain.Persona) []string {
	return []string{
		"問題文をゆっくり読み、分かっていることに線を引こう",
		"求めるものが何かを一言で書き出そう",
		"教科書で似た例題を一つ探して、解き方をまねしよう",
		"つまずいた所をメモして、あとで" + p.DisplayName + "に聞いてね",
	}
}

func coachFallback(top domain.PendingItem) string {
	return fmt.Sprintf("まずは「%s」を5分だけ進めよう。", sanitize.Truncate(top.Title, 30))
}

var dailyPhrases = []string{
	"小さな一歩でも、昨日の自分より前に進んでいるよ。",
	"完璧より、まず5分。",
	"分からないは、伸びしろのサイン。",
	"休むのも勉強のうち。ちゃんと眠ろう。",
	"今日できたことを一つ数えてみよう。",
	"比べる相手は昨日の自分だけ。",
	"迷ったら、いちばん軽いことから。",
}

var dailyTips = []string{
	"25分集中して5分休むリズムを試してみよう。",
	"覚えたことを誰かに説明するつもりで声に出そう。",
	"間違えた問題だけを集めたノートを作ろう。",
	"寝る前の10分で今日の復習をしよう。",
	"スマホは別の部屋に置いてから始めよう。",
	"机の上を30秒で片付けてからスタートしよう。",
	"解き終わったら答えより先に途中式を見直そう。",
}

// pickDaily chooses a stable entry for the day so repeated calls agree.
func pickDaily(list []string, day time.Time) string {
	return list[day.YearDay()%len(list)]
}
