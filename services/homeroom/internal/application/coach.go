package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/persona"
	"homeroom/services/homeroom/internal/prompt"
	"homeroom/services/homeroom/internal/sanitize"
)

const coachRequest = "今すぐ取りかかることを一つだけ提案してください。"

type CoachInput struct {
	Teacher  string
	Tasks    []domain.PendingItem
	Routines []string
	Client   string
}

// Coach suggests one concrete next action from the caller's pending items.
func (s *HomeroomService) Coach(ctx context.Context, in CoachInput) (*Reply, error) {
	start := s.now()
	items := make([]domain.PendingItem, 0, len(in.Tasks)+len(in.Routines))
	for _, t := range in.Tasks {
		if t.Title = strings.TrimSpace(t.Title); t.Title != "" {
			items = append(items, t)
		}
	}
	for _, r := range in.Routines {
		if r = strings.TrimSpace(r); r != "" {
			items = append(items, domain.PendingItem{Title: r})
		}
	}
	if len(items) == 0 {
		return nil, ErrNoTasks
	}
	p := s.personas.Persona(s.personas.ResolveKey(in.Teacher))

	msgs := prompt.Build(p, domain.TaskDigest, coachRequest, prompt.Options{Items: items})
	result := s.complete(ctx, domain.TaskDigest, msgs)

	reply := &Reply{Persona: p.Key, Source: domain.SourceLLM}
	if result.OK() {
		reply.Text = sanitize.Sanitize(result.Text, domain.TaskDigest)
	}
	if reply.Text == "" {
		s.degrade(reply, result, "coach")
		reply.Text = coachFallback(prompt.SortItems(items)[0])
	}

	s.record("coach", in.Client, titles(items), reply, start)
	return reply, nil
}

type dailyKind struct {
	name    string
	request string
	canned  []string
}

var (
	phraseKind = dailyKind{name: "daily_phrase", request: "生徒を元気づける今日のひとことを一つください。", canned: dailyPhrases}
	tipKind    = dailyKind{name: "daily_tip", request: "今日すぐ使える勉強のコツを一つ教えてください。", canned: dailyTips}
)

var errUncacheable = errors.New("fallback reply is not cached")

// DailyPhrase returns the persona's encouragement for today. Replies from
// the model are shared through the phrase cache for the rest of the day.
func (s *HomeroomService) DailyPhrase(ctx context.Context, teacher, topic, client string) (*Reply, error) {
	return s.daily(ctx, phraseKind, teacher, topic, client)
}

func (s *HomeroomService) DailyTip(ctx context.Context, teacher, topic, client string) (*Reply, error) {
	return s.daily(ctx, tipKind, teacher, topic, client)
}

func (s *HomeroomService) daily(ctx context.Context, kind dailyKind, teacher, topic, client string) (*Reply, error) {
	p := s.personas.Persona(s.personas.ResolveKey(teacher))
	topic = strings.TrimSpace(topic)
	if s.phrases == nil {
		return s.generateDaily(ctx, kind, p, topic, client), nil
	}

	key := fmt.Sprintf("%s:%s:%s:%s", kind.name, p.Key, persona.Normalize(topic), s.now().Format("2006-01-02"))
	var fresh *Reply
	data, err := s.phrases.GetWithProtection(ctx, key, func(ctx context.Context) ([]byte, error) {
		fresh = s.generateDaily(ctx, kind, p, topic, client)
		if fresh.Source != domain.SourceLLM {
			return nil, errUncacheable
		}
		return []byte(fresh.Text), nil
	})
	if fresh != nil {
		if err != nil && !errors.Is(err, errUncacheable) {
			s.logger.Warn("store daily text", zap.String("key", key), zap.Error(err))
		}
		return fresh, nil
	}
	if err != nil {
		s.logger.Warn("daily cache", zap.String("key", key), zap.Error(err))
		return &Reply{Text: pickDaily(kind.canned, s.now()), Persona: p.Key, Source: domain.SourceFallback}, nil
	}
	return &Reply{Text: string(data), Persona: p.Key, Source: domain.SourceLLM, Cached: true}, nil
}

func (s *HomeroomService) generateDaily(ctx context.Context, kind dailyKind, p domain.Persona, topic, client string) *Reply {
	start := s.now()
	request := kind.request
	if topic != "" {
		request += "\nテーマ: " + topic
	}
	msgs := prompt.Build(p, domain.TaskDigest, request, prompt.Options{})
	result := s.complete(ctx, domain.TaskDigest, msgs)

	reply := &Reply{Persona: p.Key, Source: domain.SourceLLM}
	if result.OK() {
		reply.Text = sanitize.Sanitize(result.Text, domain.TaskDigest)
	}
	if reply.Text == "" {
		s.degrade(reply, result, kind.name)
		reply.Text = pickDaily(kind.canned, start)
	}
	s.record(kind.name, client, request, reply, start)
	return reply
}

func titles(items []domain.PendingItem) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return strings.Join(out, " / ")
}
