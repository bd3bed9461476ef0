package application

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/prompt"
	"homeroom/services/homeroom/internal/sanitize"
)

type ConsultInput struct {
	Text    string
	Teacher string
	History []domain.Message
	Profile *domain.Profile
	Client  string
}

// Consult answers a free-form consultation in the selected persona's voice.
// Client supplied history wins over the stored window for the client.
func (s *HomeroomService) Consult(ctx context.Context, in ConsultInput) (*Reply, error) {
	start := s.now()
	res := s.personas.Resolve(in.Teacher, in.Text)
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	p := s.personas.Persona(res.Key)
	s.logger.Debug("persona resolved", zap.String("persona", p.Key), zap.String("via", string(res.Via)))

	history := in.History
	if len(history) == 0 && in.Client != "" {
		stored, err := s.history.Recent(ctx, in.Client)
		if err != nil {
			s.logger.Warn("load history", zap.String("client", in.Client), zap.Error(err))
		}
		history = stored
	}

	msgs := prompt.Build(p, domain.TaskChat, text, prompt.Options{
		History: history,
		Profile: in.Profile,
	})
	result := s.complete(ctx, domain.TaskChat, msgs)

	reply := &Reply{Persona: p.Key, Via: res.Via, Source: domain.SourceLLM}
	if result.OK() {
		reply.Text = sanitize.Sanitize(result.Text, domain.TaskChat)
	}
	if reply.Text == "" {
		s.degrade(reply, result, "consult")
		reply.Text = consultFallback(p, text)
	} else if in.Client != "" {
		err := s.history.Append(ctx, in.Client,
			domain.Message{Role: domain.RoleUser, Content: text},
			domain.Message{Role: domain.RoleAssistant, Content: reply.Text},
		)
		if err != nil {
			s.logger.Warn("append history", zap.String("client", in.Client), zap.Error(err))
		}
	}

	s.record("consult", in.Client, text, reply, start)
	return reply, nil
}
