package application

import (
	"context"
	"strings"

	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/prompt"
	"homeroom/services/homeroom/internal/sanitize"
)

type QuestionInput struct {
	Question string
	Subject  string
	Teacher  string
	Image    *domain.Image
	Profile  *domain.Profile
	Client   string
}

// Explain turns a homework question into a short list of solution steps.
func (s *HomeroomService) Explain(ctx context.Context, in QuestionInput) (*Reply, error) {
	start := s.now()
	res := s.personas.Resolve(in.Teacher, in.Question)
	question := strings.TrimSpace(res.Text)
	if question == "" {
		return nil, ErrEmptyText
	}
	p := s.personas.Persona(res.Key)

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = p.Subject
	}
	msgs := prompt.Build(p, domain.TaskExplain, question, prompt.Options{
		Profile: in.Profile,
		Image:   in.Image,
		Subject: subject,
	})
	result := s.complete(ctx, domain.TaskExplain, msgs)

	reply := &Reply{Persona: p.Key, Source: domain.SourceLLM}
	if result.OK() {
		reply.Steps = sanitize.Steps(result.Text)
	}
	if len(reply.Steps) == 0 {
		s.degrade(reply, result, "explain")
		reply.Steps = explainFallback(p)
	}
	reply.Text = strings.Join(reply.Steps, "\n")

	s.record("explain", in.Client, question, reply, start)
	return reply, nil
}
