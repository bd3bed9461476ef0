package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/llm"
	"homeroom/services/homeroom/internal/persona"
	"homeroom/services/homeroom/internal/store"
)

var (
	ErrEmptyText = errors.New("text is required")
	ErrNoTasks   = errors.New("tasks or routines are required")
)

// Settings are the per-call sampling and retry parameters.
type Settings struct {
	Model         string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
	MaxRetries    int
	RecordTimeout time.Duration
}

// PhraseCache memoizes daily texts across instances.
type PhraseCache interface {
	GetWithProtection(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error)
}

// Reply is what every use case hands back to the transport layer.
type Reply struct {
	ExchangeID string
	Text       string
	Steps      []string
	Persona    string
	Via        persona.Via // how Persona was chosen; consult only
	Source     domain.Source
	Failure    llm.Failure
	Degraded   string // gateway message, set when Source is fallback
	Cached     bool
}

type HomeroomService struct {
	personas *persona.Registry
	gateway  llm.Gateway
	history  domain.HistoryStore
	recorder domain.Recorder
	phrases  PhraseCache
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

type Option func(*HomeroomService)

func WithHistory(h domain.HistoryStore) Option {
	return func(s *HomeroomService) { s.history = h }
}

func WithRecorder(r domain.Recorder) Option {
	return func(s *HomeroomService) { s.recorder = r }
}

func WithPhraseCache(c PhraseCache) Option {
	return func(s *HomeroomService) { s.phrases = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *HomeroomService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *HomeroomService) { s.now = now }
}

func NewHomeroomService(personas *persona.Registry, gateway llm.Gateway, settings Settings, opts ...Option) *HomeroomService {
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = llm.DefaultMaxTokens
	}
	if settings.Timeout <= 0 {
		settings.Timeout = llm.DefaultTimeout
	}
	if settings.RecordTimeout <= 0 {
		settings.RecordTimeout = 3 * time.Second
	}
	s := &HomeroomService{
		personas: personas,
		gateway:  gateway,
		settings: settings,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = store.NewMemoryHistory(store.DefaultMaxKeys, store.DefaultMaxMessages)
	}
	return s
}

func (s *HomeroomService) Personas() *persona.Registry {
	return s.personas
}

// Wait blocks until background recording has finished.
func (s *HomeroomService) Wait() {
	s.wg.Wait()
}

func (s *HomeroomService) complete(ctx context.Context, task domain.TaskKind, msgs []domain.Message) llm.Result {
	return s.gateway.Call(ctx, llm.Request{
		Model:       s.settings.Model,
		Messages:    msgs,
		MaxTokens:   s.settings.MaxTokens,
		Temperature: s.settings.Temperature,
		Timeout:     s.settings.Timeout,
		MaxRetries:  s.settings.MaxRetries,
		Task:        task,
	})
}

// degrade marks r as a fallback reply and keeps the gateway's reason.
func (s *HomeroomService) degrade(r *Reply, res llm.Result, endpoint string) {
	r.Source = domain.SourceFallback
	r.Failure = res.Failure
	if r.Failure == llm.FailureNone {
		r.Failure = llm.FailureEmpty
	}
	r.Degraded = res.Message()
	if res.OK() {
		r.Degraded = llm.EmptyPlaceholder
	}
	s.logger.Warn("serving fallback",
		zap.String("endpoint", endpoint),
		zap.String("persona", r.Persona),
		zap.String("failure", string(r.Failure)),
		zap.String("detail", r.Degraded))
}

func (s *HomeroomService) record(endpoint, client, input string, r *Reply, start time.Time) {
	r.ExchangeID = uuid.NewString()
	if s.recorder == nil {
		return
	}
	ex := &domain.Exchange{
		ID:        r.ExchangeID,
		Endpoint:  endpoint,
		Persona:   r.Persona,
		Client:    client,
		Input:     input,
		Output:    r.Text,
		Source:    r.Source,
		Failure:   string(r.Failure),
		Latency:   s.now().Sub(start),
		CreatedAt: start,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.RecordTimeout)
		defer cancel()
		if err := s.recorder.Record(ctx, ex); err != nil {
			s.logger.Warn("record exchange", zap.String("id", ex.ID), zap.Error(err))
		}
	}()
}
