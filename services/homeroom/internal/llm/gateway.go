package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"homeroom/services/homeroom/internal/domain"
)

const (
	DefaultTimeout    = 20 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxTokens  = 400
)

// Request is one outbound chat completion.
type Request struct {
	Model       string
	Messages    []domain.Message
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration // per attempt
	MaxRetries  int
	Task        domain.TaskKind
}

// Gateway performs chat completions. Call never panics and never returns
// an error; failures are carried in the Result.
type Gateway interface {
	Call(ctx context.Context, req Request) Result
}

// Client talks to an OpenAI compatible endpoint.
type Client struct {
	endpoint   Endpoint
	api        *openai.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient builds a client for the resolved endpoint. httpClient may be nil.
func NewClient(ep Endpoint, retryDelay time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   ep,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("provider", ep.Provider.Name)),
	}
	if !ep.Configured() {
		return c
	}
	cfg := openai.DefaultConfig(ep.APIKey)
	cfg.BaseURL = ep.BaseURL
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

func (c *Client) Call(ctx context.Context, req Request) Result {
	if c.api == nil {
		return Result{
			Failure: FailureUnconfigured,
			Detail:  fmt.Sprintf("provider %s has no API key (%s)", c.endpoint.Provider.Name, c.endpoint.Provider.KeyEnv),
		}
	}

	model := req.Model
	if model == "" {
		model = c.endpoint.Model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	attempts := req.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
		made = attempt
		start := time.Now()
		text, err := c.once(ctx, chatReq, req.Timeout)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				c.logger.Warn("empty completion", zap.String("task", string(req.Task)))
				return Result{Failure: FailureEmpty, Attempts: attempt}
			}
			c.logger.Debug("completion ok",
				zap.String("task", string(req.Task)),
				zap.Int("attempt", attempt),
				zap.Duration("latency", time.Since(start)))
			return Result{Text: text, Attempts: attempt}
		}

		if status, ok := httpStatus(err); ok {
			c.logger.Warn("provider rejected request",
				zap.Int("status", status),
				zap.String("task", string(req.Task)))
			return Result{
				Failure:  FailureHTTPStatus,
				Status:   status,
				Detail:   truncateBytes(err.Error(), MaxErrorBody),
				Attempts: attempt,
			}
		}

		lastErr = err
		c.logger.Warn("completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("of", attempts),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	return Result{
		Failure:  FailureTransport,
		Detail:   truncateBytes(lastErr.Error(), MaxErrorBody),
		Attempts: made,
	}
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// httpStatus extracts a non-success HTTP status from a client error.
func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 400 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func toChatMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.Image == nil {
			cm.Content = m.Content
			out = append(out, cm)
			continue
		}
		if m.Content != "" {
			cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		cm.MultiContent = append(cm.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    m.Image.DataURL(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
		out = append(out, cm)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
