package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeroom/services/homeroom/internal/domain"
)

type countingTransport struct {
	n atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func testEndpoint(url string) Endpoint {
	p, _ := LookupProvider("openai")
	return Endpoint{Provider: p, BaseURL: url, APIKey: "sk-test", Model: "test-model"}
}

func chatRequest() Request {
	return Request{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		MaxTokens:  64,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Task:       domain.TaskChat,
	}
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id": "x",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func TestClient_Success(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("  うん、分かった。  ")))
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL), 10*time.Millisecond, nil, nil)
	res := c.Call(context.Background(), chatRequest())

	require.True(t, res.OK(), res.Message())
	assert.Equal(t, "うん、分かった。", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "test-model", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestClient_HTTPErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL), 10*time.Millisecond, nil, nil)
	res := c.Call(context.Background(), chatRequest())

	assert.Equal(t, FailureHTTPStatus, res.Failure)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Message(), "429")
}

func TestClient_HTTPErrorBodyIsTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("upstream exploded ", 100)))
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL), 10*time.Millisecond, nil, nil)
	res := c.Call(context.Background(), chatRequest())

	assert.Equal(t, FailureHTTPStatus, res.Failure)
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.LessOrEqual(t, len(res.Detail), MaxErrorBody+len("..."))
	assert.Contains(t, res.Message(), "502")
}

func TestClient_TransportFailureRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rt := &countingTransport{}
	c := NewClient(testEndpoint(url), 20*time.Millisecond, &http.Client{Transport: rt}, nil)

	req := chatRequest()
	req.Timeout = 500 * time.Millisecond
	start := time.Now()
	res := c.Call(context.Background(), req)
	elapsed := time.Since(start)

	assert.Equal(t, FailureTransport, res.Failure)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), rt.n.Load())
	assert.True(t, strings.HasPrefix(res.Message(), "[llm:transport]"))
	assert.Less(t, elapsed, 3*req.Timeout+2*20*time.Millisecond+time.Second)
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(testEndpoint(srv.URL), 10*time.Millisecond, nil, nil)
	req := chatRequest()
	req.Timeout = 50 * time.Millisecond
	req.MaxRetries = 1

	start := time.Now()
	res := c.Call(context.Background(), req)

	assert.Equal(t, FailureTransport, res.Failure)
	assert.Equal(t, 2, res.Attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_ParentCancelStopsRetries(t *testing.T) {
	rt := &countingTransport{}
	c := NewClient(testEndpoint("http://127.0.0.1:1"), time.Second, &http.Client{Transport: rt}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Call(ctx, chatRequest())

	assert.Equal(t, FailureTransport, res.Failure)
	assert.Equal(t, 1, res.Attempts)
}

func TestClient_Unconfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ep := testEndpoint(srv.URL)
	ep.APIKey = ""
	res := NewClient(ep, 0, nil, nil).Call(context.Background(), chatRequest())

	assert.Equal(t, FailureUnconfigured, res.Failure)
	assert.Equal(t, int32(0), hits.Load())
	assert.Contains(t, res.Message(), "OPENAI_API_KEY")
	assert.NotContains(t, res.Message(), "sk-")
}

func TestClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("   \n ")))
	}))
	defer srv.Close()

	res := NewClient(testEndpoint(srv.URL), 0, nil, nil).Call(context.Background(), chatRequest())

	assert.Equal(t, FailureEmpty, res.Failure)
	assert.Equal(t, EmptyPlaceholder, res.Message())
}

func TestClient_ImageBecomesMultiContent(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("1. a")))
	}))
	defer srv.Close()

	req := chatRequest()
	req.Messages[1].Image = &domain.Image{MIME: "image/png", Data: "QUJD"}
	res := NewClient(testEndpoint(srv.URL), 0, nil, nil).Call(context.Background(), req)

	require.True(t, res.OK())
	parts, ok := body.Messages[1].Content.([]any)
	require.True(t, ok, "user turn should be a content part list")
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,QUJD", img["url"])
}

func TestResolveEndpoint(t *testing.T) {
	ep := ResolveEndpoint(Config{
		Provider: "OpenRouter",
		APIKeys:  map[string]string{"openrouter": " key ", "openai": "other"},
	})
	assert.Equal(t, "openrouter", ep.Provider.Name)
	assert.Equal(t, "key", ep.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", ep.Model)

	ep = ResolveEndpoint(Config{Provider: "nope", Model: "m", BaseURL: "http://x/v1/"})
	assert.Equal(t, "openai", ep.Provider.Name)
	assert.Equal(t, "http://x/v1", ep.BaseURL)
	assert.Equal(t, "m", ep.Model)
	assert.False(t, ep.Configured())
}

func TestFake_TaskShapes(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	explain := f.Call(ctx, Request{Task: domain.TaskExplain})
	assert.True(t, strings.HasPrefix(explain.Text, "1. "))
	assert.True(t, f.Call(ctx, Request{Task: domain.TaskChat}).OK())
	assert.Equal(t, int64(2), f.Calls())
}
