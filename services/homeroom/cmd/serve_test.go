package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeroom/config"
	"homeroom/services/homeroom/internal/llm"
)

func loadTestConfig(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("USE_FAKE_LLM", "")

	var err error
	cfg, err = config.LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	logger = zap.NewNop()
}

func TestLLMConfigMapping(t *testing.T) {
	lc := llmConfig(config.LLMConfig{
		Provider:    "openrouter",
		Model:       "m",
		Temperature: 0.5,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Keys:        config.ProviderKeys{OpenRouter: "or-key"},
	})

	assert.Equal(t, float32(0.5), lc.Temperature)
	ep := llm.ResolveEndpoint(lc)
	assert.Equal(t, "openrouter", ep.Provider.Name)
	assert.Equal(t, "or-key", ep.APIKey)
	assert.Equal(t, "m", ep.Model)
}

func TestServeWiring_FakeGateway(t *testing.T) {
	loadTestConfig(t)
	cfg.LLM.Fake = true
	cfg.Server.BasePath = "/api"

	a, err := buildApp()
	require.NoError(t, err)
	defer a.close()
	_, isFake := a.gateway.(*llm.Fake)
	assert.True(t, isFake)

	r, err := newRouter(a)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/consult", strings.NewReader(`{"teacher":"rei","text":"眠い"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	a.svc.Wait()

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.NotEmpty(t, out["reply"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServeWiring_DiagNeverShowsKey(t *testing.T) {
	loadTestConfig(t)
	cfg.LLM.Keys.OpenAI = "sk-very-secret"

	a, err := buildApp()
	require.NoError(t, err)
	defer a.close()

	r, err := newRouter(a)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diag", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-very-secret")
	var d map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, true, d["providerConfigured"])
	assert.Equal(t, true, d["openaiClient"])
	assert.Equal(t, "memory", d["history"])
	assert.Equal(t, false, d["redis"])
}

func TestServeWiring_ForwardedForNeedsTrustedProxy(t *testing.T) {
	hits := func(trusted []string) int {
		loadTestConfig(t)
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.QPS = 1
		cfg.RateLimit.Burst = 1
		cfg.Server.TrustedProxies = trusted

		a, err := buildApp()
		require.NoError(t, err)
		defer a.close()
		r, err := newRouter(a)
		require.NoError(t, err)

		limited := 0
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.RemoteAddr = "192.0.2.10:40000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code == http.StatusTooManyRequests {
				limited++
			}
		}
		return limited
	}

	assert.Equal(t, 9, hits(nil), "untrusted peers cannot pick their own bucket")
	assert.Equal(t, 0, hits([]string{"192.0.2.0/24"}), "a trusted proxy forwards the real client")
}

func TestServeWiring_BadTrustedProxy(t *testing.T) {
	loadTestConfig(t)
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}

	a, err := buildApp()
	require.NoError(t, err)
	defer a.close()

	_, err = newRouter(a)
	assert.Error(t, err)
}
