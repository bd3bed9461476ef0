package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeroom/services/homeroom/internal/application"
	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/llm"
	"homeroom/services/homeroom/internal/persona"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type scriptedGateway struct {
	mu     sync.Mutex
	result llm.Result
	panics bool
	calls  []llm.Request
}

func (g *scriptedGateway) Call(_ context.Context, req llm.Request) llm.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.panics {
		panic("provider exploded")
	}
	return g.result
}

func (g *scriptedGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func setup(g *scriptedGateway, basePath string) *gin.Engine {
	svc := application.NewHomeroomService(persona.Default(), g, application.Settings{})
	h := NewHomeroomHandler(svc, Info{Service: "homeroom", Version: "test"}, Diag{
		Provider:           "openai",
		ProviderConfigured: true,
		Model:              "gpt-4o-mini",
		History:            "memory",
	}, nil)
	r := gin.New()
	h.Register(r.Group(basePath))
	return r
}

func do(r http.Handler, method, path, payload string) (*httptest.ResponseRecorder, map[string]any) {
	var body *bytes.Reader
	if payload != "" {
		body = bytes.NewReader([]byte(payload))
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestConsult_PassThrough(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "うん、分かった。まず5分だけ動こう。", Attempts: 1}}
	r := setup(g, "")

	w, out := do(r, http.MethodPost, "/consult", `{"teacher":"natsuki","text":"部活で疲れた"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reply":"うん、分かった。まず5分だけ動こう。"}`, w.Body.String())
	assert.Equal(t, "うん、分かった。まず5分だけ動こう。", out["reply"])
}

func TestConsult_EmptyTextRejected(t *testing.T) {
	g := &scriptedGateway{}
	r := setup(g, "")

	for _, payload := range []string{
		`{"teacher":"natsuki","text":""}`,
		`{"teacher":"natsuki","text":"   "}`,
		`{"teacher":"natsuki"}`,
		`{"teacher":"natsuki","text":"[persona:rika]"}`,
	} {
		w, out := do(r, http.MethodPost, "/consult", payload)
		assert.Equal(t, http.StatusBadRequest, w.Code, payload)
		assert.NotEmpty(t, out["error"], payload)
	}
	w, _ := do(r, http.MethodPost, "/consult", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, g.count())
}

func TestConsult_AliasKeysAndDebug(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "おっけー！何からやる？", Attempts: 1}}
	r := setup(g, "")

	w, out := do(r, http.MethodPost, "/consult?debug=1", `{"personaId":"リカ先生","message":"数学やばい","history":[{"role":"bogus","content":"前"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rika", out["persona"])
	assert.Equal(t, "field", out["via"])
	assert.Equal(t, "llm", out["source"])
	assert.NotContains(t, out, "error")

	req := g.calls[0]
	assert.Equal(t, "数学やばい", req.Messages[len(req.Messages)-1].Content)
	assert.Equal(t, domain.RoleUser, req.Messages[len(req.Messages)-2].Role)
}

func TestConsult_TagOverridesTeacherField(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "了解！", Attempts: 1}}
	r := setup(g, "")

	_, out := do(r, http.MethodPost, "/consult?debug=1", `{"teacher":"toru","text":"[persona:natsuki] 部活つらい"}`)

	assert.Equal(t, "natsuki", out["persona"])
	assert.Equal(t, "tag", out["via"])
	assert.Equal(t, "部活つらい", g.calls[0].Messages[len(g.calls[0].Messages)-1].Content)

	_, out = do(r, http.MethodPost, "/question?debug=1", `{"question":"x"}`)
	assert.NotContains(t, out, "via")
}

func TestConsult_FallbackHidesReasonWithoutDebug(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Failure: llm.FailureUnconfigured, Detail: "provider openai has no API key (OPENAI_API_KEY)"}}
	r := setup(g, "")

	w, out := do(r, http.MethodPost, "/consult", `{"teacher":"hazuki","content":"眠れない"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out["reply"], "眠れない")
	assert.NotContains(t, out, "source")
	assert.NotContains(t, out, "error")

	_, out = do(r, http.MethodPost, "/consult?debug=1", `{"teacher":"hazuki","content":"眠れない"}`)
	assert.Equal(t, "fallback", out["source"])
	assert.Contains(t, out["error"], "[llm:unconfigured]")
}

func TestConsult_PanicServesSafeReply(t *testing.T) {
	r := setup(&scriptedGateway{panics: true}, "")

	w, out := do(r, http.MethodPost, "/consult", `{"text":"hello"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, safeReply, out["reply"])
}

func TestQuestion_NumberedSteps(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "1. 式を書く\n2. 移項する\n3. 割る\n4. 確かめる", Attempts: 1}}
	r := setup(g, "")

	for _, path := range []string{"/question", "/explain"} {
		w, out := do(r, http.MethodPost, path, `{"problem":"2x+3=7","teacher_id":"rika","subject":"数学"}`)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, []any{"式を書く", "移項する", "割る", "確かめる"}, out["steps"], path)
	}
}

func TestQuestion_RateLimitedProviderFallsBack(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Failure: llm.FailureHTTPStatus, Status: 429, Detail: "rate limited", Attempts: 1}}
	r := setup(g, "")

	w, out := do(r, http.MethodPost, "/question?debug=1", `{"question":"光合成とは"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fallback", out["source"])
	assert.Contains(t, out["error"], "429")
	assert.NotEmpty(t, out["steps"])
	assert.Equal(t, 1, g.count())
}

func TestQuestion_Image(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "1. a", Attempts: 1}}
	r := setup(g, "")

	w, _ := do(r, http.MethodPost, "/question", `{"question":"これ","image":"data:image/png;base64,QUJD"}`)
	require.Equal(t, http.StatusOK, w.Code)
	img := g.calls[0].Messages[len(g.calls[0].Messages)-1].Image
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIME)
	assert.Equal(t, "QUJD", img.Data)

	w, _ = do(r, http.MethodPost, "/question", `{"question":"これ","image":"not base64!"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, g.count())
}

func TestCoach(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "まずは理科レポートを5分だけ！", Attempts: 1}}
	r := setup(g, "")

	w, out := do(r, http.MethodPost, "/todo/coach", `{
		"teacher": "toru",
		"tasks": ["英単語", {"title": "理科レポート", "due": "2026-10-19"}],
		"routines": [{"name": "ストレッチ"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "まずは理科レポートを5分だけ！", out["tip"])
	assert.Contains(t, g.calls[0].Messages[0].Content, "【最優先】理科レポート")

	w, out = do(r, http.MethodPost, "/todo/coach", `{"teacher":"toru","tasks":[],"routines":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, application.ErrNoTasks.Error(), out["error"])
	assert.Equal(t, 1, g.count())
}

func TestDailyEndpoints(t *testing.T) {
	g := &scriptedGateway{result: llm.Result{Text: "『一歩ずつでいいよ。』", Attempts: 1}}
	r := setup(g, "")

	w, out := do(r, http.MethodGet, "/daily_phrase?teacher=rei&topic=テスト", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "一歩ずつでいいよ。", out["phrase"])

	w, out = do(r, http.MethodGet, "/daily_tip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out["tip"])
}

func TestTeachers(t *testing.T) {
	r := setup(&scriptedGateway{}, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teachers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var teachers []teacherView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &teachers))
	require.Len(t, teachers, 5)
	ids := make([]string, len(teachers))
	for i, tv := range teachers {
		ids[i] = tv.ID
		assert.NotEmpty(t, tv.DisplayName)
		assert.True(t, strings.HasPrefix(tv.Color, "#"))
	}
	assert.Equal(t, []string{"hazuki", "toru", "rika", "rei", "natsuki"}, ids)
}

func TestDiagAndHealth(t *testing.T) {
	r := setup(&scriptedGateway{}, "/api")

	w, out := do(r, http.MethodGet, "/api/diag", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["providerConfigured"])
	assert.NotContains(t, strings.ToLower(w.Body.String()), "key")

	for _, path := range []string{"/api/health", "/api/healthz"} {
		w, out = do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", out["status"])
	}

	w, out = do(r, http.MethodGet, "/api/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "homeroom", out["service"])

	w, _ = do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
