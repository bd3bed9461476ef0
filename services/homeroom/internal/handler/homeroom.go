package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homeroom/services/homeroom/internal/application"
	"homeroom/services/homeroom/internal/store"
)

// Info identifies the running service on the root route.
type Info struct {
	Service string
	Version string
}

// Diag is the /diag payload. It describes wiring only; credentials never
// appear here.
type Diag struct {
	Provider           string `json:"provider"`
	ProviderConfigured bool   `json:"providerConfigured"`
	Model              string `json:"model"`
	Fake               bool   `json:"fake"`
	History            string `json:"history"`
	Redis              bool   `json:"redis"`
	Postgres           bool   `json:"postgres"`
	Queue              bool   `json:"queue"`
	OpenAIClient       bool   `json:"openaiClient"`
}

// safe texts served when a handler panics
const (
	safeReply = "ごめんね、いまうまく答えられなかった。少し時間をおいてもう一度話しかけてね。"
	safeStep  = "少し時間をおいて、もう一度質問してみてね"
	safeTip   = "まずは5分だけ、机に向かってみよう。"
)

type HomeroomHandler struct {
	svc    *application.HomeroomService
	info   Info
	diag   Diag
	logger *zap.Logger
	now    func() time.Time
}

func NewHomeroomHandler(svc *application.HomeroomService, info Info, diag Diag, logger *zap.Logger) *HomeroomHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HomeroomHandler{svc: svc, info: info, diag: diag, logger: logger, now: time.Now}
}

func (h *HomeroomHandler) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Health)
	r.GET("/teachers", h.Teachers)
	r.GET("/diag", h.Diag)
	r.GET("/daily_phrase", h.DailyPhrase)
	r.GET("/daily_tip", h.DailyTip)
	r.POST("/consult", h.Consult)
	r.POST("/question", h.Question)
	r.POST("/explain", h.Question)
	r.POST("/todo/coach", h.Coach)
}

func (h *HomeroomHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.info.Service,
		"version": h.info.Version,
		"time":    h.now().Unix(),
	})
}

func (h *HomeroomHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type teacherView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Subject     string `json:"subject"`
	Color       string `json:"color"`
	ImageName   string `json:"imageName"`
}

func (h *HomeroomHandler) Teachers(c *gin.Context) {
	personas := h.svc.Personas().List()
	out := make([]teacherView, 0, len(personas))
	for _, p := range personas {
		out = append(out, teacherView{
			ID:          p.Key,
			DisplayName: p.DisplayName,
			Subject:     p.Subject,
			Color:       p.Color,
			ImageName:   p.ImageName,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *HomeroomHandler) Diag(c *gin.Context) {
	c.JSON(http.StatusOK, h.diag)
}

func (h *HomeroomHandler) Consult(c *gin.Context) {
	defer h.guard(c, "consult", gin.H{"reply": safeReply})

	b, ok := h.bind(c)
	if !ok {
		return
	}
	text := b.str(textKeys...)
	if strings.TrimSpace(text) == "" {
		badRequest(c, "text is required", "send the message under text, message or content")
		return
	}
	history, err := b.history()
	if err != nil {
		badRequest(c, "invalid history", err.Error())
		return
	}
	profile, err := b.profile()
	if err != nil {
		badRequest(c, "invalid profile", err.Error())
		return
	}

	reply, err := h.svc.Consult(c.Request.Context(), application.ConsultInput{
		Text:    text,
		Teacher: b.str(teacherKeys...),
		History: history,
		Profile: profile,
		Client:  clientKey(c),
	})
	if h.failed(c, err) {
		return
	}
	resp := gin.H{"reply": reply.Text}
	h.debug(c, resp, reply)
	c.JSON(http.StatusOK, resp)
}

func (h *HomeroomHandler) Question(c *gin.Context) {
	defer h.guard(c, "question", gin.H{"steps": []string{safeStep}})

	b, ok := h.bind(c)
	if !ok {
		return
	}
	question := b.str(questionKeys...)
	if strings.TrimSpace(question) == "" {
		badRequest(c, "question is required", "send the question under question, text or problem")
		return
	}
	img, err := b.image()
	if err != nil {
		badRequest(c, "invalid image", err.Error())
		return
	}
	profile, err := b.profile()
	if err != nil {
		badRequest(c, "invalid profile", err.Error())
		return
	}

	reply, err := h.svc.Explain(c.Request.Context(), application.QuestionInput{
		Question: question,
		Subject:  b.str("subject"),
		Teacher:  b.str(teacherKeys...),
		Image:    img,
		Profile:  profile,
		Client:   clientKey(c),
	})
	if h.failed(c, err) {
		return
	}
	resp := gin.H{"steps": reply.Steps}
	h.debug(c, resp, reply)
	c.JSON(http.StatusOK, resp)
}

func (h *HomeroomHandler) Coach(c *gin.Context) {
	defer h.guard(c, "coach", gin.H{"tip": safeTip})

	b, ok := h.bind(c)
	if !ok {
		return
	}
	tasks, err := b.pending("tasks")
	if err != nil {
		badRequest(c, "invalid tasks", err.Error())
		return
	}
	routineItems, err := b.pending("routines")
	if err != nil {
		badRequest(c, "invalid routines", err.Error())
		return
	}
	routines := make([]string, 0, len(routineItems))
	for _, r := range routineItems {
		routines = append(routines, r.Title)
	}

	reply, err := h.svc.Coach(c.Request.Context(), application.CoachInput{
		Teacher:  b.str(teacherKeys...),
		Tasks:    tasks,
		Routines: routines,
		Client:   clientKey(c),
	})
	if h.failed(c, err) {
		return
	}
	resp := gin.H{"tip": reply.Text}
	h.debug(c, resp, reply)
	c.JSON(http.StatusOK, resp)
}

func (h *HomeroomHandler) DailyPhrase(c *gin.Context) {
	defer h.guard(c, "daily_phrase", gin.H{"phrase": safeTip})

	reply, err := h.svc.DailyPhrase(c.Request.Context(), teacherQuery(c), c.Query("topic"), clientKey(c))
	if h.failed(c, err) {
		return
	}
	resp := gin.H{"phrase": reply.Text}
	h.debug(c, resp, reply)
	c.JSON(http.StatusOK, resp)
}

func (h *HomeroomHandler) DailyTip(c *gin.Context) {
	defer h.guard(c, "daily_tip", gin.H{"tip": safeTip})

	reply, err := h.svc.DailyTip(c.Request.Context(), teacherQuery(c), c.Query("topic"), clientKey(c))
	if h.failed(c, err) {
		return
	}
	resp := gin.H{"tip": reply.Text}
	h.debug(c, resp, reply)
	c.JSON(http.StatusOK, resp)
}

func (h *HomeroomHandler) bind(c *gin.Context) (body, bool) {
	var b body
	if err := c.ShouldBindJSON(&b); err != nil {
		badRequest(c, "invalid JSON body", err.Error())
		return nil, false
	}
	if b == nil {
		b = body{}
	}
	return b, true
}

// failed writes the error response for use case errors. Validation errors
// map to 400; anything else is unexpected.
func (h *HomeroomHandler) failed(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, application.ErrEmptyText), errors.Is(err, application.ErrNoTasks):
		badRequest(c, err.Error(), "")
	default:
		h.logger.Error("use case failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
	return true
}

// debug adds diagnostics when the caller asked for them with ?debug=1.
func (h *HomeroomHandler) debug(c *gin.Context, resp gin.H, r *application.Reply) {
	switch c.Query("debug") {
	case "1", "true", "yes":
	default:
		return
	}
	resp["source"] = r.Source
	resp["persona"] = r.Persona
	if r.Via != "" {
		resp["via"] = r.Via
	}
	resp["exchangeId"] = r.ExchangeID
	if r.Cached {
		resp["cached"] = true
	}
	if r.Degraded != "" {
		resp["error"] = r.Degraded
	}
}

// guard keeps a panic in one endpoint from reaching the client as a 500.
func (h *HomeroomHandler) guard(c *gin.Context, endpoint string, safe gin.H) {
	if rec := recover(); rec != nil {
		h.logger.Error("handler panic",
			zap.String("endpoint", endpoint),
			zap.Any("panic", rec),
			zap.Stack("stack"))
		if !c.Writer.Written() {
			c.JSON(http.StatusOK, safe)
		}
	}
}

func badRequest(c *gin.Context, msg, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "detail": detail})
}

func teacherQuery(c *gin.Context) string {
	for _, k := range teacherKeys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func clientKey(c *gin.Context) string {
	return store.ClientKey(c.ClientIP(), c.Request.UserAgent())
}
