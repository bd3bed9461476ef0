package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homeroom/config"
	"homeroom/infra/cache"
	"homeroom/infra/database"
	"homeroom/infra/queue"
	"homeroom/infra/registry"
	"homeroom/services/homeroom/internal/application"
	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/handler"
	"homeroom/services/homeroom/internal/llm"
	"homeroom/services/homeroom/internal/middleware"
	"homeroom/services/homeroom/internal/persona"
	"homeroom/services/homeroom/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// app holds the wired service and whatever must be released on exit.
type app struct {
	svc     *application.HomeroomService
	diag    handler.Diag
	redis   *redis.Client
	closers []func() error
	gateway llm.Gateway
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("release resource", zap.Error(err))
		}
	}
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKeys:     c.Keys.Map(),
		Temperature: float32(c.Temperature),
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
		MaxRetries:  c.MaxRetries,
		RetryDelay:  c.RetryDelay,
		Fake:        c.Fake,
	}
}

// newGateway picks the fake gateway or a provider client.
func newGateway() (llm.Gateway, llm.Endpoint) {
	lc := llmConfig(cfg.LLM)
	ep := llm.ResolveEndpoint(lc)
	if lc.Fake {
		logger.Info("using fake llm gateway")
		return llm.NewFake(), ep
	}
	if !ep.Configured() {
		logger.Warn("llm provider has no API key, every reply will be a fallback",
			zap.String("provider", ep.Provider.Name),
			zap.String("env", ep.Provider.KeyEnv))
	}
	return llm.NewClient(ep, lc.RetryDelay, nil, logger), ep
}

// buildApp wires the optional backends. Redis, Postgres and RocketMQ are
// each skipped with a warning when they cannot be reached.
func buildApp() (*app, error) {
	gw, ep := newGateway()
	a := &app{gateway: gw}
	a.diag = handler.Diag{
		Provider:           ep.Provider.Name,
		ProviderConfigured: ep.Configured(),
		Model:              ep.Model,
		Fake:               cfg.LLM.Fake,
		History:            cfg.History.Backend,
		OpenAIClient:       ep.Configured() && !cfg.LLM.Fake,
	}

	opts := []application.Option{application.WithLogger(logger)}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			if cfg.History.Backend == "redis" {
				return nil, fmt.Errorf("redis history: %w", err)
			}
			logger.Warn("redis unavailable, daily texts will not be shared", zap.Error(err))
		} else {
			a.redis = client
			a.diag.Redis = true
			phrases := cache.NewRedisCache(client, cfg.Redis.Prefix, cache.OptionsFrom(cfg.Redis))
			a.closers = append(a.closers, phrases.Close)
			opts = append(opts, application.WithPhraseCache(phrases))
		}
	}

	switch {
	case cfg.History.Backend == "redis" && a.redis != nil:
		opts = append(opts, application.WithHistory(
			store.NewRedisHistory(a.redis, cfg.Redis.Prefix, cfg.History.MaxMessages, cfg.History.TTL)))
	default:
		opts = append(opts, application.WithHistory(
			store.NewMemoryHistory(cfg.History.MaxKeys, cfg.History.MaxMessages)))
	}

	var recorders []domain.Recorder
	if cfg.Postgres.Enabled {
		db, err := database.NewPostgresDB(cfg.Postgres, logger)
		if err != nil {
			logger.Warn("postgres unavailable, transcripts will not be archived", zap.Error(err))
		} else if err := db.Migrate(&store.Transcript{}); err != nil {
			logger.Warn("transcript migration failed", zap.Error(err))
			_ = db.Close()
		} else {
			a.diag.Postgres = true
			a.closers = append(a.closers, db.Close)
			recorders = append(recorders, store.NewTranscriptRepository(db.DB))
		}
	}
	if cfg.RocketMQ.Enabled {
		producer, err := queue.NewProducer(cfg.RocketMQ.NameServers, cfg.RocketMQ.GroupName, cfg.RocketMQ.MaxRetries)
		if err != nil {
			logger.Warn("rocketmq unavailable, exchange events will not be published", zap.Error(err))
		} else {
			a.diag.Queue = true
			a.closers = append(a.closers, producer.Stop)
			recorders = append(recorders, store.NewEventRecorder(producer, cfg.RocketMQ.Topic))
		}
	}
	if len(recorders) > 0 {
		opts = append(opts, application.WithRecorder(store.NewMultiRecorder(recorders...)))
	}

	a.svc = application.NewHomeroomService(persona.Default(), gw, application.Settings{
		Model:       ep.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, opts...)
	return a, nil
}

func newRouter(a *app) (*gin.Engine, error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	r.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.RequestLog(logger),
		middleware.CORS(cfg.Server.CORSOrigins),
	)
	if cfg.RateLimit.Enabled {
		var limiter middleware.Limiter
		if a.redis != nil {
			limiter = middleware.NewRedisLimiter(a.redis, cfg.Redis.Prefix, cfg.RateLimit.QPS, cfg.RateLimit.Burst)
		} else {
			limiter = middleware.NewLocalLimiter(cfg.RateLimit.QPS, cfg.RateLimit.Burst, cfg.RateLimit.MaxClients)
		}
		r.Use(middleware.RateLimit(limiter, logger))
	}

	h := handler.NewHomeroomHandler(a.svc, handler.Info{
		Service: cfg.ServiceName,
		Version: cfg.Version,
	}, a.diag, logger)
	h.Register(r.Group(cfg.BasePath()))
	return r, nil
}

// register announces the server to consul and returns the deregistration.
func register() (func(), error) {
	reg, err := registry.NewConsulRegistry(&registry.ConsulConfig{
		Address:    cfg.Consul.Address,
		Scheme:     cfg.Consul.Scheme,
		Datacenter: cfg.Consul.Datacenter,
	}, logger)
	if err != nil {
		return nil, err
	}
	addr := cfg.Consul.ServiceAddress
	if addr == "" {
		if addr, err = registry.LocalIP(); err != nil {
			return nil, fmt.Errorf("resolve local ip: %w", err)
		}
	}
	port := cfg.Server.Port
	id := registry.ServiceID(cfg.ServiceName, addr, port)
	err = reg.Register(&registry.ServiceConfig{
		ID:      id,
		Name:    cfg.ServiceName,
		Tags:    cfg.Consul.Tags,
		Address: addr,
		Port:    port,
		HealthCheck: &registry.HealthCheck{
			HTTP:                           fmt.Sprintf("http://%s%s/health", net.JoinHostPort(addr, fmt.Sprint(port)), cfg.BasePath()),
			Interval:                       cfg.Consul.CheckInterval,
			Timeout:                        3 * time.Second,
			DeregisterCriticalServiceAfter: time.Minute,
		},
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := reg.Deregister(id); err != nil {
			logger.Warn("consul deregister", zap.String("id", id), zap.Error(err))
		}
	}, nil
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	router, err := newRouter(a)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("homeroom listening",
			zap.String("addr", srv.Addr),
			zap.String("base_path", cfg.BasePath()),
			zap.String("provider", a.diag.Provider),
			zap.Bool("fake", a.diag.Fake))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.Consul.Enabled {
		deregister, err := register()
		if err != nil {
			logger.Warn("consul registration failed", zap.Error(err))
		} else {
			defer deregister()
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown", zap.Error(err))
	}
	a.svc.Wait()
	return nil
}
