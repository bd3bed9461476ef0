package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPath = "config/config.yml"
	PathEnv     = "HOMEROOM_CONFIG"
)

type AppConfig struct {
	ServiceName string          `mapstructure:"service_name" yaml:"service_name"`
	Version     string          `mapstructure:"version" yaml:"version"`
	Environment string          `mapstructure:"environment" yaml:"environment"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	LLM         LLMConfig       `mapstructure:"llm" yaml:"llm"`
	History     HistoryConfig   `mapstructure:"history" yaml:"history"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Redis       RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Postgres    PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Consul      ConsulConfig    `mapstructure:"consul" yaml:"consul"`
	RocketMQ    RocketMQConfig  `mapstructure:"rocketmq" yaml:"rocketmq"`
	Log         LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	BasePath        string        `mapstructure:"base_path" yaml:"base_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	// TrustedProxies lists the CIDRs allowed to set X-Forwarded-For. Empty
	// means the socket address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Fake        bool          `mapstructure:"fake" yaml:"fake"`
	Keys        ProviderKeys  `mapstructure:"keys" yaml:"keys"`
}

// ProviderKeys are read from the environment only; config files should
// leave them empty.
type ProviderKeys struct {
	OpenAI     string `mapstructure:"openai" yaml:"openai"`
	OpenRouter string `mapstructure:"openrouter" yaml:"openrouter"`
	Gemini     string `mapstructure:"gemini" yaml:"gemini"`
	DeepSeek   string `mapstructure:"deepseek" yaml:"deepseek"`
}

func (k ProviderKeys) Map() map[string]string {
	return map[string]string{
		"openai":     k.OpenAI,
		"openrouter": k.OpenRouter,
		"gemini":     k.Gemini,
		"deepseek":   k.DeepSeek,
	}
}

type HistoryConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"` // memory | redis
	MaxKeys     int           `mapstructure:"max_keys" yaml:"max_keys"`
	MaxMessages int           `mapstructure:"max_messages" yaml:"max_messages"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	QPS        int  `mapstructure:"qps" yaml:"qps"`
	Burst      int  `mapstructure:"burst" yaml:"burst"`
	MaxClients int  `mapstructure:"max_clients" yaml:"max_clients"`
}

type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Address         string        `mapstructure:"address" yaml:"address"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        int           `mapstructure:"database" yaml:"database"`
	Prefix          string        `mapstructure:"prefix" yaml:"prefix"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	PoolSize        int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheJitterSec  int           `mapstructure:"cache_jitter_sec" yaml:"cache_jitter_sec"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	LockMaxAttempts int           `mapstructure:"lock_max_attempts" yaml:"lock_max_attempts"`
	LockBackoff     time.Duration `mapstructure:"lock_backoff" yaml:"lock_backoff"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Address, r.Port)
}

type PostgresConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Address  string        `mapstructure:"address" yaml:"address"`
	Port     int           `mapstructure:"port" yaml:"port"`
	User     string        `mapstructure:"user" yaml:"user"`
	Password string        `mapstructure:"password" yaml:"password"`
	DBName   string        `mapstructure:"db_name" yaml:"db_name"`
	TimeZone string        `mapstructure:"time_zone" yaml:"time_zone"`
	MaxIdle  int           `mapstructure:"max_idle" yaml:"max_idle"`
	MaxOpen  int           `mapstructure:"max_open" yaml:"max_open"`
	MaxLife  time.Duration `mapstructure:"max_life" yaml:"max_life"`
}

type ConsulConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Address        string        `mapstructure:"address" yaml:"address"`
	Scheme         string        `mapstructure:"scheme" yaml:"scheme"`
	Datacenter     string        `mapstructure:"datacenter" yaml:"datacenter"`
	ServiceAddress string        `mapstructure:"service_address" yaml:"service_address"`
	CheckInterval  time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	Tags           []string      `mapstructure:"tags" yaml:"tags"`
}

type RocketMQConfig struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
	NameServers []string `mapstructure:"name_servers" yaml:"name_servers"`
	MaxRetries  int      `mapstructure:"max_retries" yaml:"max_retries"`
	GroupName   string   `mapstructure:"group_name" yaml:"group_name"`
	Topic       string   `mapstructure:"topic" yaml:"topic"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "homeroom")
	v.SetDefault("version", "0.1.0")
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 400)
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay", 500*time.Millisecond)
	v.SetDefault("llm.fake", false)
	v.SetDefault("llm.keys.openai", "")
	v.SetDefault("llm.keys.openrouter", "")
	v.SetDefault("llm.keys.gemini", "")
	v.SetDefault("llm.keys.deepseek", "")

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.max_keys", 1024)
	v.SetDefault("history.max_messages", 20)
	v.SetDefault("history.ttl", 24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.qps", 5)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.max_clients", 4096)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "homeroom:")
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)
	v.SetDefault("redis.max_retries", 2)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.cache_ttl", 6*time.Hour)
	v.SetDefault("redis.cache_jitter_sec", 600)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.lock_max_attempts", 5)
	v.SetDefault("redis.lock_backoff", 50*time.Millisecond)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.address", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "homeroom")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db_name", "homeroom")
	v.SetDefault("postgres.time_zone", "Asia/Tokyo")
	v.SetDefault("postgres.max_idle", 5)
	v.SetDefault("postgres.max_open", 20)
	v.SetDefault("postgres.max_life", 5*time.Minute)

	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.address", "localhost:8500")
	v.SetDefault("consul.scheme", "http")
	v.SetDefault("consul.datacenter", "")
	v.SetDefault("consul.service_address", "")
	v.SetDefault("consul.check_interval", 10*time.Second)
	v.SetDefault("consul.tags", []string{"homeroom", "http"})

	v.SetDefault("rocketmq.enabled", false)
	v.SetDefault("rocketmq.name_servers", []string{"127.0.0.1:9876"})
	v.SetDefault("rocketmq.max_retries", 2)
	v.SetDefault("rocketmq.group_name", "homeroom_producer")
	v.SetDefault("rocketmq.topic", "homeroom_exchange")

	v.SetDefault("log.level", "info")
}

// legacy environment names that do not follow the key replacer
var envAliases = map[string][]string{
	"llm.keys.openai":     {"OPENAI_API_KEY"},
	"llm.keys.openrouter": {"OPENROUTER_API_KEY"},
	"llm.keys.gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"llm.keys.deepseek":   {"DEEPSEEK_API_KEY"},
	"llm.model":           {"LLM_MODEL", "OPENAI_MODEL"},
	"llm.fake":            {"USE_FAKE_LLM", "LLM_FAKE"},
	"server.port":         {"PORT", "SERVER_PORT"},
	"environment":         {"APP_ENV", "ENVIRONMENT"},
}

// LoadConfig reads path (or $HOMEROOM_CONFIG, or config/config.yml) and
// overlays the environment. A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	var config AppConfig

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return &config, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return &config, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&config); err != nil {
		return &config, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return &config, err
	}
	return &config, nil
}

func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("history.backend must be memory or redis, got %q", c.History.Backend)
	}
	if c.History.Backend == "redis" && !c.Redis.Enabled {
		return errors.New("history.backend redis requires redis.enabled")
	}
	if c.History.MaxMessages < 1 || c.History.MaxKeys < 1 {
		return errors.New("history.max_messages and history.max_keys must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative: %d", c.LLM.MaxRetries)
	}
	if c.BasePath() != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /: %q", c.Server.BasePath)
	}
	return nil
}

// BasePath is the route prefix without a trailing slash.
func (c *AppConfig) BasePath() string {
	return strings.TrimRight(c.Server.BasePath, "/")
}

func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development" || c.Environment == "dev"
}
