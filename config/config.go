package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config 是 hitlflow 服务的完整配置.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	JWT       JWTConfig       `yaml:"jwt" env:"JWT"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// APIKeys 为空且未配置 JWT 时不启用鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// CORSAllowedOrigins 允许跨域的来源，websocket 握手同样使用
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	TLSCertFile        string   `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile         string   `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// StoreConfig 状态存储配置
type StoreConfig struct {
	// Type: memory, file, redis, sql, mongo
	Type string `yaml:"type" env:"TYPE"`
	// BaseDir file 后端的数据目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// KeyPrefix Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// AutoMigrate sql 后端启动时自动建表，生产环境使用 hitlflow migrate
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// ThreadTTL 大于 0 时定期清理超过该时长的已完成线程
	ThreadTTL       time.Duration `yaml:"thread_ttl" env:"THREAD_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
	// TLS 启用时以 addr 的主机名校验证书
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// Name 数据库名，sqlite 为文件路径
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI      string `yaml:"uri" env:"URI"`
	Database string `yaml:"database" env:"DATABASE"`
}

// LLMConfig 模型端口配置
type LLMConfig struct {
	// Provider 预设名称 (openai, deepseek, qwen, ...)，或配合 BaseURL 的任意名称
	Provider string `yaml:"provider" env:"PROVIDER"`
	APIKey   string `yaml:"api_key" env:"API_KEY"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL"`
	// Model 为空时使用预设默认模型
	Model       string        `yaml:"model" env:"MODEL"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// MaxRetries 端口级重试次数，0 关闭重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// RequestsPerSecond 对上游的本地限流，0 不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// BreakerThreshold 连续上游失败多少次后熔断，0 关闭熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
}

// WorkflowConfig 工作流与偏好记忆配置
type WorkflowConfig struct {
	// MaxSteps 单次调用内的节点执行上限
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// Background 注入分诊与动作提示词的用户背景，为空使用内置默认
	Background string `yaml:"background" env:"BACKGROUND"`
	// MemoryMode: sync, async
	MemoryMode      string        `yaml:"memory_mode" env:"MEMORY_MODE"`
	MemoryWorkers   int           `yaml:"memory_workers" env:"MEMORY_WORKERS"`
	MemoryQueueSize int           `yaml:"memory_queue_size" env:"MEMORY_QUEUE_SIZE"`
	MemoryTimeout   time.Duration `yaml:"memory_timeout" env:"MEMORY_TIMEOUT"`
	StrictPreserve  bool          `yaml:"strict_preserve" env:"STRICT_PRESERVE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// JWTConfig Bearer 令牌校验. Secret 为空时不启用 JWT.
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// RateLimitConfig 按客户端 IP 的令牌桶
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	RPS     float64 `yaml:"rps" env:"RPS"`
	Burst   int     `yaml:"burst" env:"BURST"`
}

var (
	validStoreTypes  = []string{"memory", "file", "redis", "sql", "mongo"}
	validDBDrivers   = []string{"postgres", "mysql", "sqlite"}
	validMemoryModes = []string{"sync", "async"}
)

// Validate 检查配置的一致性，返回合并后的全部错误.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port %d out of range", c.Server.MetricsPort))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if !oneOf(c.Store.Type, validStoreTypes) {
		errs = append(errs, fmt.Errorf("store.type %q must be one of %v", c.Store.Type, validStoreTypes))
	}
	if c.Store.Type == "sql" && !oneOf(c.Database.Driver, validDBDrivers) {
		errs = append(errs, fmt.Errorf("database.driver %q must be one of %v", c.Database.Driver, validDBDrivers))
	}
	if c.Store.ThreadTTL < 0 {
		errs = append(errs, errors.New("store.thread_ttl must not be negative"))
	}
	if c.Store.ThreadTTL > 0 && c.Store.CleanupInterval <= 0 {
		errs = append(errs, errors.New("store.cleanup_interval must be positive when thread_ttl is set"))
	}
	if c.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("llm.base_url %q is not an absolute URL", c.LLM.BaseURL))
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("llm.temperature must be between 0 and 2"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Workflow.MaxSteps <= 0 {
		errs = append(errs, errors.New("workflow.max_steps must be positive"))
	}
	if !oneOf(c.Workflow.MemoryMode, validMemoryModes) {
		errs = append(errs, fmt.Errorf("workflow.memory_mode %q must be one of %v", c.Workflow.MemoryMode, validMemoryModes))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// AuthEnabled 是否配置了任一鉴权方式
func (c *Config) AuthEnabled() bool {
	return c.JWT.Secret != "" || len(c.Server.APIKeys) > 0
}

// DSN 返回 GORM 连接字符串
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// Redacted 返回隐藏凭据后的副本，用于日志与诊断输出.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Redis.Password = mask(c.Redis.Password)
	c.Database.Password = mask(c.Database.Password)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.JWT.Secret = mask(c.JWT.Secret)
	if u, err := url.Parse(c.Mongo.URI); err == nil && u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
		c.Mongo.URI = u.String()
	}
	if len(c.Server.APIKeys) > 0 {
		keys := make([]string, len(c.Server.APIKeys))
		for i := range keys {
			keys[i] = "***"
		}
		c.Server.APIKeys = keys
	}
	return c
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
