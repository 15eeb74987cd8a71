// =============================================================================
// 📦 WebMem 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("webmem.yaml").
//	    WithEnvPrefix("WEBMEM").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/webmem/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 WebMem 引擎的完整配置结构
type Config struct {
	// Store 存储配置（会话级 / 持久化 / Redis）
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Embedding 嵌入提供者配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Chunking 分块配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Retention 快照保留策略
	Retention RetentionConfig `yaml:"retention" env:"RETENTION"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// StoreScope 存储生命周期策略
type StoreScope string

const (
	// ScopeSession 进程内会话级存储，进程退出即失效
	ScopeSession StoreScope = "session"
	// ScopeDurable SQLite 持久化存储，跨会话保留
	ScopeDurable StoreScope = "durable"
	// ScopeRedis Redis 外部会话存储
	ScopeRedis StoreScope = "redis"
)

// StoreConfig 存储配置
type StoreConfig struct {
	// 生命周期策略: session | durable | redis
	Scope StoreScope `yaml:"scope" env:"SCOPE"`
	// 持久化存储路径（scope=durable 时生效）
	Path string `yaml:"path" env:"PATH"`
	// Redis 配置（scope=redis 时生效）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// EmbeddingConfig 嵌入提供者配置
type EmbeddingConfig struct {
	// 提供者: hash | openai
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 向量维度（hash 提供者使用；openai 由模型决定）
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 模型名称（openai 提供者使用）
	Model string `yaml:"model" env:"MODEL"`
	// API Key（openai 提供者使用）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// API 基地址覆盖（代理 / 测试用）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 客户端限流（每秒请求数，0 表示不限流）
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 默认返回的页面数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// chunk 候选过采样倍数（一个快照会产生多个 chunk，
	// 需要过采样才能保证聚合后仍有 TopK 个快照）
	CandidateMultiplier int `yaml:"candidate_multiplier" env:"CANDIDATE_MULTIPLIER"`
}

// ChunkingConfig 分块配置
type ChunkingConfig struct {
	// 单个 chunk 的目标 token 数上限
	TargetTokens int `yaml:"target_tokens" env:"TARGET_TOKENS"`
	// tokenizer: estimator 或 tiktoken 模型名（如 gpt-4o）
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
}

// RetentionPolicy 快照保留策略。
// 原始设计未定义淘汰策略，此处作为显式配置项暴露而非猜测默认值。
type RetentionPolicy string

const (
	// RetentionNone 不自动淘汰，只能显式 purge
	RetentionNone RetentionPolicy = "none"
	// RetentionMaxSnapshots 超过上限时淘汰最旧快照
	RetentionMaxSnapshots RetentionPolicy = "max-snapshots"
)

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	// 策略: none | max-snapshots
	Policy RetentionPolicy `yaml:"policy" env:"POLICY"`
	// 快照数量上限（policy=max-snapshots 时生效）
	MaxSnapshots int `yaml:"max_snapshots" env:"MAX_SNAPSHOTS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug | info | warn | error
	Level string `yaml:"level" env:"LEVEL"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "WEBMEM"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置。文件不存在时静默使用默认值。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 按字段类型解析并设置环境变量值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", value, err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", value, err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// =============================================================================
// ✅ 配置验证
// =============================================================================

// Validate 验证配置的完整性与一致性
func (c *Config) Validate() error {
	switch c.Store.Scope {
	case ScopeSession, ScopeDurable, ScopeRedis:
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown store scope %q", c.Store.Scope))
	}
	if c.Store.Scope == ScopeDurable && c.Store.Path == "" {
		return types.NewError(types.ErrInvalidConfig, "durable store requires store.path")
	}
	if c.Store.Scope == ScopeRedis && c.Store.Redis.Addr == "" {
		return types.NewError(types.ErrInvalidConfig, "redis store requires store.redis.addr")
	}

	switch c.Embedding.Provider {
	case "hash", "openai":
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "hash" && c.Embedding.Dimensions <= 0 {
		return types.NewError(types.ErrInvalidConfig, "hash provider requires embedding.dimensions > 0")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return types.NewError(types.ErrInvalidConfig, "openai provider requires embedding.api_key")
	}

	if c.Retrieval.TopK <= 0 {
		return types.NewError(types.ErrInvalidConfig, "retrieval.top_k must be positive")
	}
	if c.Retrieval.CandidateMultiplier <= 0 {
		return types.NewError(types.ErrInvalidConfig, "retrieval.candidate_multiplier must be positive")
	}
	if c.Chunking.TargetTokens <= 0 {
		return types.NewError(types.ErrInvalidConfig, "chunking.target_tokens must be positive")
	}

	switch c.Retention.Policy {
	case RetentionNone:
	case RetentionMaxSnapshots:
		if c.Retention.MaxSnapshots <= 0 {
			return types.NewError(types.ErrInvalidConfig,
				"retention policy max-snapshots requires retention.max_snapshots > 0")
		}
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown retention policy %q", c.Retention.Policy))
	}

	return nil
}
