package rag

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/webmem/config"
	"github.com/BaSui01/webmem/embedding"
	"github.com/BaSui01/webmem/internal/metrics"
	"github.com/BaSui01/webmem/types"
)

// FactoryOptions 工厂的非配置项依赖注入.
type FactoryOptions struct {
	// Logger 为空时按 cfg.Log.Level 构建生产日志器
	Logger *zap.Logger
	// Registerer 为空时使用 prometheus 默认 registry
	Registerer prometheus.Registerer
	// DisableMetrics 关闭指标采集（嵌入式调用方不需要时）
	DisableMetrics bool
}

// NewEngineFromConfig 按配置一键装配引擎：存储、嵌入提供者、
// 分词器与指标采集全部由配置决定。
func NewEngineFromConfig(ctx context.Context, cfg *config.Config, opts FactoryOptions) (*Engine, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = buildLogger(cfg.Log.Level)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "failed to build logger").WithCause(err)
		}
	}

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var collector *metrics.Collector
	if !opts.DisableMetrics {
		collector = metrics.NewCollector("webmem", opts.Registerer, logger)
	}

	return NewEngine(EngineConfig{
		Store:     store,
		Embedder:  embedder,
		Chunking:  ChunkerConfig{TargetTokens: cfg.Chunking.TargetTokens},
		Tokenizer: buildTokenizer(cfg.Chunking.Tokenizer, logger),
		Retrieval: RetrieverConfig{
			TopK:                cfg.Retrieval.TopK,
			CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		},
		Collector: collector,
		Logger:    logger,
	})
}

// buildLogger 按级别构建生产日志器.
func buildLogger(level string) (*zap.Logger, error) {
	zapLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zapLevel
	return zapConfig.Build()
}

// buildStore 按生命周期策略构建存储.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	maxSnapshots := 0
	if cfg.Retention.Policy == config.RetentionMaxSnapshots {
		maxSnapshots = cfg.Retention.MaxSnapshots
	}

	switch cfg.Store.Scope {
	case config.ScopeSession:
		return NewMemoryStore(MemoryStoreConfig{MaxSnapshots: maxSnapshots}, logger), nil

	case config.ScopeDurable:
		return NewSQLiteStore(SQLiteStoreConfig{
			Path:         cfg.Store.Path,
			MaxSnapshots: maxSnapshots,
		}, logger)

	case config.ScopeRedis:
		return NewRedisStore(ctx, RedisStoreConfig{
			Addr:         cfg.Store.Redis.Addr,
			Password:     cfg.Store.Redis.Password,
			DB:           cfg.Store.Redis.DB,
			DialTimeout:  cfg.Store.Redis.DialTimeout,
			MaxSnapshots: maxSnapshots,
		}, logger)

	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			"unknown store scope "+string(cfg.Store.Scope))
	}
}

// buildEmbedder 按提供者配置构建嵌入提供者.
func buildEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Provider, error) {
	switch cfg.Embedding.Provider {
	case "hash":
		return embedding.NewHashProvider(cfg.Embedding.Dimensions, logger), nil

	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:            cfg.Embedding.APIKey,
			Model:             cfg.Embedding.Model,
			BaseURL:           cfg.Embedding.BaseURL,
			Timeout:           cfg.Embedding.Timeout,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		}, logger)

	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			"unknown embedding provider "+cfg.Embedding.Provider)
	}
}

// buildTokenizer 按名称构建分词器，estimator 之外的值按 tiktoken 模型名处理.
func buildTokenizer(name string, logger *zap.Logger) Tokenizer {
	if name == "" || name == "estimator" {
		return NewEstimatorTokenizer()
	}
	return NewTiktokenTokenizer(name, logger)
}
