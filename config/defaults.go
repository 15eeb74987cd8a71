package config

import "time"

// Default 返回默认配置。
// 默认为会话级内存存储 + 本地 hash 嵌入，开箱即用且不依赖外部服务。
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Scope: ScopeSession,
			Path:  "webmem.db",
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				DB:          0,
				DialTimeout: 5 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:          "hash",
			Dimensions:        384,
			Model:             "text-embedding-3-small",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 0,
		},
		Retrieval: RetrievalConfig{
			TopK:                3,
			CandidateMultiplier: 6,
		},
		Chunking: ChunkingConfig{
			TargetTokens: 250,
			Tokenizer:    "estimator",
		},
		Retention: RetentionConfig{
			Policy:       RetentionNone,
			MaxSnapshots: 0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
