package embedding

import (
	"context"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/webmem/types"
)

// OpenAIConfig OpenAI 嵌入提供者配置.
type OpenAIConfig struct {
	APIKey string
	// 模型名称，默认 text-embedding-3-small
	Model string
	// 基地址覆盖（代理 / 测试用）
	BaseURL string
	// 单次调用超时，默认 30s
	Timeout time.Duration
	// 客户端限流（每秒请求数，0 表示不限流）
	RequestsPerSecond float64
}

// OpenAIProvider 基于 OpenAI Embeddings API 的远程提供者.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// modelDimensions 已知模型的输出维度.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewOpenAIProvider 创建 OpenAI 嵌入提供者.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "openai embedding provider requires an API key")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims, ok := modelDimensions[model]
	if !ok {
		dims = 1536
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dims,
		timeout:    timeout,
		limiter:    limiter,
		logger:     logger.With(zap.String("component", "embedding_openai")),
	}, nil
}

func (p *OpenAIProvider) Name() string    { return "openai/" + p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// Embed 为单个文本生成嵌入.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 单次 API 调用嵌入多个文本，输出顺序与输入一致.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	for _, text := range texts {
		if err := validateInput(text); err != nil {
			return nil, err
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrEmbedding, "rate limit wait aborted").WithCause(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		p.logger.Warn("embedding request failed", zap.Int("inputs", len(texts)), zap.Error(err))
		return nil, types.NewError(types.ErrEmbedding, "openai embedding request failed").
			WithRetryable(true).WithCause(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewError(types.ErrEmbedding, "openai returned wrong number of embeddings")
	}

	result := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(result) {
			return nil, types.NewError(types.ErrEmbedding, "openai returned out-of-range embedding index")
		}
		vec := make([]float64, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float64(v)
		}
		result[data.Index] = vec
	}
	return result, nil
}
