package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// HashProvider 基于特征哈希的本地嵌入提供者.
//
// 将文本切分为小写词元，对 unigram 和 bigram 做 FNV-1a 哈希投影到
// 固定维度的桶中（符号位取自哈希高位），最后做 L2 归一化。
// 完全进程内、确定性，无外部依赖，是会话级部署的默认提供者。
// 共享词元的文本余弦相似度高于无关文本，足以支撑同域页面检索。
type HashProvider struct {
	dimensions int
	logger     *zap.Logger
}

// NewHashProvider 创建 hash 嵌入提供者. dimensions <= 0 时取 384.
func NewHashProvider(dimensions int, logger *zap.Logger) *HashProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HashProvider{
		dimensions: dimensions,
		logger:     logger.With(zap.String("component", "embedding_hash")),
	}
}

func (p *HashProvider) Name() string    { return "hash" }
func (p *HashProvider) Dimensions() int { return p.dimensions }

// Embed 为单个文本生成嵌入.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateInput(text); err != nil {
		return nil, err
	}

	vec := make([]float64, p.dimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		addFeature(vec, tok)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1])
		}
	}

	l2Normalize(vec)
	return vec, nil
}

// EmbedBatch 逐条嵌入，保持输入顺序.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

// addFeature 将一个特征投影到向量桶中.
func addFeature(vec []float64, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(len(vec)))
	// 高位决定符号，避免所有特征同向累积
	if sum>>63 == 0 {
		vec[bucket] += 1.0
	} else {
		vec[bucket] -= 1.0
	}
}

// tokenize 小写化并按非字母数字切分.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// l2Normalize 就地 L2 归一化.
func l2Normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] *= inv
	}
}
