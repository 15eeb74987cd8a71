package rag

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 分块专用分词器接口。
// 分块只依赖 token 计数，精确性不是承载性需求，估算器即可。
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimatorTokenizer 基于字符计数的 token 估算器。
// 区分 CJK 与 ASCII 字符，比朴素的 len/4 更准。
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算器.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	// CJK 约 1.5 字符/token，ASCII 约 4 字符/token
	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// isCJK 判断是否为 CJK 字符.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}

// TiktokenTokenizer 基于 tiktoken 的精确分词器。
// 编码数据懒加载（首次使用时可能下载），失败时回退到估算并记录警告。
type TiktokenTokenizer struct {
	encoding  string
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
	estimator *EstimatorTokenizer
	logger    *zap.Logger
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器.
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding := "cl100k_base"
	switch model {
	case "gpt-4o", "gpt-4o-mini":
		encoding = "o200k_base"
	}
	return &TiktokenTokenizer{
		encoding:  encoding,
		estimator: NewEstimatorTokenizer(),
		logger:    logger.With(zap.String("component", "tokenizer_tiktoken")),
	}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数，tiktoken 初始化失败时回退估算.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken unavailable, falling back to estimator", zap.Error(err))
		return t.estimator.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
