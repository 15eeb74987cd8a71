// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import (
	"context"
	"strings"

	"github.com/BaSui01/webmem/types"
)

// Provider 定义统一的嵌入提供者接口.
//
// 对固定的提供者实例，嵌入结果必须是确定性的，且维度在提供者的
// 生命周期内不变。空输入必须返回 EMBEDDING_ERROR 而不是零向量：
// 零向量与合法的低模长嵌入无法区分，会破坏相似度排序。
type Provider interface {
	// Embed 为单个文本生成嵌入.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch 为多个文本生成嵌入，输出顺序与输入一致，
	// 且与逐条调用 Embed 的结果一致.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions 返回嵌入维度.
	Dimensions() int

	// Name 返回提供者名称.
	Name() string
}

// validateInput 校验嵌入输入，空白文本一律拒绝.
func validateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return types.NewError(types.ErrEmbedding, "cannot embed empty text")
	}
	return nil
}
