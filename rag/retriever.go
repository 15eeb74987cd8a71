package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/embedding"
	"github.com/BaSui01/webmem/types"
)

// RetrieverConfig 检索配置.
type RetrieverConfig struct {
	// 默认返回的页面数，默认 3
	TopK int
	// chunk 候选过采样倍数，默认 6。一个快照产出多个 chunk，
	// 必须过采样才能保证按快照聚合后仍有 TopK 个结果。
	CandidateMultiplier int
}

// Retriever 相似页面检索器：嵌入查询文本，按余弦相似度取 chunk 候选，
// 再按所属快照聚合为页面级结果。
//
// 读路径降级：嵌入或存储失败时返回空结果而非错误，
// 调用方的自动化循环不应因检索失败而中断。
type Retriever struct {
	store    Store
	embedder embedding.Provider
	topK     int
	multiple int
	logger   *zap.Logger
}

// NewRetriever 创建检索器.
func NewRetriever(store Store, embedder embedding.Provider, config RetrieverConfig, logger *zap.Logger) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.CandidateMultiplier <= 0 {
		config.CandidateMultiplier = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		topK:     config.TopK,
		multiple: config.CandidateMultiplier,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve 返回与查询最相似的至多 topK 个页面，按相似度降序。
// topK <= 0 时使用配置的默认值。空白查询与后端故障均降级为空结果。
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter Filter) []types.PageResult {
	if topK <= 0 {
		topK = r.topK
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, returning empty results", zap.Error(err))
		return []types.PageResult{}
	}

	matches, err := r.store.Query(ctx, queryEmbedding, topK*r.multiple, filter)
	if err != nil {
		r.logger.Warn("store query failed, returning empty results", zap.Error(err))
		return []types.PageResult{}
	}

	return r.collapse(ctx, matches, topK)
}

// collapse 将 chunk 匹配按所属快照聚合，每个快照取其最高分。
func (r *Retriever) collapse(ctx context.Context, matches []ChunkMatch, topK int) []types.PageResult {
	best := make(map[string]float64, len(matches))
	order := make([]string, 0, len(matches))
	for _, m := range matches {
		score, seen := best[m.Chunk.SnapshotRef]
		if !seen {
			order = append(order, m.Chunk.SnapshotRef)
		}
		if !seen || m.Score > score {
			best[m.Chunk.SnapshotRef] = m.Score
		}
	}

	results := make([]types.PageResult, 0, len(order))
	for _, id := range order {
		snap, err := r.store.SnapshotByID(ctx, id)
		if err != nil {
			// chunk 与快照之间的窗口期删除，跳过
			r.logger.Debug("snapshot missing for matched chunk", zap.String("snapshot_id", id))
			continue
		}
		results = append(results, types.PageResult{
			SnapshotID:      snap.ID,
			URL:             snap.URL,
			Title:           snap.Structure.Title,
			TaskContext:     snap.TaskContext,
			Domain:          snap.Domain,
			Timestamp:       snap.Timestamp,
			Elements:        snap.Structure.Elements,
			SimilarityScore: best[id],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK]
}
