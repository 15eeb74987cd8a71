package rag

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/webmem/embedding"
	"github.com/BaSui01/webmem/internal/metrics"
	"github.com/BaSui01/webmem/types"
)

const instrumentationName = "github.com/BaSui01/webmem/rag"

// 批量摄取的并发上限
const defaultIngestConcurrency = 4

// StoreReceipt 一次页面摄取的回执.
type StoreReceipt struct {
	SnapshotID string `json:"snapshot_id"`
	Chunks     int    `json:"chunks"`
	Domain     string `json:"domain"`
}

// Engine 页面记忆引擎门面，聚合分块、嵌入、存储、检索、排序与反馈。
// 所有方法可并发调用；并发保证由底层 Store 承担。
type Engine struct {
	store     Store
	chunker   *SnapshotChunker
	embedder  embedding.Provider
	retriever *Retriever
	ranker    *SelectorRanker
	feedback  *FeedbackRecorder
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// EngineConfig 引擎装配配置。除 Store 与 Embedder 外均可为零值，
// 缺省时使用各组件默认值。
type EngineConfig struct {
	Store     Store
	Embedder  embedding.Provider
	Chunking  ChunkerConfig
	Tokenizer Tokenizer
	Retrieval RetrieverConfig
	Collector *metrics.Collector
	Logger    *zap.Logger
}

// NewEngine 装配页面记忆引擎.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "engine requires a store")
	}
	if config.Embedder == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "engine requires an embedding provider")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chunker := NewSnapshotChunker(config.Chunking, config.Tokenizer, logger)
	retriever := NewRetriever(config.Store, config.Embedder, config.Retrieval, logger)

	return &Engine{
		store:     config.Store,
		chunker:   chunker,
		embedder:  config.Embedder,
		retriever: retriever,
		ranker:    NewSelectorRanker(config.Store, retriever, logger),
		feedback:  NewFeedbackRecorder(config.Store, logger),
		collector: config.Collector,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "engine")),
	}, nil
}

// StorePage 摄取一个页面快照：分块、嵌入、落盘，并把快照自带的
// 动作历史作为初始结果事件写入注解日志。
//
// 摄取是追加式的：同一 URL 重复摄取会累积新快照而非覆盖。
// 写路径不降级：存储或嵌入失败向调用方返回错误。
func (e *Engine) StorePage(ctx context.Context, snap *types.PageSnapshot) (*StoreReceipt, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "webmem.store_page")
	defer span.End()

	receipt, err := e.storePage(ctx, snap)
	status := "ok"
	chunks := 0
	if err != nil {
		status = "error"
	} else {
		chunks = receipt.Chunks
		span.SetAttributes(
			attribute.String("webmem.snapshot_id", receipt.SnapshotID),
			attribute.Int("webmem.chunks", receipt.Chunks),
		)
	}
	if e.collector != nil {
		e.collector.RecordIngest(status, chunks, time.Since(start))
	}
	return receipt, err
}

func (e *Engine) storePage(ctx context.Context, snap *types.PageSnapshot) (*StoreReceipt, error) {
	if snap == nil {
		return nil, types.NewError(types.ErrMalformedSnapshot, "snapshot is nil")
	}

	// 归一化调用方遗漏的元数据
	snap = snap.Clone()
	if snap.ID == "" {
		fresh := types.NewPageSnapshot(snap.URL, snap.TaskContext)
		snap.ID = fresh.ID
	}
	if snap.Domain == "" {
		snap.Domain = types.DomainOf(snap.URL)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	chunkTexts, err := e.chunker.Chunk(snap)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunkTexts))
	for i, ct := range chunkTexts {
		texts[i] = ct.Text
	}

	embedStart := time.Now()
	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if e.collector != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.collector.RecordEmbedding(e.embedder.Name(), status, time.Since(embedStart))
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chunks := make([]types.Chunk, len(chunkTexts))
	for i, ct := range chunkTexts {
		chunks[i] = types.Chunk{
			ID:          types.ChunkID(snap.ID, i),
			SnapshotRef: snap.ID,
			Category:    ct.Category,
			Text:        ct.Text,
			Embedding:   embeddings[i],
			Domain:      snap.Domain,
			CreatedAt:   now,
		}
	}

	if err := e.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if err := e.store.InsertChunks(ctx, chunks); err != nil {
		return nil, err
	}

	// 动作历史带有真实的交互结果，落为初始注解事件，
	// 使刚摄取的页面立即参与选择器排序
	for _, action := range snap.ActionHistory {
		if action.Selector == "" {
			continue
		}
		if _, err := e.store.UpdateAnnotation(ctx, snap.ID, action.Selector, action.Success); err != nil {
			e.logger.Warn("failed to seed outcome from action history",
				zap.String("snapshot_id", snap.ID),
				zap.String("selector", action.Selector),
				zap.Error(err))
		}
	}

	e.logger.Info("page stored",
		zap.String("snapshot_id", snap.ID),
		zap.String("url", snap.URL),
		zap.String("domain", snap.Domain),
		zap.Int("chunks", len(chunks)))

	return &StoreReceipt{SnapshotID: snap.ID, Chunks: len(chunks), Domain: snap.Domain}, nil
}

// IngestBatch 并发摄取多个快照，任一失败即取消其余摄取并返回首个错误。
// 返回的回执与输入顺序一致；失败时对应位置为 nil。
func (e *Engine) IngestBatch(ctx context.Context, snaps []*types.PageSnapshot) ([]*StoreReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "webmem.ingest_batch",
		trace.WithAttributes(attribute.Int("webmem.batch_size", len(snaps))))
	defer span.End()

	receipts := make([]*StoreReceipt, len(snaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultIngestConcurrency)

	for i, snap := range snaps {
		i, snap := i, snap
		g.Go(func() error {
			receipt, err := e.StorePage(gctx, snap)
			if err != nil {
				return err
			}
			receipts[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return receipts, err
	}
	return receipts, nil
}

// RetrieveSimilar 返回与查询最相似的至多 topK 个页面。
// 读路径降级：后端故障返回空结果，永不返回错误。
func (e *Engine) RetrieveSimilar(ctx context.Context, query string, topK int, filter Filter) []types.PageResult {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "webmem.retrieve_similar",
		trace.WithAttributes(attribute.Int("webmem.top_k", topK)))
	defer span.End()

	results := e.retriever.Retrieve(ctx, query, topK, filter)

	span.SetAttributes(attribute.Int("webmem.results", len(results)))
	if e.collector != nil {
		status := "ok"
		if len(results) == 0 {
			status = "empty"
		}
		e.collector.RecordRetrieval(status, len(results), time.Since(start))
	}
	return results
}

// RankSelectors 返回与查询相关页面的选择器可信度排序。
// elementType 非空时只统计匹配类型的元素.
func (e *Engine) RankSelectors(ctx context.Context, elementType, query string, topK int, filter Filter) []types.SelectorStat {
	ctx, span := e.tracer.Start(ctx, "webmem.rank_selectors")
	defer span.End()
	return e.ranker.RankForQuery(ctx, elementType, query, topK, filter)
}

// RankSelectorsForURL 返回某 URL 最新快照的选择器可信度排序.
func (e *Engine) RankSelectorsForURL(ctx context.Context, url, elementType string) []types.SelectorStat {
	ctx, span := e.tracer.Start(ctx, "webmem.rank_selectors_url")
	defer span.End()
	return e.ranker.RankForURL(ctx, url, elementType)
}

// RecordOutcome 记录一次选择器交互结果，软状态语义见 FeedbackRecorder.
func (e *Engine) RecordOutcome(ctx context.Context, ref OutcomeRef, selector string, success bool) RecordResult {
	ctx, span := e.tracer.Start(ctx, "webmem.record_outcome",
		trace.WithAttributes(attribute.Bool("webmem.success", success)))
	defer span.End()

	result := e.feedback.Record(ctx, ref, selector, success)
	span.SetAttributes(attribute.String("webmem.status", string(result.Status)))
	if e.collector != nil {
		e.collector.RecordOutcome(string(result.Status), success)
	}
	return result
}

// Snapshot 按 id 取回完整快照，缺失时 NOT_FOUND.
func (e *Engine) Snapshot(ctx context.Context, id string) (*types.PageSnapshot, error) {
	return e.store.SnapshotByID(ctx, id)
}

// PurgeSnapshot 显式删除快照及其全部 chunk.
func (e *Engine) PurgeSnapshot(ctx context.Context, id string) error {
	return e.store.PurgeSnapshot(ctx, id)
}

// PurgeDomain 删除一个域名下的全部快照，返回删除数量.
func (e *Engine) PurgeDomain(ctx context.Context, domain string) (int, error) {
	return e.store.PurgeDomain(ctx, domain)
}

// Stats 返回存储内容统计并刷新规模指标.
func (e *Engine) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if e.collector != nil {
		e.collector.RecordStoreSize(stats.Snapshots, stats.Chunks)
	}
	return stats, nil
}

// ClearSession 清空全部记忆。仅支持实现了 Clearable 的存储；
// 其余存储返回 INVALID_CONFIG 提示调用方改用显式 purge。
func (e *Engine) ClearSession(ctx context.Context) error {
	c, ok := e.store.(Clearable)
	if !ok {
		return types.NewError(types.ErrInvalidConfig, "store does not support clearing, purge explicitly")
	}
	if err := c.ClearAll(ctx); err != nil {
		return err
	}
	e.logger.Info("session memory cleared")
	return nil
}

// Close 释放底层存储资源.
func (e *Engine) Close() error {
	return e.store.Close()
}
