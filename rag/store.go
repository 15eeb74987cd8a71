package rag

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// Filter 按元数据等值过滤检索候选，过滤先于排序执行：
// topK 始终返回过滤子集内最好的 K 个匹配。
type Filter struct {
	Domain   string
	Category types.ChunkCategory
}

// ChunkMatch 一条相似度检索结果.
type ChunkMatch struct {
	Chunk types.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// AnnotationStatus 注解更新的软状态.
type AnnotationStatus string

const (
	// AnnotationRecorded 注解已落盘
	AnnotationRecorded AnnotationStatus = "recorded"
	// AnnotationNotFound 快照或选择器不存在；这是预期的可恢复情况
	// （页面变更后针对过期快照记录结果），不是错误
	AnnotationNotFound AnnotationStatus = "not_found"
)

// Store 页面记忆存储统一接口。
// 同一接口按生命周期策略参数化：MemoryStore（会话级进程内）、
// SQLiteStore（持久化）、RedisStore（外部会话级）。
//
// 写路径为追加式：重复摄取同一 URL 会累积新快照而非覆盖，
// 以历史保留换取读路径去重。实现必须对同一快照的 insert 与
// update 串行化，保证写到一半的快照永远不会被注解。
type Store interface {
	// InsertSnapshot 存储一个页面快照，追加式。
	InsertSnapshot(ctx context.Context, snap *types.PageSnapshot) error

	// InsertChunks 存储快照派生的 chunk，追加式。
	InsertChunks(ctx context.Context, chunks []types.Chunk) error

	// Query 返回至多 topK 条按余弦相似度降序排列的 chunk，
	// 相同分数按 CreatedAt 新者优先。过滤先于排序。
	Query(ctx context.Context, embedding []float64, topK int, filter Filter) ([]ChunkMatch, error)

	// UpdateAnnotation 定位快照内匹配选择器的元素，设置
	// InteractedSuccessfully 并向结果日志追加恰好一个事件。
	// 重复调用是重复的真实尝试信号，永不去重。
	UpdateAnnotation(ctx context.Context, snapshotID, selector string, success bool) (AnnotationStatus, error)

	// SnapshotByID 按 id 查快照，缺失时返回 NOT_FOUND。
	SnapshotByID(ctx context.Context, id string) (*types.PageSnapshot, error)

	// LatestSnapshotForURL 返回该 URL 最新的快照，缺失时 NOT_FOUND。
	LatestSnapshotForURL(ctx context.Context, url string) (*types.PageSnapshot, error)

	// PurgeSnapshot 显式删除快照并使其全部 chunk 失效。
	PurgeSnapshot(ctx context.Context, id string) error

	// PurgeDomain 删除一个域名下的全部快照，返回删除数量。
	PurgeDomain(ctx context.Context, domain string) (int, error)

	// Stats 返回存储内容统计。
	Stats(ctx context.Context) (*types.StoreStats, error)

	// Close 释放后端资源。
	Close() error
}

// Clearable 是支持全量清空的 Store 的可选接口，按类型断言探测：
//
//	if c, ok := store.(Clearable); ok { c.ClearAll(ctx) }
type Clearable interface {
	ClearAll(ctx context.Context) error
}

// ====== 会话级内存存储 ======

// MemoryStoreConfig 内存存储配置.
type MemoryStoreConfig struct {
	// 快照数量上限，超出时淘汰最旧快照及其 chunk。0 表示不淘汰。
	MaxSnapshots int

	// 测试用时钟，默认 time.Now。
	Now func() time.Time
}

// MemoryStore 会话级进程内存储。
// 单把读写锁串行化全部写操作，天然满足按快照串行化的要求。
type MemoryStore struct {
	mu           sync.RWMutex
	snapshots    map[string]*types.PageSnapshot
	order        []string // 插入顺序，用于淘汰
	chunks       []types.Chunk
	maxSnapshots int
	now          func() time.Time
	logger       *zap.Logger
}

// NewMemoryStore 创建会话级内存存储.
func NewMemoryStore(config MemoryStoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		snapshots:    make(map[string]*types.PageSnapshot),
		maxSnapshots: config.MaxSnapshots,
		now:          now,
		logger:       logger.With(zap.String("component", "store_memory")),
	}
}

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snap *types.PageSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil || snap.ID == "" {
		return types.NewError(types.ErrMalformedSnapshot, "snapshot id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[snap.ID]; !exists {
		s.order = append(s.order, snap.ID)
	}
	s.snapshots[snap.ID] = snap.Clone()
	s.evictLocked()

	s.logger.Debug("snapshot stored",
		zap.String("snapshot_id", snap.ID),
		zap.String("url", snap.URL),
		zap.Int("total", len(s.snapshots)))
	return nil
}

func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range chunks {
		if ch.ID == "" || ch.SnapshotRef == "" {
			return types.NewError(types.ErrMalformedSnapshot, "chunk id and snapshot ref are required")
		}
		if ch.Embedding == nil {
			return types.NewError(types.ErrEmbedding, "chunk "+ch.ID+" has no embedding")
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = s.now()
		}
		s.chunks = append(s.chunks, ch)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float64, topK int, filter Filter) ([]ChunkMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []ChunkMatch{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ChunkMatch, 0, len(s.chunks))
	for _, ch := range s.chunks {
		if !matchesFilter(ch, filter) {
			continue
		}
		results = append(results, ChunkMatch{
			Chunk: ch,
			Score: cosineSimilarity(embedding, ch.Embedding),
		})
	}

	sortMatches(results)

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *MemoryStore) UpdateAnnotation(ctx context.Context, snapshotID, selector string, success bool) (AnnotationStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return AnnotationNotFound, nil
	}
	if !annotateElement(snap, selector, success, s.now()) {
		return AnnotationNotFound, nil
	}
	return AnnotationRecorded, nil
}

func (s *MemoryStore) SnapshotByID(ctx context.Context, id string) (*types.PageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "snapshot "+id+" not found")
	}
	return snap.Clone(), nil
}

func (s *MemoryStore) LatestSnapshotForURL(ctx context.Context, url string) (*types.PageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *types.PageSnapshot
	for _, snap := range s.snapshots {
		if snap.URL != url {
			continue
		}
		if latest == nil || snap.Timestamp.After(latest.Timestamp) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, types.NewError(types.ErrNotFound, "no snapshot for url "+url)
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) PurgeSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return types.NewError(types.ErrNotFound, "snapshot "+id+" not found")
	}
	s.removeLocked(id)
	return nil
}

func (s *MemoryStore) PurgeDomain(ctx context.Context, domain string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, snap := range s.snapshots {
		if snap.Domain == domain {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	return len(ids), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.StoreStats{
		Snapshots: len(s.snapshots),
		Chunks:    len(s.chunks),
		ByDomain:  make(map[string]int),
	}
	for _, snap := range s.snapshots {
		stats.ByDomain[snap.Domain]++
		countOutcomes(snap, stats)
	}
	return stats, nil
}

// ClearAll 清空全部快照与 chunk.
func (s *MemoryStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = make(map[string]*types.PageSnapshot)
	s.order = nil
	s.chunks = nil
	s.logger.Info("store cleared")
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// removeLocked 删除快照及其全部 chunk，调用方持写锁.
func (s *MemoryStore) removeLocked(id string) {
	delete(s.snapshots, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.chunks[:0]
	for _, ch := range s.chunks {
		if ch.SnapshotRef != id {
			kept = append(kept, ch)
		}
	}
	s.chunks = kept
}

// evictLocked 按保留策略淘汰最旧快照，调用方持写锁.
func (s *MemoryStore) evictLocked() {
	if s.maxSnapshots <= 0 {
		return
	}
	for len(s.order) > s.maxSnapshots {
		oldest := s.order[0]
		s.removeLocked(oldest)
		s.logger.Info("snapshot evicted by retention policy", zap.String("snapshot_id", oldest))
	}
}

// ====== 共享辅助函数 ======

// annotateElement 在快照内按选择器定位元素，设置成功标记并追加一个
// 结果事件。每次调用恰好记录一个事件：重复的真实尝试是合法信号。
func annotateElement(snap *types.PageSnapshot, selector string, success bool, at time.Time) bool {
	for i := range snap.Structure.Elements {
		el := &snap.Structure.Elements[i]
		if el.Selector != selector {
			continue
		}
		v := success
		el.InteractedSuccessfully = &v
		el.Outcomes = append(el.Outcomes, types.OutcomeEvent{Success: success, At: at})
		return true
	}
	return false
}

// countOutcomes 将快照的结果事件累加到统计中.
func countOutcomes(snap *types.PageSnapshot, stats *types.StoreStats) {
	for _, el := range snap.Structure.Elements {
		for _, ev := range el.Outcomes {
			stats.Actions++
			if ev.Success {
				stats.SuccessfulActions++
			}
		}
	}
}

// matchesFilter 检查 chunk 是否满足元数据等值过滤.
func matchesFilter(ch types.Chunk, filter Filter) bool {
	if filter.Domain != "" && ch.Domain != filter.Domain {
		return false
	}
	if filter.Category != "" && ch.Category != filter.Category {
		return false
	}
	return true
}

// sortMatches 按相似度降序排序，同分按 CreatedAt 新者优先.
func sortMatches(results []ChunkMatch) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.CreatedAt.After(results[j].Chunk.CreatedAt)
	})
}

// cosineSimilarity 计算余弦相似度，维度不匹配或零向量时为 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
