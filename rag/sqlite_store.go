package rag

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/webmem/types"
)

// snapshotRow 快照的持久化行。完整快照以 JSON 负载保存，
// 检索与过滤所需的键单独建列索引。
type snapshotRow struct {
	ID        string `gorm:"primaryKey"`
	URL       string `gorm:"index"`
	Domain    string `gorm:"index"`
	Timestamp time.Time
	Payload   []byte
}

func (snapshotRow) TableName() string { return "snapshots" }

// chunkRow chunk 的持久化行，嵌入向量序列化为 JSON。
type chunkRow struct {
	ID         string `gorm:"primaryKey"`
	SnapshotID string `gorm:"index"`
	Category   string `gorm:"index"`
	Domain     string `gorm:"index"`
	Text       string
	Embedding  []byte
	CreatedAt  time.Time `gorm:"index"`
}

func (chunkRow) TableName() string { return "chunks" }

// SQLiteStoreConfig 持久化存储配置.
type SQLiteStoreConfig struct {
	// SQLite 数据库文件路径
	Path string
	// 快照数量上限，超出时淘汰最旧快照。0 表示不淘汰。
	MaxSnapshots int
}

// SQLiteStore 基于 GORM + SQLite 的跨会话持久化存储。
// 相似度计算在加载过滤后的候选 chunk 之后于进程内完成；
// SQLite 的单写者模型天然满足按快照串行化注解的要求。
type SQLiteStore struct {
	db           *gorm.DB
	maxSnapshots int
	logger       *zap.Logger
}

// NewSQLiteStore 打开（或创建）持久化存储并迁移 schema.
func NewSQLiteStore(config SQLiteStoreConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "sqlite store requires a path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to open sqlite store").
			WithRetryable(true).WithCause(err)
	}

	if err := db.AutoMigrate(&snapshotRow{}, &chunkRow{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to migrate sqlite schema").
			WithCause(err)
	}

	logger = logger.With(zap.String("component", "store_sqlite"))
	logger.Info("sqlite store opened", zap.String("path", config.Path))

	return &SQLiteStore{
		db:           db,
		maxSnapshots: config.MaxSnapshots,
		logger:       logger,
	}, nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *types.PageSnapshot) error {
	if snap == nil || snap.ID == "" {
		return types.NewError(types.ErrMalformedSnapshot, "snapshot id is required")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrMalformedSnapshot, "failed to encode snapshot").WithCause(err)
	}

	row := snapshotRow{
		ID:        snap.ID,
		URL:       snap.URL,
		Domain:    snap.Domain,
		Timestamp: snap.Timestamp,
		Payload:   payload,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storeErr("insert snapshot", err)
	}

	return s.evict(ctx)
}

func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]chunkRow, 0, len(chunks))
	for _, ch := range chunks {
		if ch.ID == "" || ch.SnapshotRef == "" {
			return types.NewError(types.ErrMalformedSnapshot, "chunk id and snapshot ref are required")
		}
		if ch.Embedding == nil {
			return types.NewError(types.ErrEmbedding, "chunk "+ch.ID+" has no embedding")
		}
		emb, err := json.Marshal(ch.Embedding)
		if err != nil {
			return types.NewError(types.ErrEmbedding, "failed to encode embedding").WithCause(err)
		}
		createdAt := ch.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, chunkRow{
			ID:         ch.ID,
			SnapshotID: ch.SnapshotRef,
			Category:   string(ch.Category),
			Domain:     ch.Domain,
			Text:       ch.Text,
			Embedding:  emb,
			CreatedAt:  createdAt,
		})
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return storeErr("insert chunks", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, embedding []float64, topK int, filter Filter) ([]ChunkMatch, error) {
	if topK <= 0 {
		return []ChunkMatch{}, nil
	}

	q := s.db.WithContext(ctx).Model(&chunkRow{})
	if filter.Domain != "" {
		q = q.Where("domain = ?", filter.Domain)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", string(filter.Category))
	}

	var rows []chunkRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, storeErr("query chunks", err)
	}

	results := make([]ChunkMatch, 0, len(rows))
	for _, row := range rows {
		var emb []float64
		if err := json.Unmarshal(row.Embedding, &emb); err != nil {
			s.logger.Warn("skipping chunk with corrupt embedding", zap.String("chunk_id", row.ID))
			continue
		}
		results = append(results, ChunkMatch{
			Chunk: types.Chunk{
				ID:          row.ID,
				SnapshotRef: row.SnapshotID,
				Category:    types.ChunkCategory(row.Category),
				Text:        row.Text,
				Embedding:   emb,
				Domain:      row.Domain,
				CreatedAt:   row.CreatedAt,
			},
			Score: cosineSimilarity(embedding, emb),
		})
	}

	sortMatches(results)
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *SQLiteStore) UpdateAnnotation(ctx context.Context, snapshotID, selector string, success bool) (AnnotationStatus, error) {
	status := AnnotationNotFound

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row snapshotRow
		if err := tx.First(&row, "id = ?", snapshotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		var snap types.PageSnapshot
		if err := json.Unmarshal(row.Payload, &snap); err != nil {
			return err
		}
		if !annotateElement(&snap, selector, success, time.Now().UTC()) {
			return nil
		}

		payload, err := json.Marshal(&snap)
		if err != nil {
			return err
		}
		if err := tx.Model(&snapshotRow{}).Where("id = ?", snapshotID).
			Update("payload", payload).Error; err != nil {
			return err
		}
		status = AnnotationRecorded
		return nil
	})
	if err != nil {
		return "", storeErr("update annotation", err)
	}
	return status, nil
}

func (s *SQLiteStore) SnapshotByID(ctx context.Context, id string) (*types.PageSnapshot, error) {
	var row snapshotRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "snapshot "+id+" not found")
		}
		return nil, storeErr("load snapshot", err)
	}
	return decodeSnapshot(row.Payload)
}

func (s *SQLiteStore) LatestSnapshotForURL(ctx context.Context, url string) (*types.PageSnapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).
		Where("url = ?", url).
		Order("timestamp DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "no snapshot for url "+url)
		}
		return nil, storeErr("load snapshot by url", err)
	}
	return decodeSnapshot(row.Payload)
}

func (s *SQLiteStore) PurgeSnapshot(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&snapshotRow{}, "id = ?", id)
	if res.Error != nil {
		return storeErr("purge snapshot", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "snapshot "+id+" not found")
	}
	if err := s.db.WithContext(ctx).Delete(&chunkRow{}, "snapshot_id = ?", id).Error; err != nil {
		return storeErr("purge chunks", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeDomain(ctx context.Context, domain string) (int, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Where("domain = ?", domain).Pluck("id", &ids).Error; err != nil {
		return 0, storeErr("list domain snapshots", err)
	}
	for _, id := range ids {
		if err := s.PurgeSnapshot(ctx, id); err != nil && !types.IsNotFound(err) {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{ByDomain: make(map[string]int)}

	var snapCount, chunkCount int64
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).Count(&snapCount).Error; err != nil {
		return nil, storeErr("count snapshots", err)
	}
	if err := s.db.WithContext(ctx).Model(&chunkRow{}).Count(&chunkCount).Error; err != nil {
		return nil, storeErr("count chunks", err)
	}
	stats.Snapshots = int(snapCount)
	stats.Chunks = int(chunkCount)

	var rows []snapshotRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, storeErr("load snapshots", err)
	}
	for _, row := range rows {
		stats.ByDomain[row.Domain]++
		snap, err := decodeSnapshot(row.Payload)
		if err != nil {
			continue
		}
		countOutcomes(snap, stats)
	}
	return stats, nil
}

// ClearAll 清空全部快照与 chunk.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&chunkRow{}).Error; err != nil {
		return storeErr("clear chunks", err)
	}
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&snapshotRow{}).Error; err != nil {
		return storeErr("clear snapshots", err)
	}
	s.logger.Info("store cleared")
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// evict 按保留策略淘汰最旧快照.
func (s *SQLiteStore) evict(ctx context.Context) error {
	if s.maxSnapshots <= 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).Count(&count).Error; err != nil {
		return storeErr("count snapshots", err)
	}
	excess := int(count) - s.maxSnapshots
	if excess <= 0 {
		return nil
	}

	var ids []string
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Order("timestamp ASC").Limit(excess).Pluck("id", &ids).Error; err != nil {
		return storeErr("list oldest snapshots", err)
	}
	for _, id := range ids {
		if err := s.PurgeSnapshot(ctx, id); err != nil && !types.IsNotFound(err) {
			return err
		}
		s.logger.Info("snapshot evicted by retention policy", zap.String("snapshot_id", id))
	}
	return nil
}

func decodeSnapshot(payload []byte) (*types.PageSnapshot, error) {
	var snap types.PageSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "corrupt snapshot payload").WithCause(err)
	}
	return &snap, nil
}

// storeErr 将后端错误统一映射为可恢复的 STORE_UNAVAILABLE.
func storeErr(op string, err error) error {
	return types.NewError(types.ErrStoreUnavailable, op+" failed").
		WithRetryable(true).WithCause(err)
}
