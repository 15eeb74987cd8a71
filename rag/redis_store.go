package rag

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// 注解更新的乐观并发重试次数。WATCH 冲突意味着同一快照上有
// 并发写者，立即重试即可。
const annotationTxRetries = 5

// RedisStoreConfig Redis 存储配置.
type RedisStoreConfig struct {
	// Redis 地址，如 localhost:6379
	Addr string
	// 密码
	Password string
	// 数据库编号
	DB int
	// 连接超时
	DialTimeout time.Duration
	// 键前缀，默认 webmem
	KeyPrefix string
	// 快照数量上限，超出时淘汰最旧快照。0 表示不淘汰。
	MaxSnapshots int
}

// RedisStore 外部会话级存储。
// 多进程共享同一 Redis 时各写者通过 WATCH 乐观事务串行化注解更新。
//
// 键布局（p 为前缀）:
//
//	p:snapshot:{id}   快照 JSON
//	p:snapshots       ZSET，member=id，score=时间戳，保留策略用
//	p:url:{url}       ZSET，member=id，score=时间戳
//	p:domain:{domain} SET，快照 id
//	p:chunk:{id}      chunk JSON
//	p:chunks          SET，全部 chunk id
//	p:snapchunks:{id} SET，该快照的 chunk id
type RedisStore struct {
	client       *redis.Client
	prefix       string
	maxSnapshots int
	logger       *zap.Logger
}

// NewRedisStore 连接 Redis 并校验连通性.
func NewRedisStore(ctx context.Context, config RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "redis store requires an address")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "webmem"
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to connect to redis").
			WithRetryable(true).WithCause(err)
	}

	logger = logger.With(zap.String("component", "store_redis"))
	logger.Info("redis store connected", zap.String("addr", config.Addr))

	return &RedisStore{
		client:       client,
		prefix:       prefix,
		maxSnapshots: config.MaxSnapshots,
		logger:       logger,
	}, nil
}

func (s *RedisStore) snapshotKey(id string) string   { return s.prefix + ":snapshot:" + id }
func (s *RedisStore) urlKey(url string) string       { return s.prefix + ":url:" + url }
func (s *RedisStore) domainKey(domain string) string { return s.prefix + ":domain:" + domain }
func (s *RedisStore) chunkKey(id string) string      { return s.prefix + ":chunk:" + id }
func (s *RedisStore) snapChunksKey(id string) string { return s.prefix + ":snapchunks:" + id }
func (s *RedisStore) snapshotsIndexKey() string      { return s.prefix + ":snapshots" }
func (s *RedisStore) chunksIndexKey() string         { return s.prefix + ":chunks" }

func (s *RedisStore) InsertSnapshot(ctx context.Context, snap *types.PageSnapshot) error {
	if snap == nil || snap.ID == "" {
		return types.NewError(types.ErrMalformedSnapshot, "snapshot id is required")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrMalformedSnapshot, "failed to encode snapshot").WithCause(err)
	}

	score := float64(snap.Timestamp.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(snap.ID), payload, 0)
	pipe.ZAdd(ctx, s.snapshotsIndexKey(), redis.Z{Score: score, Member: snap.ID})
	pipe.ZAdd(ctx, s.urlKey(snap.URL), redis.Z{Score: score, Member: snap.ID})
	pipe.SAdd(ctx, s.domainKey(snap.Domain), snap.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("insert snapshot", err)
	}

	return s.evict(ctx)
}

func (s *RedisStore) InsertChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, ch := range chunks {
		if ch.ID == "" || ch.SnapshotRef == "" {
			return types.NewError(types.ErrMalformedSnapshot, "chunk id and snapshot ref are required")
		}
		if ch.Embedding == nil {
			return types.NewError(types.ErrEmbedding, "chunk "+ch.ID+" has no embedding")
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now().UTC()
		}
		payload, err := json.Marshal(ch)
		if err != nil {
			return types.NewError(types.ErrEmbedding, "failed to encode chunk").WithCause(err)
		}
		pipe.Set(ctx, s.chunkKey(ch.ID), payload, 0)
		pipe.SAdd(ctx, s.chunksIndexKey(), ch.ID)
		pipe.SAdd(ctx, s.snapChunksKey(ch.SnapshotRef), ch.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("insert chunks", err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, embedding []float64, topK int, filter Filter) ([]ChunkMatch, error) {
	if topK <= 0 {
		return []ChunkMatch{}, nil
	}

	ids, err := s.client.SMembers(ctx, s.chunksIndexKey()).Result()
	if err != nil {
		return nil, storeErr("list chunks", err)
	}
	if len(ids) == 0 {
		return []ChunkMatch{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.chunkKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeErr("load chunks", err)
	}

	results := make([]ChunkMatch, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // 索引指向的 chunk 已被并发删除
		}
		var ch types.Chunk
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			s.logger.Warn("skipping corrupt chunk", zap.String("chunk_id", ids[i]))
			continue
		}
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

func (s *RedisStore) UpdateAnnotation(ctx context.Context, snapshotID, selector string, success bool) (AnnotationStatus, error) {
	key := s.snapshotKey(snapshotID)
	status := AnnotationNotFound

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var snap types.PageSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return err
		}
		if !annotateElement(&snap, selector, success, time.Now().UTC()) {
			return nil
		}

		payload, err := json.Marshal(&snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		status = AnnotationRecorded
		return nil
	}

	for i := 0; i < annotationTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return status, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return "", storeErr("update annotation", err)
	}
	return "", storeErr("update annotation", redis.TxFailedErr)
}

func (s *RedisStore) SnapshotByID(ctx context.Context, id string) (*types.PageSnapshot, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrNotFound, "snapshot "+id+" not found")
	}
	if err != nil {
		return nil, storeErr("load snapshot", err)
	}
	return decodeSnapshot([]byte(raw))
}

func (s *RedisStore) LatestSnapshotForURL(ctx context.Context, url string) (*types.PageSnapshot, error) {
	ids, err := s.client.ZRevRange(ctx, s.urlKey(url), 0, 0).Result()
	if err != nil {
		return nil, storeErr("load snapshot by url", err)
	}
	if len(ids) == 0 {
		return nil, types.NewError(types.ErrNotFound, "no snapshot for url "+url)
	}
	return s.SnapshotByID(ctx, ids[0])
}

func (s *RedisStore) PurgeSnapshot(ctx context.Context, id string) error {
	snap, err := s.SnapshotByID(ctx, id)
	if err != nil {
		return err
	}

	chunkIDs, err := s.client.SMembers(ctx, s.snapChunksKey(id)).Result()
	if err != nil {
		return storeErr("list snapshot chunks", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.snapshotKey(id))
	pipe.ZRem(ctx, s.snapshotsIndexKey(), id)
	pipe.ZRem(ctx, s.urlKey(snap.URL), id)
	pipe.SRem(ctx, s.domainKey(snap.Domain), id)
	for _, cid := range chunkIDs {
		pipe.Del(ctx, s.chunkKey(cid))
		pipe.SRem(ctx, s.chunksIndexKey(), cid)
	}
	pipe.Del(ctx, s.snapChunksKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("purge snapshot", err)
	}
	return nil
}

func (s *RedisStore) PurgeDomain(ctx context.Context, domain string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.domainKey(domain)).Result()
	if err != nil {
		return 0, storeErr("list domain snapshots", err)
	}
	for _, id := range ids {
		if err := s.PurgeSnapshot(ctx, id); err != nil && !types.IsNotFound(err) {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *RedisStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{ByDomain: make(map[string]int)}

	chunkCount, err := s.client.SCard(ctx, s.chunksIndexKey()).Result()
	if err != nil {
		return nil, storeErr("count chunks", err)
	}
	stats.Chunks = int(chunkCount)

	ids, err := s.client.ZRange(ctx, s.snapshotsIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, storeErr("list snapshots", err)
	}
	stats.Snapshots = len(ids)

	for _, id := range ids {
		snap, err := s.SnapshotByID(ctx, id)
		if err != nil {
			continue
		}
		stats.ByDomain[snap.Domain]++
		countOutcomes(snap, stats)
	}
	return stats, nil
}

// ClearAll 删除该前缀下的全部键.
func (s *RedisStore) ClearAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return storeErr("clear store", err)
		}
	}
	if err := iter.Err(); err != nil {
		return storeErr("clear store", err)
	}
	s.logger.Info("store cleared")
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// evict 按保留策略淘汰最旧快照.
func (s *RedisStore) evict(ctx context.Context) error {
	if s.maxSnapshots <= 0 {
		return nil
	}

	count, err := s.client.ZCard(ctx, s.snapshotsIndexKey()).Result()
	if err != nil {
		return storeErr("count snapshots", err)
	}
	excess := int(count) - s.maxSnapshots
	if excess <= 0 {
		return nil
	}

	ids, err := s.client.ZRange(ctx, s.snapshotsIndexKey(), 0, int64(excess-1)).Result()
	if err != nil {
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
