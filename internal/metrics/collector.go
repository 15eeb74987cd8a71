// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 摄取指标
	snapshotsIngested *prometheus.CounterVec
	chunksCreated     prometheus.Counter
	ingestDuration    prometheus.Histogram

	// 嵌入指标
	embeddingRequests *prometheus.CounterVec
	embeddingDuration *prometheus.HistogramVec

	// 检索指标
	retrievalRequests *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	retrievalResults  prometheus.Histogram

	// 反馈指标
	outcomesRecorded *prometheus.CounterVec

	// 存储指标
	storeSnapshots prometheus.Gauge
	storeChunks    prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// registerer 由调用方注入，测试可传入独立的 registry 避免重复注册。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 摄取指标
	c.snapshotsIngested = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_ingested_total",
			Help:      "Total number of page snapshots ingested",
		},
		[]string{"status"},
	)

	c.chunksCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_created_total",
			Help:      "Total number of chunks created during ingestion",
		},
	)

	c.ingestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Snapshot ingestion duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// 嵌入指标
	c.embeddingRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	c.embeddingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// 检索指标
	c.retrievalRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total number of retrieval requests",
		},
		[]string{"status"},
	)

	c.retrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.retrievalResults = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of pages returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// 反馈指标
	c.outcomesRecorded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_recorded_total",
			Help:      "Total number of interaction outcomes recorded",
		},
		[]string{"status", "success"},
	)

	// 存储指标
	c.storeSnapshots = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_snapshots",
			Help:      "Number of snapshots currently stored",
		},
	)

	c.storeChunks = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_chunks",
			Help:      "Number of chunks currently stored",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 📥 摄取指标记录
// =============================================================================

// RecordIngest 记录一次快照摄取
func (c *Collector) RecordIngest(status string, chunks int, duration time.Duration) {
	c.snapshotsIngested.WithLabelValues(status).Inc()
	c.chunksCreated.Add(float64(chunks))
	c.ingestDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🧮 嵌入指标记录
// =============================================================================

// RecordEmbedding 记录一次嵌入调用
func (c *Collector) RecordEmbedding(provider, status string, duration time.Duration) {
	c.embeddingRequests.WithLabelValues(provider, status).Inc()
	c.embeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 🔍 检索指标记录
// =============================================================================

// RecordRetrieval 记录一次检索
func (c *Collector) RecordRetrieval(status string, results int, duration time.Duration) {
	c.retrievalRequests.WithLabelValues(status).Inc()
	c.retrievalDuration.Observe(duration.Seconds())
	c.retrievalResults.Observe(float64(results))
}

// =============================================================================
// 🔁 反馈指标记录
// =============================================================================

// RecordOutcome 记录一次结果回写
func (c *Collector) RecordOutcome(status string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	c.outcomesRecorded.WithLabelValues(status, label).Inc()
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordStoreSize 记录存储当前规模
func (c *Collector) RecordStoreSize(snapshots, chunks int) {
	c.storeSnapshots.Set(float64(snapshots))
	c.storeChunks.Set(float64(chunks))
}
