package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// OutcomeRef 定位待注解的快照：优先按 SnapshotID，
// 否则按 URL 解析到该 URL 的最新快照。
type OutcomeRef struct {
	SnapshotID string `json:"snapshot_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// RecordStatus 结果记录的软状态.
type RecordStatus string

const (
	// RecordStatusRecorded 结果已落盘
	RecordStatusRecorded RecordStatus = "recorded"
	// RecordStatusNotFound 快照或选择器不存在；预期的可恢复情况
	RecordStatusNotFound RecordStatus = "not_found"
	// RecordStatusUnavailable 存储暂不可用，结果未记录
	RecordStatusUnavailable RecordStatus = "unavailable"
)

// RecordResult 一次结果记录的回执.
type RecordResult struct {
	Status     RecordStatus `json:"status"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
}

// FeedbackRecorder 将动作结果落回存储的薄编排层。
// 每次调用恰好追加一个结果事件；同一动作的重复上报是重复的真实
// 尝试信号，永不去重。记录结果不触发重新嵌入：嵌入捕捉页面内容，
// 结果日志捕捉置信度，两者独立演进。
type FeedbackRecorder struct {
	store  Store
	logger *zap.Logger
}

// NewFeedbackRecorder 创建反馈记录器.
func NewFeedbackRecorder(store Store, logger *zap.Logger) *FeedbackRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackRecorder{
		store:  store,
		logger: logger.With(zap.String("component", "feedback")),
	}
}

// Record 记录一次选择器交互结果。
// 快照缺失与选择器缺失都返回软 not_found；存储故障返回软
// unavailable。反馈路径永不向调用方抛错。
func (f *FeedbackRecorder) Record(ctx context.Context, ref OutcomeRef, selector string, success bool) RecordResult {
	snapshotID := ref.SnapshotID
	if snapshotID == "" {
		if ref.URL == "" {
			return RecordResult{Status: RecordStatusNotFound}
		}
		snap, err := f.store.LatestSnapshotForURL(ctx, ref.URL)
		if err != nil {
			if types.IsNotFound(err) {
				return RecordResult{Status: RecordStatusNotFound}
			}
			f.logger.Warn("outcome dropped, store unavailable", zap.Error(err))
			return RecordResult{Status: RecordStatusUnavailable}
		}
		snapshotID = snap.ID
	}

	status, err := f.store.UpdateAnnotation(ctx, snapshotID, selector, success)
	if err != nil {
		f.logger.Warn("outcome dropped, store unavailable",
			zap.String("snapshot_id", snapshotID),
			zap.Error(err))
		return RecordResult{Status: RecordStatusUnavailable}
	}
	if status == AnnotationNotFound {
		return RecordResult{Status: RecordStatusNotFound, SnapshotID: snapshotID}
	}

	f.logger.Debug("outcome recorded",
		zap.String("snapshot_id", snapshotID),
		zap.String("selector", selector),
		zap.Bool("success", success))
	return RecordResult{Status: RecordStatusRecorded, SnapshotID: snapshotID}
}
