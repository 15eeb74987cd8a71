package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// 返回的选择器条数默认上限
const defaultSelectorTopK = 5

// SelectorRanker 读时选择器排序器。
// 从检索到的快照的结果日志按选择器聚合成功/尝试计数，
// 返回按可信度排序的选择器列表。聚合是派生视图，从不落盘。
type SelectorRanker struct {
	store     Store
	retriever *Retriever
	logger    *zap.Logger
}

// NewSelectorRanker 创建选择器排序器.
func NewSelectorRanker(store Store, retriever *Retriever, logger *zap.Logger) *SelectorRanker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelectorRanker{
		store:     store,
		retriever: retriever,
		logger:    logger.With(zap.String("component", "ranker")),
	}
}

// RankForQuery 检索与任务描述相似的页面并聚合其选择器统计。
// elementType 非空时只统计该类型的元素；topK <= 0 时默认返回 5 条，
// 检索宽度与 topK 一致。检索降级时返回空列表。
func (r *SelectorRanker) RankForQuery(ctx context.Context, elementType, query string, topK int, filter Filter) []types.SelectorStat {
	if topK <= 0 {
		topK = defaultSelectorTopK
	}
	pages := r.retriever.Retrieve(ctx, query, topK, filter)

	agg := newSelectorAggregate(elementType)
	for _, page := range pages {
		agg.addElements(page.Elements)
	}
	return agg.ranked(topK)
}

// RankForURL 聚合某个 URL 最新快照的选择器统计。
// 快照缺失或存储故障降级为空列表。
func (r *SelectorRanker) RankForURL(ctx context.Context, url, elementType string) []types.SelectorStat {
	snap, err := r.store.LatestSnapshotForURL(ctx, url)
	if err != nil {
		if !types.IsNotFound(err) {
			r.logger.Warn("selector ranking degraded, store unavailable", zap.Error(err))
		}
		return []types.SelectorStat{}
	}

	agg := newSelectorAggregate(elementType)
	agg.addElements(snap.Structure.Elements)
	return agg.ranked(0)
}

// selectorAggregate 按选择器累积结果事件.
type selectorAggregate struct {
	elementType string
	stats       map[string]*types.SelectorStat
}

func newSelectorAggregate(elementType string) *selectorAggregate {
	return &selectorAggregate{
		elementType: elementType,
		stats:       make(map[string]*types.SelectorStat),
	}
}

func (a *selectorAggregate) addElements(elements []types.InteractiveElement) {
	for _, el := range elements {
		if len(el.Outcomes) == 0 {
			continue
		}
		if a.elementType != "" && el.ElementType != a.elementType {
			continue
		}
		st, ok := a.stats[el.Selector]
		if !ok {
			st = &types.SelectorStat{Selector: el.Selector, ElementType: el.ElementType}
			a.stats[el.Selector] = st
		}
		for _, ev := range el.Outcomes {
			st.AttemptCount++
			if ev.Success {
				st.SuccessCount++
			}
		}
	}
}

// ranked 返回排序后的前 topK 条统计：SuccessCount 降序，SuccessRate
// 降序决胜，选择器字典序兜底保证确定性。topK <= 0 时取默认上限。
// 从未成功过的选择器不进入排序，不向规划器推荐。
func (a *selectorAggregate) ranked(topK int) []types.SelectorStat {
	if topK <= 0 {
		topK = defaultSelectorTopK
	}

	out := make([]types.SelectorStat, 0, len(a.stats))
	for _, st := range a.stats {
		if st.SuccessCount == 0 {
			continue
		}
		st.SuccessRate = float64(st.SuccessCount) / float64(st.AttemptCount)
		out = append(out, *st)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessCount != out[j].SuccessCount {
			return out[i].SuccessCount > out[j].SuccessCount
		}
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Selector < out[j].Selector
	})

	if topK > len(out) {
		topK = len(out)
	}
	return out[:topK]
}
