package tools

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/rag"
	"github.com/BaSui01/webmem/types"
)

// 工具名称
const (
	ToolStorePage       = "store_page"
	ToolRetrieveSimilar = "retrieve_similar"
	ToolRankSelectors   = "rank_selectors"
	ToolRecordOutcome   = "record_outcome"
	ToolGetStats        = "get_stats"
	ToolPurge           = "purge"
	ToolClearSession    = "clear_session"
)

// RetrieveInput retrieve_similar 的入参.
type RetrieveInput struct {
	Query    string              `json:"query"`
	TopK     int                 `json:"top_k,omitempty"`
	Domain   string              `json:"domain,omitempty"`
	Category types.ChunkCategory `json:"category,omitempty"`
}

// RetrieveOutput retrieve_similar 的出参.
type RetrieveOutput struct {
	Results []types.PageResult `json:"results"`
}

// RankInput rank_selectors 的入参。URL 与 Query 二选一，URL 优先.
type RankInput struct {
	URL         string `json:"url,omitempty"`
	Query       string `json:"query,omitempty"`
	ElementType string `json:"element_type,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// RankOutput rank_selectors 的出参.
type RankOutput struct {
	Selectors []types.SelectorStat `json:"selectors"`
}

// OutcomeInput record_outcome 的入参.
type OutcomeInput struct {
	SnapshotID string `json:"snapshot_id,omitempty"`
	URL        string `json:"url,omitempty"`
	Selector   string `json:"selector"`
	Success    bool   `json:"success"`
}

// PurgeInput purge 的入参。SnapshotID 与 Domain 二选一.
type PurgeInput struct {
	SnapshotID string `json:"snapshot_id,omitempty"`
	Domain     string `json:"domain,omitempty"`
}

// PurgeOutput purge 的出参.
type PurgeOutput struct {
	Purged int `json:"purged"`
}

// ClearOutput clear_session 的出参.
type ClearOutput struct {
	Cleared bool `json:"cleared"`
}

// RegisterMemoryTools 把引擎的全部操作注册为工具.
func RegisterMemoryTools(registry *Registry, engine *rag.Engine, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	register := func(name, description string, handler Handler) error {
		return registry.Register(Definition{Name: name, Description: description}, handler)
	}

	if err := register(ToolStorePage,
		"Store a page snapshot into memory: chunk, embed and persist it",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var snap types.PageSnapshot
			if err := json.Unmarshal(input, &snap); err != nil {
				return nil, types.NewError(types.ErrMalformedSnapshot, "invalid snapshot payload").WithCause(err)
			}
			receipt, err := engine.StorePage(ctx, &snap)
			if err != nil {
				return nil, err
			}
			return json.Marshal(receipt)
		}); err != nil {
		return err
	}

	if err := register(ToolRetrieveSimilar,
		"Retrieve pages similar to a natural-language query",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in RetrieveInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, types.NewError(types.ErrInvalidConfig, "invalid retrieve payload").WithCause(err)
			}
			results := engine.RetrieveSimilar(ctx, in.Query, in.TopK, rag.Filter{
				Domain:   in.Domain,
				Category: in.Category,
			})
			return json.Marshal(RetrieveOutput{Results: results})
		}); err != nil {
		return err
	}

	if err := register(ToolRankSelectors,
		"Rank selectors by interaction success for a URL or query",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in RankInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, types.NewError(types.ErrInvalidConfig, "invalid rank payload").WithCause(err)
			}
			var stats []types.SelectorStat
			if in.URL != "" {
				stats = engine.RankSelectorsForURL(ctx, in.URL, in.ElementType)
			} else {
				stats = engine.RankSelectors(ctx, in.ElementType, in.Query, in.TopK, rag.Filter{Domain: in.Domain})
			}
			return json.Marshal(RankOutput{Selectors: stats})
		}); err != nil {
		return err
	}

	if err := register(ToolRecordOutcome,
		"Record the outcome of a selector interaction against a stored snapshot",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in OutcomeInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, types.NewError(types.ErrInvalidConfig, "invalid outcome payload").WithCause(err)
			}
			result := engine.RecordOutcome(ctx, rag.OutcomeRef{
				SnapshotID: in.SnapshotID,
				URL:        in.URL,
			}, in.Selector, in.Success)
			return json.Marshal(result)
		}); err != nil {
		return err
	}

	if err := register(ToolGetStats,
		"Return counts of stored snapshots, chunks and recorded actions",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			stats, err := engine.Stats(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(stats)
		}); err != nil {
		return err
	}

	if err := register(ToolPurge,
		"Delete a snapshot by id or all snapshots of a domain",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in PurgeInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, types.NewError(types.ErrInvalidConfig, "invalid purge payload").WithCause(err)
			}
			switch {
			case in.SnapshotID != "":
				if err := engine.PurgeSnapshot(ctx, in.SnapshotID); err != nil {
					return nil, err
				}
				return json.Marshal(PurgeOutput{Purged: 1})
			case in.Domain != "":
				n, err := engine.PurgeDomain(ctx, in.Domain)
				if err != nil {
					return nil, err
				}
				return json.Marshal(PurgeOutput{Purged: n})
			default:
				return nil, types.NewError(types.ErrInvalidConfig, "purge requires snapshot_id or domain")
			}
		}); err != nil {
		return err
	}

	if err := register(ToolClearSession,
		"Clear all stored memory for the current session",
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			if err := engine.ClearSession(ctx); err != nil {
				return nil, err
			}
			return json.Marshal(ClearOutput{Cleared: true})
		}); err != nil {
		return err
	}

	logger.Info("memory tools registered", zap.Int("count", len(registry.List())))
	return nil
}
