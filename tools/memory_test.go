package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/webmem/embedding"
	"github.com/BaSui01/webmem/rag"
	"github.com/BaSui01/webmem/types"
)

func newMemoryRegistry(t *testing.T) *Registry {
	t.Helper()
	engine, err := rag.NewEngine(rag.EngineConfig{
		Store:    rag.NewMemoryStore(rag.MemoryStoreConfig{}, nil),
		Embedder: embedding.NewHashProvider(64, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	registry := NewRegistry(nil)
	require.NoError(t, RegisterMemoryTools(registry, engine, nil))
	return registry
}

func loginSnapshotJSON(t *testing.T) json.RawMessage {
	t.Helper()
	snap := types.NewPageSnapshot("https://app.example.com/login", "log in")
	snap.Structure = types.PageStructure{
		Title: "Sign in",
		Elements: []types.InteractiveElement{
			{Selector: "#submit", ElementType: "button", Label: "Sign in"},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	return data
}

func TestRegisterMemoryTools_ListsAllTools(t *testing.T) {
	t.Parallel()

	registry := newMemoryRegistry(t)
	defs := registry.List()

	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	assert.Equal(t, []string{
		ToolStorePage, ToolRetrieveSimilar, ToolRankSelectors,
		ToolRecordOutcome, ToolGetStats, ToolPurge, ToolClearSession,
	}, names)
}

func TestMemoryTools_StoreRetrieveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	out, err := registry.Invoke(ctx, ToolStorePage, loginSnapshotJSON(t))
	require.NoError(t, err)
	var receipt rag.StoreReceipt
	require.NoError(t, json.Unmarshal(out, &receipt))
	assert.NotEmpty(t, receipt.SnapshotID)
	assert.Greater(t, receipt.Chunks, 0)

	query, _ := json.Marshal(RetrieveInput{Query: "sign in form", TopK: 3})
	out, err = registry.Invoke(ctx, ToolRetrieveSimilar, query)
	require.NoError(t, err)
	var retrieved RetrieveOutput
	require.NoError(t, json.Unmarshal(out, &retrieved))
	require.NotEmpty(t, retrieved.Results)
	assert.Equal(t, receipt.SnapshotID, retrieved.Results[0].SnapshotID)
}

func TestMemoryTools_OutcomeAndRanking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	out, err := registry.Invoke(ctx, ToolStorePage, loginSnapshotJSON(t))
	require.NoError(t, err)
	var receipt rag.StoreReceipt
	require.NoError(t, json.Unmarshal(out, &receipt))

	outcome, _ := json.Marshal(OutcomeInput{SnapshotID: receipt.SnapshotID, Selector: "#submit", Success: true})
	out, err = registry.Invoke(ctx, ToolRecordOutcome, outcome)
	require.NoError(t, err)
	var result rag.RecordResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, rag.RecordStatusRecorded, result.Status)

	rank, _ := json.Marshal(RankInput{URL: "https://app.example.com/login"})
	out, err = registry.Invoke(ctx, ToolRankSelectors, rank)
	require.NoError(t, err)
	var ranked RankOutput
	require.NoError(t, json.Unmarshal(out, &ranked))
	require.Len(t, ranked.Selectors, 1)
	assert.Equal(t, "#submit", ranked.Selectors[0].Selector)
	assert.Equal(t, 1, ranked.Selectors[0].SuccessCount)
}

func TestMemoryTools_SoftNotFoundOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	outcome, _ := json.Marshal(OutcomeInput{SnapshotID: "missing", Selector: "#x", Success: true})
	out, err := registry.Invoke(ctx, ToolRecordOutcome, outcome)
	require.NoError(t, err)
	var result rag.RecordResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, rag.RecordStatusNotFound, result.Status)
}

func TestMemoryTools_StatsPurgeClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	_, err := registry.Invoke(ctx, ToolStorePage, loginSnapshotJSON(t))
	require.NoError(t, err)

	out, err := registry.Invoke(ctx, ToolGetStats, nil)
	require.NoError(t, err)
	var stats types.StoreStats
	require.NoError(t, json.Unmarshal(out, &stats))
	assert.Equal(t, 1, stats.Snapshots)

	purge, _ := json.Marshal(PurgeInput{Domain: "app.example.com"})
	out, err = registry.Invoke(ctx, ToolPurge, purge)
	require.NoError(t, err)
	var purged PurgeOutput
	require.NoError(t, json.Unmarshal(out, &purged))
	assert.Equal(t, 1, purged.Purged)

	_, err = registry.Invoke(ctx, ToolStorePage, loginSnapshotJSON(t))
	require.NoError(t, err)
	out, err = registry.Invoke(ctx, ToolClearSession, nil)
	require.NoError(t, err)
	var cleared ClearOutput
	require.NoError(t, json.Unmarshal(out, &cleared))
	assert.True(t, cleared.Cleared)
}

func TestMemoryTools_InvalidPayloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	_, err := registry.Invoke(ctx, ToolStorePage, json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedSnapshot, types.GetErrorCode(err))

	_, err = registry.Invoke(ctx, ToolPurge, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	_, err = registry.Invoke(ctx, "unknown_tool", nil)
	require.Error(t, err)
}

func TestRegistry_CallReturnsErrorPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	out := registry.Call(ctx, ToolStorePage, json.RawMessage(`{not json`))
	var malformed ErrorPayload
	require.NoError(t, json.Unmarshal(out, &malformed))
	assert.Equal(t, "error", malformed.Status)
	assert.Equal(t, string(types.ErrMalformedSnapshot), malformed.Code)

	// 未注册工具的错误没有错误码
	out = registry.Call(ctx, "unknown_tool", nil)
	var unknown ErrorPayload
	require.NoError(t, json.Unmarshal(out, &unknown))
	assert.Equal(t, "error", unknown.Status)
	assert.Empty(t, unknown.Code)

	// 成功路径原样透传
	out = registry.Call(ctx, ToolStorePage, loginSnapshotJSON(t))
	var receipt rag.StoreReceipt
	require.NoError(t, json.Unmarshal(out, &receipt))
	assert.NotEmpty(t, receipt.SnapshotID)
}

func TestRegistry_CallRecoversPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(Definition{Name: "boom"},
		func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			panic("kaboom")
		}))

	out := registry.Call(ctx, "boom", nil)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(out, &payload))
	assert.Equal(t, "error", payload.Status)
	assert.Contains(t, payload.Message, "kaboom")
}

func TestRegistry_TracksStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := newMemoryRegistry(t)

	_, err := registry.Invoke(ctx, ToolStorePage, loginSnapshotJSON(t))
	require.NoError(t, err)
	_, _ = registry.Invoke(ctx, ToolStorePage, json.RawMessage(`{bad`))

	stats, ok := registry.StatsFor(ToolStorePage)
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Invocations)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(1), stats.Failures)
	assert.NotNil(t, stats.LastInvoked)
}

func TestRegistry_RejectsDuplicateAndInvalid(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	noop := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) { return nil, nil }

	require.NoError(t, registry.Register(Definition{Name: "t"}, noop))
	assert.Error(t, registry.Register(Definition{Name: "t"}, noop))
	assert.Error(t, registry.Register(Definition{}, noop))
	assert.Error(t, registry.Register(Definition{Name: "u"}, nil))
}
