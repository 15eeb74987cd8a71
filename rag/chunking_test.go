package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/webmem/types"
)

func fullSnapshot() *types.PageSnapshot {
	snap := types.NewPageSnapshot("https://shop.example.com/checkout", "buy a keyboard")
	snap.Structure = types.PageStructure{
		Title:      "Checkout",
		Navigation: []string{"Home", "Cart", "Checkout"},
		Elements: []types.InteractiveElement{
			{Selector: "#pay", ElementType: "button", Label: "Pay now"},
			{Selector: "#coupon", ElementType: "input", Label: "Coupon code"},
			{Selector: "a.back", ElementType: "link", Label: "Back to cart", Href: "/cart"},
		},
		Forms: []types.Form{
			{ID: "payment", Action: "/pay", Fields: []types.FormField{
				{Name: "card", Type: "text"},
				{Name: "cvv", Type: "password"},
			}},
		},
		Sections: []types.ContentSection{
			{Kind: "div", Class: "summary", Preview: "Order total: $42.00"},
		},
		Popups: []types.Popup{
			{Kind: "cookie-banner", Role: "dialog", Class: "consent",
				CloseButton: &types.PopupButton{Selector: "#accept", Text: "Accept"}},
		},
	}
	snap.ActionHistory = []types.ActionRecord{
		{Action: "click", Selector: "#cart", Success: true},
		{Action: "fill", Selector: "#coupon", Success: false},
	}
	return snap
}

func TestSnapshotChunker_Chunk(t *testing.T) {
	t.Parallel()

	chunker := NewSnapshotChunker(ChunkerConfig{}, nil, nil)
	chunks, err := chunker.Chunk(fullSnapshot())
	require.NoError(t, err)

	// 每个已填充类别至少一个 chunk，header 永远在最前
	byCategory := make(map[types.ChunkCategory]int)
	for _, ch := range chunks {
		byCategory[ch.Category]++
	}
	assert.Equal(t, types.ChunkHeader, chunks[0].Category)
	for _, cat := range []types.ChunkCategory{
		types.ChunkHeader, types.ChunkInteractive, types.ChunkForms,
		types.ChunkPopups, types.ChunkContent, types.ChunkHistory,
	} {
		assert.GreaterOrEqual(t, byCategory[cat], 1, "category %s missing", cat)
	}

	// header 携带标题、URL 与任务上下文
	header := chunks[0].Text
	assert.Contains(t, header, "Page: Checkout")
	assert.Contains(t, header, "URL: https://shop.example.com/checkout")
	assert.Contains(t, header, "Task Context: buy a keyboard")
	assert.Contains(t, header, "Navigation: Home, Cart, Checkout")
}

func TestSnapshotChunker_AtomicGroups(t *testing.T) {
	t.Parallel()

	chunker := NewSnapshotChunker(ChunkerConfig{}, nil, nil)
	chunks, err := chunker.Chunk(fullSnapshot())
	require.NoError(t, err)

	var interactive, forms string
	for _, ch := range chunks {
		switch ch.Category {
		case types.ChunkInteractive:
			interactive += ch.Text
		case types.ChunkForms:
			forms += ch.Text
		}
	}

	// 元素的选择器+标签+类型在同一 chunk 内
	assert.Contains(t, interactive, "- Pay now (button): #pay")
	assert.Contains(t, interactive, "- Back to cart (link): a.back -> /cart")
	// 表单与其字段列表从不拆分
	assert.Contains(t, forms, "- payment [/pay]: card (text), cvv (password)")
}

func TestSnapshotChunker_EmptySnapshot(t *testing.T) {
	t.Parallel()

	chunker := NewSnapshotChunker(ChunkerConfig{}, nil, nil)

	snap := types.NewPageSnapshot("https://example.com", "")
	_, err := chunker.Chunk(snap)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedSnapshot, types.GetErrorCode(err))

	_, err = chunker.Chunk(nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedSnapshot, types.GetErrorCode(err))
}

func TestSnapshotChunker_HistoryOnlySnapshot(t *testing.T) {
	t.Parallel()

	// 结构为空但有动作历史的快照仍可分块
	snap := types.NewPageSnapshot("https://example.com", "")
	snap.ActionHistory = []types.ActionRecord{
		{Action: "click", Selector: "#next", Success: true},
	}

	chunker := NewSnapshotChunker(ChunkerConfig{}, nil, nil)
	chunks, err := chunker.Chunk(snap)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, types.ChunkHeader, chunks[0].Category)
	assert.Equal(t, types.ChunkHistory, chunks[1].Category)
	assert.Contains(t, chunks[1].Text, "- click: #next [ok]")
}

func TestSnapshotChunker_SplitsCategoryOverBudget(t *testing.T) {
	t.Parallel()

	snap := types.NewPageSnapshot("https://example.com/big", "")
	snap.Structure.Title = "Big page"
	for i := 0; i < 30; i++ {
		snap.Structure.Elements = append(snap.Structure.Elements, types.InteractiveElement{
			Selector:    fmt.Sprintf("#element-%d", i),
			ElementType: "button",
			Label:       fmt.Sprintf("Action button number %d with a fairly long label", i),
		})
	}

	chunker := NewSnapshotChunker(ChunkerConfig{TargetTokens: 60}, nil, nil)
	chunks, err := chunker.Chunk(snap)
	require.NoError(t, err)

	var interactive []ChunkText
	for _, ch := range chunks {
		if ch.Category == types.ChunkInteractive {
			interactive = append(interactive, ch)
		}
	}
	// 溢出预算拆分为多个同类别 chunk，每个都带前缀行
	require.Greater(t, len(interactive), 1)
	joined := ""
	for _, ch := range interactive {
		assert.True(t, strings.HasPrefix(ch.Text, "Interactive Elements:"))
		joined += ch.Text
	}
	// 原子行不跨 chunk 拆分：每个选择器完整出现一次
	for i := 0; i < 30; i++ {
		assert.Contains(t, joined, fmt.Sprintf("#element-%d", i))
	}
}

func TestSnapshotChunker_CapsEntriesPerCategory(t *testing.T) {
	t.Parallel()

	snap := types.NewPageSnapshot("https://example.com/huge", "")
	snap.Structure.Title = "Huge page"
	for i := 0; i < maxElementsPerSnapshot+20; i++ {
		snap.Structure.Elements = append(snap.Structure.Elements, types.InteractiveElement{
			Selector:    fmt.Sprintf("#e%d", i),
			ElementType: "button",
			Label:       fmt.Sprintf("b%d", i),
		})
	}

	chunker := NewSnapshotChunker(ChunkerConfig{}, nil, nil)
	chunks, err := chunker.Chunk(snap)
	require.NoError(t, err)

	joined := ""
	for _, ch := range chunks {
		if ch.Category == types.ChunkInteractive {
			joined += ch.Text + "\n"
		}
	}
	assert.Contains(t, joined, fmt.Sprintf("#e%d\n", maxElementsPerSnapshot-1))
	assert.NotContains(t, joined, fmt.Sprintf("#e%d\n", maxElementsPerSnapshot))
}

func TestTruncateToTokens(t *testing.T) {
	t.Parallel()

	tok := NewEstimatorTokenizer()

	assert.Equal(t, "", truncateToTokens(tok, "anything", 0))
	assert.Equal(t, "short", truncateToTokens(tok, "short", 100))

	long := strings.Repeat("abcd ", 200)
	out := truncateToTokens(tok, long, 10)
	assert.LessOrEqual(t, tok.CountTokens(out), 10)
	assert.NotEmpty(t, out)
	assert.True(t, strings.HasPrefix(long, out))
}
