package rag

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// 单个快照各结构类别纳入分块的条目上限，保证 chunk 数量有界。
const (
	maxElementsPerSnapshot = 50
	maxFormsPerSnapshot    = 10
	maxPopupsPerSnapshot   = 10
	maxSectionsPerSnapshot = 20
	maxHistoryPerSnapshot  = 10
)

// ChunkText 是尚未嵌入的分块文本及其结构类别.
type ChunkText struct {
	Category types.ChunkCategory
	Text     string
}

// ChunkerConfig 分块配置.
type ChunkerConfig struct {
	// 单个 chunk 的目标 token 数上限，默认 250。
	// 通过截断近似执行，不做精确 token 计数。
	TargetTokens int
}

// SnapshotChunker 将一个页面快照转换为少量语义连贯的分块文本。
//
// 每个已填充的结构类别产出至少一个 chunk；空类别不产出 chunk，
// 因此每个快照的 chunk 数量是可变的。原子组（元素的选择器+标签+类型、
// 表单+字段列表）永不拆分；类别溢出预算时拆分为多个同类别 chunk，
// 绝不混合类别。
type SnapshotChunker struct {
	targetTokens int
	tokenizer    Tokenizer
	logger       *zap.Logger
}

// NewSnapshotChunker 创建快照分块器.
func NewSnapshotChunker(config ChunkerConfig, tokenizer Tokenizer, logger *zap.Logger) *SnapshotChunker {
	if config.TargetTokens <= 0 {
		config.TargetTokens = 250
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorTokenizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotChunker{
		targetTokens: config.TargetTokens,
		tokenizer:    tokenizer,
		logger:       logger.With(zap.String("component", "chunker")),
	}
}

// Chunk 将快照转换为有序的分块文本列表。
// 仅当快照完全没有可提取结构时返回 MALFORMED_SNAPSHOT；
// 部分填充的快照降级为尽力而为的 header chunk。
func (c *SnapshotChunker) Chunk(snap *types.PageSnapshot) ([]ChunkText, error) {
	if snap == nil {
		return nil, types.NewError(types.ErrMalformedSnapshot, "snapshot is nil")
	}
	if snap.Structure.Empty() && len(snap.ActionHistory) == 0 {
		return nil, types.NewError(types.ErrMalformedSnapshot,
			"snapshot has no extractable structure: no title, elements, forms or content")
	}

	var chunks []ChunkText

	chunks = append(chunks, ChunkText{
		Category: types.ChunkHeader,
		Text:     c.headerText(snap),
	})

	chunks = append(chunks, c.packLines(types.ChunkInteractive,
		"Interactive Elements:", elementLines(snap.Structure.Elements))...)
	chunks = append(chunks, c.packLines(types.ChunkForms,
		"Forms:", formLines(snap.Structure.Forms))...)
	chunks = append(chunks, c.packLines(types.ChunkPopups,
		"Popups/Modals Detected:", popupLines(snap.Structure.Popups))...)
	chunks = append(chunks, c.packLines(types.ChunkContent,
		"Content Sections:", sectionLines(snap.Structure.Sections))...)
	chunks = append(chunks, c.packLines(types.ChunkHistory,
		fmt.Sprintf("Actions Taken: %d interactions", len(snap.ActionHistory)),
		historyLines(snap.ActionHistory))...)

	c.logger.Debug("snapshot chunked",
		zap.String("snapshot_id", snap.ID),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}

// headerText 组装 header chunk：页面标题、URL、任务上下文与导航标签。
func (c *SnapshotChunker) headerText(snap *types.PageSnapshot) string {
	var b strings.Builder
	title := snap.Structure.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&b, "Page: %s\n", title)
	fmt.Fprintf(&b, "URL: %s", snap.URL)
	if snap.TaskContext != "" {
		fmt.Fprintf(&b, "\nTask Context: %s", snap.TaskContext)
	}
	if len(snap.Structure.Navigation) > 0 {
		fmt.Fprintf(&b, "\nNavigation: %s", strings.Join(snap.Structure.Navigation, ", "))
	}
	return truncateToTokens(c.tokenizer, b.String(), c.targetTokens)
}

// packLines 将一组原子行打包为若干同类别 chunk。
// 每个 chunk 都带类别前缀行；单行超出预算时按 rune 截断，
// 行与行之间永不拆分。
func (c *SnapshotChunker) packLines(category types.ChunkCategory, prefix string, lines []string) []ChunkText {
	if len(lines) == 0 {
		return nil
	}

	prefixTokens := c.tokenizer.CountTokens(prefix)
	var out []ChunkText
	var current []string
	currentTokens := prefixTokens

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, ChunkText{
			Category: category,
			Text:     prefix + "\n" + strings.Join(current, "\n"),
		})
		current = nil
		currentTokens = prefixTokens
	}

	for _, line := range lines {
		line = truncateToTokens(c.tokenizer, line, c.targetTokens-prefixTokens)
		lineTokens := c.tokenizer.CountTokens(line)
		if len(current) > 0 && currentTokens+lineTokens > c.targetTokens {
			flush()
		}
		current = append(current, line)
		currentTokens += lineTokens
	}
	flush()

	return out
}

func elementLines(elements []types.InteractiveElement) []string {
	lines := make([]string, 0, len(elements))
	for i, el := range elements {
		if i >= maxElementsPerSnapshot {
			break
		}
		line := fmt.Sprintf("- %s (%s): %s", el.Label, el.ElementType, el.Selector)
		if el.Href != "" {
			line += " -> " + el.Href
		}
		lines = append(lines, line)
	}
	return lines
}

func formLines(forms []types.Form) []string {
	lines := make([]string, 0, len(forms))
	for i, f := range forms {
		if i >= maxFormsPerSnapshot {
			break
		}
		fields := make([]string, 0, len(f.Fields))
		for _, fld := range f.Fields {
			if fld.Type != "" {
				fields = append(fields, fmt.Sprintf("%s (%s)", fld.Name, fld.Type))
			} else {
				fields = append(fields, fld.Name)
			}
		}
		line := "- " + f.ID
		if f.Action != "" {
			line += " [" + f.Action + "]"
		}
		if len(fields) > 0 {
			line += ": " + strings.Join(fields, ", ")
		}
		lines = append(lines, line)
	}
	return lines
}

func popupLines(popups []types.Popup) []string {
	lines := make([]string, 0, len(popups))
	for i, p := range popups {
		if i >= maxPopupsPerSnapshot {
			break
		}
		line := fmt.Sprintf("- %s: role=%s, class=%s", p.Kind, p.Role, p.Class)
		if p.CloseButton != nil && p.CloseButton.Selector != "" {
			line += fmt.Sprintf("; close: %s ('%s')", p.CloseButton.Selector, p.CloseButton.Text)
		}
		lines = append(lines, line)
	}
	return lines
}

func sectionLines(sections []types.ContentSection) []string {
	lines := make([]string, 0, len(sections))
	for i, s := range sections {
		if i >= maxSectionsPerSnapshot {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s.%s: %s", s.Kind, s.Class, s.Preview))
	}
	return lines
}

func historyLines(history []types.ActionRecord) []string {
	lines := make([]string, 0, len(history))
	for i, a := range history {
		if i >= maxHistoryPerSnapshot {
			break
		}
		status := "failed"
		if a.Success {
			status = "ok"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s [%s]", a.Action, a.Selector, status))
	}
	return lines
}

// truncateToTokens 以二分法找到不超过 token 预算的最长 rune 前缀.
func truncateToTokens(tok Tokenizer, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if tok.CountTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tok.CountTokens(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
