// Package tools 将页面记忆引擎的操作暴露为可按名称调用的工具，
// 供 MCP 服务器或 agent 工具层挂载。
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/webmem/types"
)

// Definition 描述一个已注册工具.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Handler 执行一个工具调用.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Stats 工具调用统计.
type Stats struct {
	Invocations int64         `json:"invocations"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastInvoked *time.Time    `json:"last_invoked,omitempty"`
}

type instance struct {
	definition Definition
	handler    Handler
	stats      Stats
}

// Registry 工具注册表，按名称分发调用并跟踪使用统计.
type Registry struct {
	tools  map[string]*instance
	order  []string
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRegistry 创建工具注册表.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*instance),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册一个工具，重名时返回错误.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = &instance{definition: def, handler: handler}
	r.order = append(r.order, def.Name)

	r.logger.Info("tool registered", zap.String("name", def.Name))
	return nil
}

// List 按注册顺序返回全部工具定义.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].definition)
	}
	return defs
}

// Invoke 按名称调用工具.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	start := time.Now()
	result, err := tool.handler(ctx, input)
	latency := time.Since(start)

	r.mu.Lock()
	tool.stats.Invocations++
	if err != nil {
		tool.stats.Failures++
	} else {
		tool.stats.Successes++
	}
	now := time.Now()
	tool.stats.LastInvoked = &now
	n := tool.stats.Invocations
	tool.stats.AvgLatency = time.Duration((int64(tool.stats.AvgLatency)*(n-1) + int64(latency)) / n)
	r.mu.Unlock()

	return result, err
}

// ErrorPayload 工具调用失败时返回给调用方的载荷.
type ErrorPayload struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Call 调用工具并把失败转成错误载荷，供不区分 Go error 的传输层使用。
// handler 内的 panic 也会被捕获并转成载荷.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (out json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", zap.String("name", name), zap.Any("panic", rec))
			out, _ = json.Marshal(ErrorPayload{
				Status:  "error",
				Message: fmt.Sprintf("tool %s panicked: %v", name, rec),
			})
		}
	}()

	result, err := r.Invoke(ctx, name, input)
	if err != nil {
		payload := ErrorPayload{Status: "error", Message: err.Error()}
		if code := types.GetErrorCode(err); code != "" {
			payload.Code = string(code)
		}
		out, _ = json.Marshal(payload)
		return out
	}
	return result
}

// StatsFor 返回某个工具的调用统计.
func (r *Registry) StatsFor(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Stats{}, false
	}
	return tool.stats, true
}
