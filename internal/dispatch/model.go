package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/fetchq/fetchq/internal/cache"
)

// ResourceID 标识一个可抓取的远端资源（参考实现中为 URI），
// 是缓存、ledger 与队列之间共享的连接键。
type ResourceID string

// Priority 是请求声明的优先级属性。当前调度不按优先级排序，
// 字段仅随请求记录，供日志与未来的优先级队列扩展使用。
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// ParsePriority 将配置中的 low/normal/high 映射为 Priority，未知值回退 normal。
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// RawResponse 承载一次网络抓取（或缓存条目回放）的原始结果。
// 传输层故障通过 Err 表达，永远不会以 panic/error 形式跨越执行边界。
type RawResponse struct {
	Status      int
	Header      http.Header
	Body        []byte
	NotModified bool
	Err         error
}

// OK 表示响应可以按成功结果解析。
func (r RawResponse) OK() bool {
	return r.Err == nil && r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// Executor 执行实际的网络抓取。实现必须把任何传输错误映射为带
// 失败状态的 RawResponse，且可被多个 worker 并发调用。prior 携带
// 既有缓存条目的元数据（可为 nil），供条件请求使用。
type Executor interface {
	Fetch(ctx context.Context, id ResourceID, prior *cache.Entry) RawResponse
}

// ExecutorFunc 将函数适配为 Executor，便于测试注入假执行器。
type ExecutorFunc func(ctx context.Context, id ResourceID, prior *cache.Entry) RawResponse

// Fetch makes ExecutorFunc satisfy Executor.
func (f ExecutorFunc) Fetch(ctx context.Context, id ResourceID, prior *cache.Entry) RawResponse {
	return f(ctx, id, prior)
}
