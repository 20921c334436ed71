package dispatch

import (
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fetchq/fetchq/internal/cache"
)

// Result 是送达调用方的最终结果：Value 与 Err 二选一。
type Result[T any] struct {
	Value T
	Err   error
}

// ParseFunc 把原始响应（来自网络或缓存回放）转换为类型化结果，
// 并可选地产出一个待持久化的缓存条目。解析必须是纯函数。
type ParseFunc[T any] func(RawResponse) (T, *cache.Entry, error)

// Sink 接收请求的最终结果，每个请求恰好被调用一次，且运行在
// worker 协程上；调用方不得假设回调之间的先后顺序。
type Sink[T any] func(Result[T])

// Task 是 Dispatcher 可调度的请求视图，由 NewRequest 构造的 Request 实现。
type Task interface {
	Resource() ResourceID
	Priority() Priority
	Sequence() uint64
	Cacheable() bool
	Cancel()
	Canceled() bool

	assignSeq(uint64)
	traceID() string
	finishCached(entry cache.Entry) error
	finishFetched(raw RawResponse, persist func(cache.Entry)) error
}

type requestAttrs struct {
	priority  Priority
	cacheable bool
}

// Option 调整请求的声明属性。
type Option func(*requestAttrs)

// WithPriority 声明请求优先级；当前调度不按优先级排序。
func WithPriority(p Priority) Option {
	return func(a *requestAttrs) {
		a.priority = p
	}
}

// WithoutCache 关闭缓存：请求绕过缓存阶段与去重，直接进入网络阶段。
func WithoutCache() Option {
	return func(a *requestAttrs) {
		a.cacheable = false
	}
}

// Request 是一次异步抓取请求。提交前归调用方所有；提交后由当前持有
// 它的阶段/worker 独占，协议保证任一时刻只有一个活跃持有者。
type Request[T any] struct {
	attrs    requestAttrs
	id       ResourceID
	trace    string
	seq      uint64
	canceled atomic.Bool
	parse    ParseFunc[T]
	sink     Sink[T]
}

// NewRequest 构造请求。cacheable 默认开启，优先级默认 normal，
// 每个请求自动携带一个 uuid 便于日志关联。
func NewRequest[T any](id ResourceID, parse ParseFunc[T], sink Sink[T], opts ...Option) *Request[T] {
	r := &Request[T]{
		attrs: requestAttrs{
			priority:  PriorityNormal,
			cacheable: true,
		},
		id:    id,
		trace: uuid.NewString(),
		parse: parse,
		sink:  sink,
	}
	for _, opt := range opts {
		opt(&r.attrs)
	}
	return r
}

// Resource 返回请求的资源标识。
func (r *Request[T]) Resource() ResourceID {
	return r.id
}

// Priority 返回声明的优先级。
func (r *Request[T]) Priority() Priority {
	return r.attrs.priority
}

// Sequence 返回提交时分配的单调序号，提交前为 0。
func (r *Request[T]) Sequence() uint64 {
	return r.seq
}

// Cacheable 表示请求是否参与缓存与去重。
func (r *Request[T]) Cacheable() bool {
	return r.attrs.cacheable
}

// Cancel 置位取消标记，幂等且不可撤销。worker 在取件时检查该标记，
// 已进入解析或网络调用的请求仍会正常完成。
func (r *Request[T]) Cancel() {
	r.canceled.Store(true)
}

// Canceled 返回取消标记。
func (r *Request[T]) Canceled() bool {
	return r.canceled.Load()
}

func (r *Request[T]) assignSeq(seq uint64) {
	r.seq = seq
}

func (r *Request[T]) traceID() string {
	return r.trace
}

// finishCached 把缓存条目按 200 响应回放给 parse 并投递结果。
// 命中路径忽略 parse 产出的缓存条目，不会重复写回。
func (r *Request[T]) finishCached(entry cache.Entry) error {
	raw := RawResponse{
		Status: http.StatusOK,
		Header: entry.Header,
		Body:   entry.Body,
	}
	value, _, err := r.parse(raw)
	if err != nil {
		r.sink(Result[T]{Err: err})
		return err
	}
	r.sink(Result[T]{Value: value})
	return nil
}

// finishFetched 解析网络响应；持久化发生在结果投递之前，
// 保证重放的重复请求能命中刚写入的条目。
func (r *Request[T]) finishFetched(raw RawResponse, persist func(cache.Entry)) error {
	value, entry, err := r.parse(raw)
	if err != nil {
		r.sink(Result[T]{Err: err})
		return err
	}
	if entry != nil && r.attrs.cacheable && persist != nil {
		persist(*entry)
	}
	r.sink(Result[T]{Value: value})
	return nil
}
