package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fetchq/fetchq/internal/cache"
	"github.com/fetchq/fetchq/internal/logging"
)

const defaultNetworkWorkers = 2

// Options 注入调度器的外部协作者，Store 与 Executor 必填。
type Options struct {
	Store          cache.Store
	Executor       Executor
	Logger         *logrus.Logger
	NetworkWorkers int
}

// Dispatcher 拥有缓存/网络两级工作队列：一个缓存阶段 worker 与一小组
// 网络阶段 worker。可缓存请求先在 ledger 登记去重，再走
// “缓存查找 → 未命中回源 → 写缓存 → 完成 → 重放重复请求” 协议；
// 关闭缓存的请求绕过 ledger 直接进入网络阶段。
type Dispatcher struct {
	store   cache.Store
	exec    Executor
	logger  *logrus.Logger
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	seq    atomic.Uint64
	ledger *ledger
	cacheQ *taskQueue
	netQ   *taskQueue

	cacheWG sync.WaitGroup
	netWG   sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once

	submitted   atomic.Uint64
	deduped     atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	fetches     atomic.Uint64
	completed   atomic.Uint64
	canceled    atomic.Uint64
	failures    atomic.Uint64
}

// New 校验依赖并构造调度器；worker 需通过 Start 显式启动。
func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	workers := opts.NetworkWorkers
	if workers <= 0 {
		workers = defaultNetworkWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   opts.Store,
		exec:    opts.Executor,
		logger:  logger,
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		ledger:  newLedger(),
		cacheQ:  newTaskQueue(),
		netQ:    newTaskQueue(),
	}, nil
}

// Start 启动一个缓存阶段 worker 与固定数量的网络阶段 worker，幂等。
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.cacheWG.Add(1)
		go d.cacheWorker()
		for i := 0; i < d.workers; i++ {
			d.netWG.Add(1)
			go d.networkWorker()
		}
	})
}

// Add 提交请求并返回同一请求：分配单调序号后，关闭缓存的请求直接
// 进入网络阶段（不参与去重）；可缓存请求先在 ledger 登记，若同一
// 资源已有在途抓取则只登记等待，不再入队。提交方永不阻塞。
func (d *Dispatcher) Add(t Task) Task {
	t.assignSeq(d.seq.Add(1))
	d.submitted.Add(1)
	d.submit(t, true)
	return t
}

func (d *Dispatcher) submit(t Task, fresh bool) {
	if !t.Cacheable() {
		d.netQ.push(t)
		return
	}
	if d.ledger.registerOrJoin(t.Resource(), t) {
		d.cacheQ.push(t)
		return
	}
	if fresh {
		d.deduped.Add(1)
		d.logger.WithFields(d.taskFields("dedup_join", t, false)).Debug("joined in-flight fetch")
	}
}

// Close 停止接收新请求：先排空缓存队列，再排空网络队列，最后回收
// 全部 worker。关闭之后提交或重放的请求会被丢弃且不触发回调。
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.cacheQ.close()
		d.cacheWG.Wait()
		d.netQ.close()
		d.netWG.Wait()
		d.cancel()
	})
}

func (d *Dispatcher) cacheWorker() {
	defer d.cacheWG.Done()
	for {
		t, ok := d.cacheQ.pop()
		if !ok {
			return
		}
		if t.Canceled() {
			d.dropCanceled(t)
			continue
		}

		entry, err := d.store.Get(d.ctx, string(t.Resource()))
		switch {
		case err == nil:
			d.cacheHits.Add(1)
			d.finish(t, t.finishCached(*entry), true)
		case errors.Is(err, cache.ErrNotFound):
			d.cacheMisses.Add(1)
			d.netQ.push(t)
		default:
			// 读缓存故障按未命中处理，转入网络阶段。
			d.logger.WithError(err).WithFields(d.taskFields("cache_get_failed", t, false)).Warn(err.Error())
			d.cacheMisses.Add(1)
			d.netQ.push(t)
		}
	}
}

func (d *Dispatcher) networkWorker() {
	defer d.netWG.Done()
	for {
		t, ok := d.netQ.pop()
		if !ok {
			return
		}
		if t.Canceled() {
			d.dropCanceled(t)
			continue
		}

		d.fetches.Add(1)
		raw := d.exec.Fetch(d.ctx, t.Resource(), nil)
		err := t.finishFetched(raw, func(entry cache.Entry) {
			if putErr := d.store.Put(d.ctx, string(t.Resource()), entry); putErr != nil {
				d.logger.WithError(putErr).
					WithFields(d.taskFields("cache_put_failed", t, false)).
					Warn(putErr.Error())
			}
		})
		d.finish(t, err, false)
	}
}

// finish 统计完成结果，并无条件执行完成协议：不论成功或失败都排空
// ledger 并重放重复请求，避免它们永久饥饿。
func (d *Dispatcher) finish(t Task, err error, cacheHit bool) {
	d.completed.Add(1)
	if err != nil {
		d.failures.Add(1)
		d.logger.WithError(err).WithFields(d.taskFields("request_failed", t, cacheHit)).Warn(err.Error())
	} else {
		d.logger.WithFields(d.taskFields("request_completed", t, cacheHit)).Debug("request completed")
	}
	if t.Cacheable() {
		d.replay(t.Resource())
	}
}

// dropCanceled 静默丢弃已取消的请求；若它持有 ledger 登记，
// 同样排空并重放，防止重复请求被已取消的首个请求卡死。
func (d *Dispatcher) dropCanceled(t Task) {
	d.canceled.Add(1)
	d.logger.WithFields(d.taskFields("request_canceled", t, false)).Debug("request dropped")
	if t.Cacheable() {
		d.replay(t.Resource())
	}
}

// replay 把排空的重复请求重新送回提交路径：它们会经过真实的缓存
// 查找（而非直接拿到内存中的旧结果），且重新登记保证同一资源仍然
// 至多一个在途抓取，即便首次抓取失败、缓存仍为空。
func (d *Dispatcher) replay(id ResourceID) {
	for _, dup := range d.ledger.drain(id) {
		d.submit(dup, false)
	}
}

func (d *Dispatcher) taskFields(action string, t Task, cacheHit bool) logrus.Fields {
	return logging.RequestFields(action, string(t.Resource()), t.traceID(), t.Sequence(), cacheHit)
}

// Stats 汇总调度器的运行计数，供诊断接口输出 JSON。
type Stats struct {
	Submitted         uint64 `json:"submitted"`
	Deduplicated      uint64 `json:"deduplicated"`
	CacheHits         uint64 `json:"cache_hits"`
	CacheMisses       uint64 `json:"cache_misses"`
	Fetches           uint64 `json:"fetches"`
	Completed         uint64 `json:"completed"`
	Canceled          uint64 `json:"canceled"`
	Failures          uint64 `json:"failures"`
	CacheQueueDepth   int    `json:"cache_queue_depth"`
	NetworkQueueDepth int    `json:"network_queue_depth"`
	InFlight          int    `json:"in_flight"`
	CachedEntries     int    `json:"cached_entries"`
}

// Stats 采样当前计数与队列深度。
func (d *Dispatcher) Stats() Stats {
	stats := Stats{
		Submitted:         d.submitted.Load(),
		Deduplicated:      d.deduped.Load(),
		CacheHits:         d.cacheHits.Load(),
		CacheMisses:       d.cacheMisses.Load(),
		Fetches:           d.fetches.Load(),
		Completed:         d.completed.Load(),
		Canceled:          d.canceled.Load(),
		Failures:          d.failures.Load(),
		CacheQueueDepth:   d.cacheQ.depth(),
		NetworkQueueDepth: d.netQ.depth(),
		InFlight:          d.ledger.inFlight(),
	}
	if counter, ok := d.store.(interface{ Len() int }); ok {
		stats.CachedEntries = counter.Len()
	}
	return stats
}
