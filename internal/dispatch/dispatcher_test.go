package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/fetchq/fetchq/internal/cache"
)

func TestCoalescesConcurrentFetches(t *testing.T) {
	const clients = 16
	id := ResourceID("https://example.com/r1")

	gate := make(chan struct{})
	entered := make(chan struct{}, clients)
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, got ResourceID, prior *cache.Entry) RawResponse {
		calls.Add(1)
		entered <- struct{}{}
		<-gate
		return RawResponse{Status: http.StatusOK, Body: []byte("hello"), Header: http.Header{}}
	})

	store := cache.NewMemoryStore()
	d := newTestDispatcher(t, store, exec, 2)

	var wg sync.WaitGroup
	results := make([]Result[string], clients)
	var counts [clients]atomic.Int32

	wg.Add(1)
	d.Add(NewRequest(id, StringParser(), func(res Result[string]) {
		counts[0].Add(1)
		results[0] = res
		wg.Done()
	}))

	// 等首个抓取真正在途后再提交重复请求，保证它们落入 ledger。
	<-entered
	for i := 1; i < clients; i++ {
		i := i
		wg.Add(1)
		d.Add(NewRequest(id, StringParser(), func(res Result[string]) {
			counts[i].Add(1)
			results[i] = res
			wg.Done()
		}))
	}
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("同一资源的并发请求应只触发一次网络抓取，得到 %d", got)
	}
	for i, res := range results {
		if res.Err != nil || res.Value != "hello" {
			t.Fatalf("请求 %d 结果不符: %+v", i, res)
		}
		if counts[i].Load() != 1 {
			t.Fatalf("请求 %d 的回调应恰好触发一次，得到 %d", i, counts[i].Load())
		}
	}

	if _, err := store.Get(context.Background(), string(id)); err != nil {
		t.Fatalf("抓取完成后缓存应持有条目: %v", err)
	}

	stats := d.Stats()
	if stats.Fetches != 1 || stats.Deduplicated != clients-1 {
		t.Fatalf("统计不符: %+v", stats)
	}
	if stats.CacheHits != clients-1 {
		t.Fatalf("重放的重复请求应全部命中缓存: %+v", stats)
	}
}

func TestCacheHitShortCircuit(t *testing.T) {
	id := ResourceID("https://example.com/warm")
	store := cache.NewMemoryStore()
	if err := store.Put(context.Background(), string(id), cache.Entry{Body: []byte("warm")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, ResourceID, *cache.Entry) RawResponse {
		calls.Add(1)
		return RawResponse{Status: http.StatusOK}
	})
	d := newTestDispatcher(t, store, exec, 2)

	done := make(chan Result[string], 1)
	d.Add(NewRequest(id, StringParser(), func(res Result[string]) {
		done <- res
	}))

	res := <-done
	if res.Err != nil || res.Value != "warm" {
		t.Fatalf("命中结果不符: %+v", res)
	}
	if calls.Load() != 0 {
		t.Fatalf("缓存命中的请求不应触发网络抓取")
	}
}

func TestNonCacheableBypass(t *testing.T) {
	id := ResourceID("https://example.com/volatile")
	store := &countingStore{Store: cache.NewMemoryStore()}
	if err := store.Put(context.Background(), string(id), cache.Entry{Body: []byte("stale")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	store.gets.Store(0)

	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, ResourceID, *cache.Entry) RawResponse {
		calls.Add(1)
		return RawResponse{Status: http.StatusOK, Body: []byte("fresh")}
	})
	d := newTestDispatcher(t, store, exec, 2)

	done := make(chan Result[string], 2)
	sink := func(res Result[string]) { done <- res }
	d.Add(NewRequest(id, StringParser(), sink, WithoutCache()))
	d.Add(NewRequest(id, StringParser(), sink, WithoutCache()))

	for i := 0; i < 2; i++ {
		if res := <-done; res.Err != nil || res.Value != "fresh" {
			t.Fatalf("结果不符: %+v", res)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("关闭缓存的请求不参与去重，应各自抓取一次，得到 %d", calls.Load())
	}
	if store.gets.Load() != 0 {
		t.Fatalf("关闭缓存的请求不应查询缓存，查询了 %d 次", store.gets.Load())
	}
}

func TestCanceledBeforePickupNeverCompletes(t *testing.T) {
	id := ResourceID("https://example.com/doomed")
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, ResourceID, *cache.Entry) RawResponse {
		calls.Add(1)
		return RawResponse{Status: http.StatusOK}
	})

	d, err := New(Options{Store: cache.NewMemoryStore(), Executor: exec, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	var fired atomic.Int32
	req := NewRequest(id, StringParser(), func(Result[string]) {
		fired.Add(1)
	})
	// worker 尚未启动，取消必然先于取件被观察到。
	d.Add(req)
	req.Cancel()

	d.Start()
	d.Close()

	if fired.Load() != 0 {
		t.Fatalf("已取消的请求不应触发回调")
	}
	if calls.Load() != 0 {
		t.Fatalf("已取消的请求不应触发网络抓取")
	}
	if stats := d.Stats(); stats.Canceled != 1 {
		t.Fatalf("统计应记录一次取消: %+v", stats)
	}
}

func TestCanceledFirstReleasesDuplicates(t *testing.T) {
	id := ResourceID("https://example.com/shared")
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, ResourceID, *cache.Entry) RawResponse {
		calls.Add(1)
		return RawResponse{Status: http.StatusOK, Body: []byte("late")}
	})

	d, err := New(Options{Store: cache.NewMemoryStore(), Executor: exec, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	var firstFired atomic.Int32
	first := NewRequest(id, StringParser(), func(Result[string]) {
		firstFired.Add(1)
	})
	done := make(chan Result[string], 1)
	dup := NewRequest(id, StringParser(), func(res Result[string]) {
		done <- res
	})

	d.Add(first)
	d.Add(dup)
	first.Cancel()
	d.Start()

	res := <-done
	if res.Err != nil || res.Value != "late" {
		t.Fatalf("重复请求应在首个请求取消后照常完成: %+v", res)
	}
	if firstFired.Load() != 0 {
		t.Fatalf("已取消的首个请求不应触发回调")
	}
	if calls.Load() != 1 {
		t.Fatalf("重复请求接棒后应只抓取一次，得到 %d", calls.Load())
	}
}

func TestFailureStillReplaysDuplicates(t *testing.T) {
	const clients = 4
	id := ResourceID("https://example.com/broken")

	gate := make(chan struct{})
	entered := make(chan struct{}, clients)
	cause := errors.New("connection refused")
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, ResourceID, *cache.Entry) RawResponse {
		calls.Add(1)
		entered <- struct{}{}
		<-gate
		return RawResponse{Err: cause}
	})

	d := newTestDispatcher(t, cache.NewMemoryStore(), exec, 2)

	var wg sync.WaitGroup
	errs := make([]error, clients)
	wg.Add(1)
	d.Add(NewRequest(id, StringParser(), func(res Result[string]) {
		errs[0] = res.Err
		wg.Done()
	}))
	<-entered
	for i := 1; i < clients; i++ {
		i := i
		wg.Add(1)
		d.Add(NewRequest(id, StringParser(), func(res Result[string]) {
			errs[i] = res.Err
			wg.Done()
		}))
	}
	close(gate)
	wg.Wait()
	// 回调先于完成协议触发，先关停再取统计，避免读到中间状态。
	d.Close()

	for i, err := range errs {
		if err == nil || !errors.Is(err, cause) {
			t.Fatalf("请求 %d 应收到传输失败结果，得到 %v", i, err)
		}
	}
	// 失败不写缓存，重放的重复请求各自回源；去重窗口只覆盖在途期间。
	if calls.Load() != clients {
		t.Fatalf("失败重放后每个请求各自抓取一次，得到 %d", calls.Load())
	}
	if stats := d.Stats(); stats.Failures != clients || stats.InFlight != 0 {
		t.Fatalf("统计不符: %+v", stats)
	}
}

// countingStore wraps a Store and counts Get calls.
type countingStore struct {
	cache.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, key)
}

func newTestDispatcher(t *testing.T, store cache.Store, exec Executor, workers int) *Dispatcher {
	t.Helper()
	d, err := New(Options{
		Store:          store,
		Executor:       exec,
		Logger:         quietLogger(),
		NetworkWorkers: workers,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.Start()
	t.Cleanup(d.Close)
	return d
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
