package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStorePutAndGet(t *testing.T) {
	store := NewMemoryStore()
	key := "https://example.com/resource"

	if err := store.Put(context.Background(), key, Entry{Body: []byte("cached")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "cached" {
		t.Fatalf("payload mismatch: %s", string(got.Body))
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("StoredAt 应被自动填充")
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "https://example.com/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	key := "https://example.com/shared"

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Put(context.Background(), key, Entry{Body: []byte("v")})
			if entry, err := store.Get(context.Background(), key); err == nil {
				if string(entry.Body) != "v" {
					t.Errorf("观察到写了一半的条目: %q", entry.Body)
				}
			}
		}()
	}
	wg.Wait()

	counter, ok := store.(interface{ Len() int })
	if !ok {
		t.Fatalf("memory store 应暴露 Len")
	}
	if counter.Len() != 1 {
		t.Fatalf("应只有一个条目，得到 %d", counter.Len())
	}
}

func TestTieredStorePromotesDiskHit(t *testing.T) {
	front := NewMemoryStore()
	back := newTestDiskStore(t)
	tiered := NewTieredStore(front, back)
	key := "https://example.com/tiered"

	// 直接写入磁盘层，模拟上一次进程留下的持久化条目。
	if err := back.Put(context.Background(), key, Entry{Body: []byte("persisted")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, err := tiered.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "persisted" {
		t.Fatalf("payload mismatch: %s", string(got.Body))
	}

	if _, err := front.Get(context.Background(), key); err != nil {
		t.Fatalf("磁盘命中后应回填内存层: %v", err)
	}
}

func TestTieredStorePutWritesBothLayers(t *testing.T) {
	front := NewMemoryStore()
	back := newTestDiskStore(t)
	tiered := NewTieredStore(front, back)
	key := "https://example.com/both"

	if err := tiered.Put(context.Background(), key, Entry{Body: []byte("data")}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, err := front.Get(context.Background(), key); err != nil {
		t.Fatalf("内存层未写入: %v", err)
	}
	if _, err := back.Get(context.Background(), key); err != nil {
		t.Fatalf("磁盘层未写入: %v", err)
	}
}
