package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责缓存条目的读写，Get/Put 彼此原子，不会观察到写了一半的条目。
type Store interface {
	// Get 返回 key 对应的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Entry, error)

	// Put 写入（或覆盖）key 对应的缓存条目。
	Put(ctx context.Context, key string, entry Entry) error
}

// Entry 表示一次缓存命中结果，Body 与 Header 对调用方只读。
type Entry struct {
	Body     []byte      `json:"-"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

// ErrNotFound 表示缓存不存在，属于正常结果而非故障。
var ErrNotFound = errors.New("cache entry not found")
