package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta"

// NewDiskStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// 磁盘布局为 <basePath>/<host>/<path>，每个条目由正文文件与 .meta 元数据组成。
func NewDiskStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &diskStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// diskStore 通过 entryLock 避免同一 key 并发写入，同时复用 basePath。
type diskStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *diskStore) Get(ctx context.Context, key string) (*Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// 与 Put 持同一把条目锁，避免读到新正文配旧元数据的组合。
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// 元数据缺失视为写入未完成，不作为命中返回。
	metaRaw, err := os.ReadFile(filePath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(metaRaw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}
	entry.Body = body
	if entry.StoredAt.IsZero() {
		entry.StoredAt = info.ModTime()
	}
	return &entry, nil
}

func (s *diskStore) Put(ctx context.Context, key string, entry Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	if err := writeAtomic(filePath, entry.Body); err != nil {
		return err
	}

	metaRaw, err := json.Marshal(entry)
	if err != nil {
		os.Remove(filePath)
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := writeAtomic(filePath+metaSuffix, metaRaw); err != nil {
		os.Remove(filePath)
		return err
	}
	return nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(filePath string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *diskStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 将资源 URI 映射为磁盘路径；无法解析或主机名不适合做目录名
// 的 key 落入 _misc 摘要桶。
func (s *diskStore) entryPath(key string) (string, error) {
	parsed, err := url.Parse(key)
	if err != nil || !safeHostDir(parsed.Host) {
		sum := sha1.Sum([]byte(key))
		return filepath.Join(s.basePath, "_misc", hex.EncodeToString(sum[:])), nil
	}

	rel := parsed.Path
	if parsed.RawQuery != "" {
		sum := sha1.Sum([]byte(parsed.RawQuery))
		rel += "_q" + hex.EncodeToString(sum[:8])
	}
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	filePath := filepath.Join(s.basePath, parsed.Host, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, filepath.Join(s.basePath, parsed.Host)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

// safeHostDir 判断主机名能否直接用作缓存根下的目录名。主机名来自
// 调用方的 URL，".."、分隔符之类的值会让 Join 结果逃出缓存根目录。
func safeHostDir(host string) bool {
	if host == "" || strings.Contains(host, "..") || strings.ContainsAny(host, `/\`) {
		return false
	}
	return filepath.IsLocal(host)
}
