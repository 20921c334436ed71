package cache

import (
	"context"
	"errors"
)

// NewTieredStore 组合内存前置与磁盘后备两层缓存：读路径先查内存，
// 磁盘命中时回填内存；写路径先落盘再驻留内存，保证重启后仍可命中。
func NewTieredStore(front, back Store) Store {
	return &tieredStore{front: front, back: back}
}

type tieredStore struct {
	front Store
	back  Store
}

func (s *tieredStore) Get(ctx context.Context, key string) (*Entry, error) {
	entry, err := s.front.Get(ctx, key)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	entry, err = s.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if promoteErr := s.front.Put(ctx, key, *entry); promoteErr != nil {
		return nil, promoteErr
	}
	return entry, nil
}

func (s *tieredStore) Put(ctx context.Context, key string, entry Entry) error {
	if err := s.back.Put(ctx, key, entry); err != nil {
		return err
	}
	return s.front.Put(ctx, key, entry)
}

// Len 透传内存层条目数，磁盘层不参与计数。
func (s *tieredStore) Len() int {
	if counter, ok := s.front.(interface{ Len() int }); ok {
		return counter.Len()
	}
	return 0
}
