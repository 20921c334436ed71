package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/fetchq/fetchq/internal/cache"
)

// checkRaw 把传输故障与非成功状态映射为类型化失败。
func checkRaw(raw RawResponse) error {
	if raw.Err != nil {
		return &TransportError{Err: raw.Err}
	}
	if !raw.OK() {
		return &StatusError{Status: raw.Status}
	}
	return nil
}

// BytesParser 原样返回正文，并在成功时产出可持久化的缓存条目。
func BytesParser() ParseFunc[[]byte] {
	return func(raw RawResponse) ([]byte, *cache.Entry, error) {
		if err := checkRaw(raw); err != nil {
			return nil, nil, err
		}
		return raw.Body, &cache.Entry{Body: raw.Body, Header: raw.Header}, nil
	}
}

// StringParser 把正文解释为字符串。
func StringParser() ParseFunc[string] {
	return func(raw RawResponse) (string, *cache.Entry, error) {
		if err := checkRaw(raw); err != nil {
			return "", nil, err
		}
		return string(raw.Body), &cache.Entry{Body: raw.Body, Header: raw.Header}, nil
	}
}

// JSONParser 把正文反序列化为 T，形状不符时返回 ParseError。
func JSONParser[T any]() ParseFunc[T] {
	return func(raw RawResponse) (T, *cache.Entry, error) {
		var value T
		if err := checkRaw(raw); err != nil {
			return value, nil, err
		}
		if err := json.Unmarshal(raw.Body, &value); err != nil {
			return value, nil, &ParseError{Err: fmt.Errorf("decode json: %w", err)}
		}
		return value, &cache.Entry{Body: raw.Body, Header: raw.Header}, nil
	}
}
