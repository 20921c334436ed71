package dispatch

import (
	"errors"
	"net/http"
	"testing"

	"github.com/fetchq/fetchq/internal/cache"
)

func TestNewRequestDefaults(t *testing.T) {
	r := NewRequest("https://example.com/a", BytesParser(), func(Result[[]byte]) {})
	if !r.Cacheable() {
		t.Fatalf("cacheable 默认应为 true")
	}
	if r.Priority() != PriorityNormal {
		t.Fatalf("优先级默认应为 normal")
	}
	if r.Sequence() != 0 {
		t.Fatalf("提交前序号应为 0")
	}
	if r.traceID() == "" {
		t.Fatalf("请求应自动携带 trace id")
	}
}

func TestNewRequestOptions(t *testing.T) {
	r := NewRequest("https://example.com/a", BytesParser(), func(Result[[]byte]) {},
		WithPriority(PriorityHigh), WithoutCache())
	if r.Cacheable() {
		t.Fatalf("WithoutCache 应关闭缓存")
	}
	if r.Priority() != PriorityHigh {
		t.Fatalf("WithPriority 未生效")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	r := NewRequest("https://example.com/a", BytesParser(), func(Result[[]byte]) {})
	if r.Canceled() {
		t.Fatalf("canceled 默认应为 false")
	}
	r.Cancel()
	r.Cancel()
	if !r.Canceled() {
		t.Fatalf("Cancel 置位后应保持 true")
	}
}

func TestFinishFetchedPersistsBeforeSink(t *testing.T) {
	order := []string{}
	r := NewRequest("https://example.com/a", BytesParser(), func(Result[[]byte]) {
		order = append(order, "sink")
	})

	raw := RawResponse{Status: http.StatusOK, Body: []byte("body"), Header: http.Header{}}
	err := r.finishFetched(raw, func(cache.Entry) {
		order = append(order, "persist")
	})
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(order) != 2 || order[0] != "persist" || order[1] != "sink" {
		t.Fatalf("持久化必须发生在结果投递之前，得到 %v", order)
	}
}

func TestFinishFetchedSkipsPersistForUncacheable(t *testing.T) {
	r := NewRequest("https://example.com/a", BytesParser(), func(Result[[]byte]) {}, WithoutCache())
	persisted := false
	raw := RawResponse{Status: http.StatusOK, Body: []byte("body")}
	if err := r.finishFetched(raw, func(cache.Entry) { persisted = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted {
		t.Fatalf("关闭缓存的请求不应写缓存")
	}
}

func TestFinishCachedReplaysEntryThroughParse(t *testing.T) {
	var got Result[string]
	r := NewRequest("https://example.com/a", StringParser(), func(res Result[string]) {
		got = res
	})

	entry := cache.Entry{Body: []byte("cached"), Header: http.Header{"X-Test": []string{"1"}}}
	if err := r.finishCached(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Err != nil || got.Value != "cached" {
		t.Fatalf("缓存回放结果不符: %+v", got)
	}
}

func TestBytesParserMapsFailures(t *testing.T) {
	parse := BytesParser()

	cause := errors.New("connection refused")
	if _, _, err := parse(RawResponse{Err: cause}); err == nil || !errors.Is(err, cause) {
		t.Fatalf("传输故障应映射为 TransportError，得到 %v", err)
	}

	_, _, err := parse(RawResponse{Status: http.StatusBadGateway})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("非成功状态应映射为 StatusError，得到 %v", err)
	}
}

func TestJSONParser(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	parse := JSONParser[payload]()

	value, entry, err := parse(RawResponse{Status: http.StatusOK, Body: []byte(`{"name":"x"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Name != "x" {
		t.Fatalf("解析结果不符: %+v", value)
	}
	if entry == nil {
		t.Fatalf("成功解析应产出缓存条目")
	}

	_, _, err = parse(RawResponse{Status: http.StatusOK, Body: []byte("not-json")})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("无法解析的正文应映射为 ParseError，得到 %v", err)
	}
}
