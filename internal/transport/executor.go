package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/fetchq/fetchq/internal/cache"
	"github.com/fetchq/fetchq/internal/dispatch"
	"github.com/fetchq/fetchq/internal/version"
)

// Executor 基于共享 http.Client 实现 dispatch.Executor。任何传输错误
// 都映射为带 Err 的 RawResponse，绝不跨边界抛出；实现无状态，
// 可被多个网络阶段 worker 并发调用。
type Executor struct {
	client       *http.Client
	logger       *logrus.Logger
	maxBodyBytes int64
}

// NewExecutor 构造执行器；maxBodyBytes <= 0 表示不限制正文大小。
func NewExecutor(client *http.Client, logger *logrus.Logger, maxBodyBytes int64) *Executor {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		client:       client,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch 对资源执行 GET；prior 非空时携带条件请求头，命中 304 返回
// NotModified 标记。取消/超时等由注入的 ctx 与 client 超时控制。
func (e *Executor) Fetch(ctx context.Context, id dispatch.ResourceID, prior *cache.Entry) dispatch.RawResponse {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(id), nil)
	if err != nil {
		return e.failure(id, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "fetchq/"+version.Version)

	if prior != nil {
		if etag := prior.Header.Get("Etag"); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if modified := prior.Header.Get("Last-Modified"); modified != "" {
			req.Header.Set("If-Modified-Since", modified)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return e.failure(id, err)
	}
	defer resp.Body.Close()

	header := sanitizeHeader(resp.Header)
	if resp.StatusCode == http.StatusNotModified {
		return dispatch.RawResponse{
			Status:      resp.StatusCode,
			Header:      header,
			NotModified: true,
		}
	}

	reader := io.Reader(resp.Body)
	if e.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, e.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return e.failure(id, fmt.Errorf("read body: %w", err))
	}
	if e.maxBodyBytes > 0 && int64(len(body)) > e.maxBodyBytes {
		return e.failure(id, fmt.Errorf("body exceeds %d bytes", e.maxBodyBytes))
	}

	return dispatch.RawResponse{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}
}

func (e *Executor) failure(id dispatch.ResourceID, err error) dispatch.RawResponse {
	e.logger.WithError(err).WithFields(logrus.Fields{
		"action":   "upstream_fetch",
		"resource": string(id),
	}).Warn(err.Error())
	return dispatch.RawResponse{Err: err}
}
