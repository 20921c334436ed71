package transport

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/fetchq/fetchq/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有网络阶段的抓取。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// hopByHopHeaders 定义 RFC 7230 中不应被中间层保留的头部，
// 这些头描述单跳连接属性，进入缓存会在回放时产生误导。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// sanitizeHeader 复制 src 中允许保留的响应头，自动忽略 hop-by-hop 字段。
func sanitizeHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, values := range src {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	return dst
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}
