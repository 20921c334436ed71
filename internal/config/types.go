package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述调度器与 CLI 的全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	NetworkWorkers  int      `mapstructure:"NetworkWorkers"`
	MaxBodyBytes    int64    `mapstructure:"MaxBodyBytes"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// WarmupConfig 声明启动时预取的远端资源，用于提前填充缓存。
type WarmupConfig struct {
	Name      string `mapstructure:"Name"`
	URL       string `mapstructure:"URL"`
	Cacheable *bool  `mapstructure:"Cacheable"`
	Priority  string `mapstructure:"Priority"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Warmups []WarmupConfig `mapstructure:"Warmup"`
}

// IsCacheable 返回 Warmup 条目的缓存开关，未显式配置时默认开启。
func (w WarmupConfig) IsCacheable() bool {
	if w.Cacheable == nil {
		return true
	}
	return *w.Cacheable
}

// PersistEnabled 表示是否配置了磁盘缓存目录。
func (g GlobalConfig) PersistEnabled() bool {
	return g.StoragePath != ""
}

// DiagnosticsEnabled 表示是否需要启动诊断 HTTP 服务。
func (g GlobalConfig) DiagnosticsEnabled() bool {
	return g.ListenPort > 0
}
