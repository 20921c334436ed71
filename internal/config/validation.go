package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedPriorities = map[string]struct{}{
	"low":    {},
	"normal": {},
	"high":   {},
}

const supportedPriorityList = "low|normal|high"

// Validate 针对语义级别做进一步校验，防止非法配置启动调度器。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort < 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 0-65535（0 表示关闭诊断服务）")
	}
	if g.NetworkWorkers <= 0 {
		return newFieldError("Global.NetworkWorkers", "必须大于 0")
	}
	if g.MaxBodyBytes <= 0 {
		return newFieldError("Global.MaxBodyBytes", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Warmups {
		w := &c.Warmups[i]
		if w.Name == "" {
			return newFieldError("Warmup[].Name", "不能为空")
		}
		if _, exists := seenNames[w.Name]; exists {
			return newFieldError(warmupField(w.Name, "Name"), "重复")
		}
		seenNames[w.Name] = struct{}{}

		if err := validateTargetURL(w.URL); err != nil {
			return fmt.Errorf("%s: %w", warmupField(w.Name, "URL"), err)
		}

		priority := strings.ToLower(strings.TrimSpace(w.Priority))
		if priority == "" {
			priority = "normal"
		}
		if _, ok := supportedPriorities[priority]; !ok {
			return newFieldError(warmupField(w.Name, "Priority"), "仅支持 "+supportedPriorityList)
		}
		w.Priority = priority
	}

	return nil
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("缺少目标地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，目标: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("目标缺少 Host: %s", raw)
	}
	return nil
}
