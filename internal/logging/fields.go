package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源/序号/命中状态字段，供调度器各工作协程复用。
func RequestFields(action, resource, requestID string, seq uint64, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"resource":   resource,
		"request_id": requestID,
		"seq":        seq,
		"cache_hit":  cacheHit,
	}
}
