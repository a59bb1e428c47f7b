package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 host/path/命中状态字段，供请求日志复用。
func RequestFields(host, path, requestID string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"host":       host,
		"path":       path,
		"request_id": requestID,
		"cache_hit":  cacheHit,
	}
}

// PurgeFields 描述一次缓存失效操作的目标与触发源。
func PurgeFields(action, target, reason string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"target": target,
		"reason": reason,
	}
}
