package policy

import (
	"strings"
	"time"

	"github.com/page-vault/page-vault/internal/config"
)

// Class 表示页面内容分级，不同级别使用独立 TTL。
type Class int

const (
	ClassDefault Class = iota
	ClassFront
	ClassPost
	ClassPage
)

// String 输出日志可读的分级名。
func (c Class) String() string {
	switch c {
	case ClassFront:
		return "front"
	case ClassPost:
		return "post"
	case ClassPage:
		return "page"
	default:
		return "default"
	}
}

// Classify 根据配置的路径前缀判定内容分级；空路径即首页。
func Classify(requestPath string, cfg config.CacheConfig) Class {
	rel := normalize(requestPath)
	if rel == "" {
		return ClassFront
	}
	for _, prefix := range cfg.PostPrefixes {
		if hasPrefixSegment(rel, prefix) {
			return ClassPost
		}
	}
	for _, prefix := range cfg.PagePrefixes {
		if hasPrefixSegment(rel, prefix) {
			return ClassPage
		}
	}
	return ClassDefault
}

// TTLFor 返回分级对应的 TTL，分级未配置时回退全局默认值。
func TTLFor(class Class, cfg config.CacheConfig) time.Duration {
	fallback := cfg.TTLDefault.DurationValue()
	pick := func(d config.Duration) time.Duration {
		if v := d.DurationValue(); v > 0 {
			return v
		}
		return fallback
	}

	switch class {
	case ClassFront:
		return pick(cfg.TTLFront)
	case ClassPost:
		return pick(cfg.TTLPost)
	case ClassPage:
		return pick(cfg.TTLPage)
	default:
		return fallback
	}
}

func hasPrefixSegment(rel, prefix string) bool {
	prefix = normalize(prefix)
	if prefix == "" {
		return false
	}
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}
