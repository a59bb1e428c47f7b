// Package policy decides whether a request may be cached and which TTL a
// captured page receives. Both decisions are pure functions of the request
// context and the loaded configuration snapshot.
package policy

import (
	"net/url"
	"path"
	"strings"

	"github.com/page-vault/page-vault/internal/config"
)

// WarmParam 是预热请求携带的唯一识别参数，形如 ?pv_warm=1。
// 它让 Warmer 的回源请求穿过 “无 query 才可缓存” 规则。
const (
	WarmParam = "pv_warm"
	WarmValue = "1"
)

// 固定排除的路径类别，无论配置如何都不缓存。
var reservedPrefixes = []string{
	"wp-admin",
	"wp-login",
	"feed",
	"search",
	"preview",
}

// Request 汇总缓存决策需要的请求上下文，由 HTTP 层填充。
type Request struct {
	Method        string
	Path          string
	RawQuery      string
	CookieNames   []string
	Authenticated bool
}

// Policy 持有一份不可变配置快照；刷新配置即构建新 Policy。
type Policy struct {
	cfg *config.Config
}

// New 构建 Policy，cfg 不得为空。
func New(cfg *config.Config) *Policy {
	return &Policy{cfg: cfg}
}

// Cacheable 按序应用全部规则，全部通过才返回 true。
// reason 用于 debug 日志，描述第一条未通过的规则。
func (p *Policy) Cacheable(req Request) (bool, string) {
	if !p.cfg.Enabled() {
		return false, "mode_disabled"
	}
	if req.Method != "GET" {
		return false, "method_not_get"
	}
	if req.Authenticated {
		return false, "authenticated_session"
	}
	if req.RawQuery != "" && !IsWarmRequest(req.RawQuery) {
		return false, "query_string"
	}

	rel := normalize(req.Path)
	for _, prefix := range reservedPrefixes {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return false, "reserved_path"
		}
	}
	if strings.HasSuffix(rel, "/feed") {
		return false, "reserved_path"
	}

	for _, pattern := range p.cfg.Cache.ExcludePaths {
		if matched, err := path.Match(pattern, rel); err == nil && matched {
			return false, "excluded_path"
		}
	}

	for _, name := range req.CookieNames {
		for _, excluded := range p.cfg.Cache.ExcludeCookies {
			if name == excluded {
				return false, "excluded_cookie"
			}
		}
	}

	return true, ""
}

// IsWarmRequest 精确识别仅携带预热参数的 query，其余任何组合都不算。
func IsWarmRequest(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return false
	}
	if len(values) != 1 {
		return false
	}
	got, ok := values[WarmParam]
	return ok && len(got) == 1 && got[0] == WarmValue
}

func normalize(p string) string {
	return strings.Trim(p, "/")
}
