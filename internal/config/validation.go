package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.CacheRoot == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}
	if g.Mode != ModeEnabled && g.Mode != ModeDisabled {
		return newFieldError("Global.Mode", "仅支持 enabled/disabled")
	}
	if err := validateOrigin(g.OriginURL); err != nil {
		return fmt.Errorf("Global.OriginURL: %w", err)
	}
	if g.OriginTimeout.DurationValue() <= 0 {
		return newFieldError("Global.OriginTimeout", "必须大于 0")
	}

	if c.Cache.TTLDefault.DurationValue() <= 0 {
		return newFieldError("Cache.TTLDefault", "必须大于 0")
	}
	for _, pattern := range c.Cache.ExcludePaths {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return newFieldError("Cache.ExcludePaths", fmt.Sprintf("非法 glob: %s", pattern))
		}
	}

	w := c.Warmer
	if w.MaxURLs < 0 {
		return newFieldError("Warmer.MaxURLs", "不能为负数")
	}
	if w.Interval.DurationValue() <= 0 {
		return newFieldError("Warmer.Interval", "必须大于 0")
	}
	if w.LockTTL.DurationValue() <= 0 {
		return newFieldError("Warmer.LockTTL", "必须大于 0")
	}
	if w.Concurrency <= 0 {
		return newFieldError("Warmer.Concurrency", "必须大于 0")
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if strings.Contains(parsed.Host, " ") {
		return fmt.Errorf("源站 Host 不允许包含空格: %s", raw)
	}
	return nil
}
