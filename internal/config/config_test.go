package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

const minimalConfig = `
OriginURL = "http://127.0.0.1:8080"
CacheRoot = "./cache"
`

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5100 {
		t.Fatalf("ListenPort 应该自动填充默认值，得到 %d", cfg.Global.ListenPort)
	}
	if cfg.Global.Mode != ModeEnabled {
		t.Fatalf("Mode 默认应为 enabled")
	}
	if !filepath.IsAbs(cfg.Global.CacheRoot) {
		t.Fatalf("CacheRoot 应被转为绝对路径: %s", cfg.Global.CacheRoot)
	}
	if cfg.Cache.TTLDefault.DurationValue() != 10*time.Hour {
		t.Fatalf("TTLDefault 默认值不正确: %v", cfg.Cache.TTLDefault.DurationValue())
	}
	if cfg.Warmer.MaxURLs != 20 {
		t.Fatalf("Warmer.MaxURLs 默认应为 20")
	}
	if cfg.Warmer.LockTTL.DurationValue() != 5*time.Minute {
		t.Fatalf("Warmer.LockTTL 默认应为 5m")
	}
}

func TestLoadParsesDurationsAndSections(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
OriginURL = "https://origin.example.com"
CacheRoot = "./cache"
Mode = "enabled"

[Cache]
TTLFront = "30m"
TTLPost = 7200
ExcludePaths = ["wp-admin/*", "checkout/*"]
ExcludeCookies = ["wordpress_logged_in"]

[Warmer]
Enabled = true
MaxURLs = 10
Interval = "1h"
`))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Cache.TTLFront.DurationValue() != 30*time.Minute {
		t.Fatalf("TTLFront 解析错误: %v", cfg.Cache.TTLFront.DurationValue())
	}
	if cfg.Cache.TTLPost.DurationValue() != 2*time.Hour {
		t.Fatalf("纯秒整数 TTL 解析错误: %v", cfg.Cache.TTLPost.DurationValue())
	}
	if len(cfg.Cache.ExcludePaths) != 2 {
		t.Fatalf("ExcludePaths 应有两项")
	}
	if cfg.Warmer.MaxURLs != 10 {
		t.Fatalf("Warmer.MaxURLs 覆盖失败")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	if _, err := Load(writeTempConfig(t, minimalConfig+`
[Cache]
TTLDefault = "boom"
`)); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	if _, err := Load(writeTempConfig(t, `CacheRoot = "./cache"`)); err == nil {
		t.Fatalf("缺少 OriginURL 的配置应返回错误")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	if _, err := Load(writeTempConfig(t, minimalConfig+`Mode = "sometimes"`)); err == nil {
		t.Fatalf("未知 Mode 应返回错误")
	}
}

func TestValidateRejectsBadGlob(t *testing.T) {
	if _, err := Load(writeTempConfig(t, minimalConfig+`
[Cache]
ExcludePaths = ["[bad"]
`)); err == nil {
		t.Fatalf("非法 glob 应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	if _, err := Load(writeTempConfig(t, minimalConfig+`ListenPort = 70000`)); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"90s", 90 * time.Second},
		{"5m", 5 * time.Minute},
		{"3600", time.Hour},
	}
	for _, tc := range cases {
		var d Duration
		if err := d.UnmarshalText([]byte(tc.raw)); err != nil {
			t.Fatalf("UnmarshalText(%q) 返回错误: %v", tc.raw, err)
		}
		if d.DurationValue() != tc.want {
			t.Fatalf("UnmarshalText(%q) = %v, 期望 %v", tc.raw, d.DurationValue(), tc.want)
		}
	}

	var d Duration
	if err := d.UnmarshalText([]byte("nonsense")); err == nil {
		t.Fatalf("非法 Duration 字符串应返回错误")
	}
}
