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

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Seconds 返回整秒数，供 sidecar 元数据等以秒为单位的场景使用。
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}

// 缓存全局开关取值。
const (
	ModeEnabled  = "enabled"
	ModeDisabled = "disabled"
)

// GlobalConfig 描述全局运行时行为，所有请求共享同一份参数。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	Mode          string   `mapstructure:"Mode"`
	OriginURL     string   `mapstructure:"OriginURL"`
	CacheRoot     string   `mapstructure:"CacheRoot"`
	EphemeralPath string   `mapstructure:"EphemeralPath"`
	OriginTimeout Duration `mapstructure:"OriginTimeout"`
}

// CacheConfig 决定单个请求的缓存策略：TTL 分级、排除规则与 feed 后缀。
type CacheConfig struct {
	TTLDefault     Duration `mapstructure:"TTLDefault"`
	TTLFront       Duration `mapstructure:"TTLFront"`
	TTLPost        Duration `mapstructure:"TTLPost"`
	TTLPage        Duration `mapstructure:"TTLPage"`
	PostPrefixes   []string `mapstructure:"PostPrefixes"`
	PagePrefixes   []string `mapstructure:"PagePrefixes"`
	ExcludePaths   []string `mapstructure:"ExcludePaths"`
	ExcludeCookies []string `mapstructure:"ExcludeCookies"`
	FeedSuffix     string   `mapstructure:"FeedSuffix"`
}

// WarmerConfig 控制预热调度器的节奏、窗口与并发度。
type WarmerConfig struct {
	Enabled      bool     `mapstructure:"Enabled"`
	MaxURLs      int      `mapstructure:"MaxURLs"`
	Interval     Duration `mapstructure:"Interval"`
	HitWindow    Duration `mapstructure:"HitWindow"`
	LockTTL      Duration `mapstructure:"LockTTL"`
	FetchTimeout Duration `mapstructure:"FetchTimeout"`
	Concurrency  int      `mapstructure:"Concurrency"`
}

// RateLimitConfig 约束带副作用的入口（purge webhook、telemetry 上报）。
type RateLimitConfig struct {
	PurgeLimit      int      `mapstructure:"PurgeLimit"`
	PurgeWindow     Duration `mapstructure:"PurgeWindow"`
	TelemetryLimit  int      `mapstructure:"TelemetryLimit"`
	TelemetryWindow Duration `mapstructure:"TelemetryWindow"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:"Cache"`
	Warmer    WarmerConfig    `mapstructure:"Warmer"`
	RateLimit RateLimitConfig `mapstructure:"RateLimit"`
}

// Enabled 表示缓存层当前是否生效。
func (c *Config) Enabled() bool {
	return c.Global.Mode != ModeDisabled
}
