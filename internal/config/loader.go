package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 返回的 Config 是一次性快照：刷新配置等同于重新 Load 一份新快照。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	applyWarmerDefaults(&cfg.Warmer)
	applyRateLimitDefaults(&cfg.RateLimit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Global.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheRoot = absRoot

	if cfg.Global.EphemeralPath != "" {
		absKV, err := filepath.Abs(cfg.Global.EphemeralPath)
		if err != nil {
			return nil, fmt.Errorf("无法解析临时存储目录: %w", err)
		}
		cfg.Global.EphemeralPath = absKV
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5100)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Mode", ModeEnabled)
	v.SetDefault("CacheRoot", "./cache")
	v.SetDefault("EphemeralPath", "")
	v.SetDefault("OriginTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5100
	}
	if g.Mode == "" {
		g.Mode = ModeEnabled
	}
	if g.OriginTimeout.DurationValue() == 0 {
		g.OriginTimeout = Duration(30 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.TTLDefault.DurationValue() == 0 {
		c.TTLDefault = Duration(10 * time.Hour)
	}
	if c.TTLFront.DurationValue() == 0 {
		c.TTLFront = Duration(time.Hour)
	}
	if c.TTLPost.DurationValue() == 0 {
		c.TTLPost = c.TTLDefault
	}
	if c.TTLPage.DurationValue() == 0 {
		c.TTLPage = Duration(24 * time.Hour)
	}
	if c.FeedSuffix == "" {
		c.FeedSuffix = "feed"
	}
}

func applyWarmerDefaults(w *WarmerConfig) {
	if w.MaxURLs == 0 {
		w.MaxURLs = 20
	}
	if w.Interval.DurationValue() == 0 {
		w.Interval = Duration(2 * time.Hour)
	}
	if w.HitWindow.DurationValue() == 0 {
		w.HitWindow = Duration(2 * time.Hour)
	}
	if w.LockTTL.DurationValue() == 0 {
		w.LockTTL = Duration(5 * time.Minute)
	}
	if w.FetchTimeout.DurationValue() == 0 {
		w.FetchTimeout = Duration(3 * time.Second)
	}
	if w.Concurrency == 0 {
		w.Concurrency = 4
	}
}

func applyRateLimitDefaults(r *RateLimitConfig) {
	if r.PurgeLimit == 0 {
		r.PurgeLimit = 60
	}
	if r.PurgeWindow.DurationValue() == 0 {
		r.PurgeWindow = Duration(time.Minute)
	}
	if r.TelemetryLimit == 0 {
		r.TelemetryLimit = 30
	}
	if r.TelemetryWindow.DurationValue() == 0 {
		r.TelemetryWindow = Duration(time.Minute)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
