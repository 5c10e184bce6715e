package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "signals"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("source.name", "mexc")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.retry.max_attempts", 3)
	v.SetDefault("source.retry.min_delay", "1s")
	v.SetDefault("source.retry.max_delay", "8s")

	v.SetDefault("fallback.enabled", true)

	v.SetDefault("sentiment.base_url", "https://open-api-v4.coinglass.com")
	v.SetDefault("sentiment.timeout", "30s")
	v.SetDefault("sentiment.retry.max_attempts", 3)
	v.SetDefault("sentiment.retry.min_delay", "1s")
	v.SetDefault("sentiment.retry.max_delay", "8s")
	v.SetDefault("sentiment.markets_ttl", "1m")
	v.SetDefault("sentiment.ratio_ttl", "4h")
	v.SetDefault("sentiment.index_ttl", "1h")
	v.SetDefault("sentiment.interval_floor", "4h")
	v.SetDefault("sentiment.ratio_fallback_ranges", []string{"4h", "12h", "1d"})

	v.SetDefault("engine.timeframes", []string{"5m", "15m", "30m", "1h", "4h"})
	v.SetDefault("engine.candle_limit", 50)
	v.SetDefault("engine.cooldown", "5m")
	v.SetDefault("engine.quorum_size", 3)
	v.SetDefault("engine.funding_threshold", 0.01)
	v.SetDefault("engine.ratio_threshold", 0.6)
	v.SetDefault("engine.oi_change_threshold", 0.05)

	v.SetDefault("micro.retention_minutes", 240)
	v.SetDefault("micro.granularity_minutes", 1)
	v.SetDefault("micro.atr_period", 14)
	v.SetDefault("micro.profile_buckets", 12)
	v.SetDefault("micro.hvn_threshold", 1.5)
	v.SetDefault("micro.lvn_threshold", 0.5)
	v.SetDefault("micro.persist_path", "data/micrometrics.json")
	v.SetDefault("micro.persist_interval", "30s")

	v.SetDefault("refresh.interval", "1m")
	v.SetDefault("refresh.top_symbols", 5)

	v.SetDefault("database.path", "data/signals.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
