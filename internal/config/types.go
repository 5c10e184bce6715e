package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Source    SourceConfig    `mapstructure:"source"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Micro     MicroConfig     `mapstructure:"micro"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// SourceConfig 描述主行情源（MEXC）连接信息。
type SourceConfig struct {
	Name      string        `mapstructure:"name"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// FallbackConfig 描述备用行情源（Binance 合约）。
type FallbackConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// SentimentConfig 描述情绪数据源（Coinglass）。
type SentimentConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Retry               RetryConfig   `mapstructure:"retry"`
	MarketsTTL          time.Duration `mapstructure:"markets_ttl"`
	RatioTTL            time.Duration `mapstructure:"ratio_ttl"`
	IndexTTL            time.Duration `mapstructure:"index_ttl"`
	IntervalFloor       string        `mapstructure:"interval_floor"`
	RatioFallbackRanges []string      `mapstructure:"ratio_fallback_ranges"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig 管理信号引擎参数。
type EngineConfig struct {
	Timeframes        []string      `mapstructure:"timeframes"`
	CandleLimit       int           `mapstructure:"candle_limit"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	QuorumSize        int           `mapstructure:"quorum_size"`
	FundingThreshold  float64       `mapstructure:"funding_threshold"`
	RatioThreshold    float64       `mapstructure:"ratio_threshold"`
	OIChangeThreshold float64       `mapstructure:"oi_change_threshold"`
}

// MicroConfig 管理1分钟微观指标仓库。
type MicroConfig struct {
	RetentionMinutes   int           `mapstructure:"retention_minutes"`
	GranularityMinutes int           `mapstructure:"granularity_minutes"`
	ATRPeriod          int           `mapstructure:"atr_period"`
	ProfileBuckets     int           `mapstructure:"profile_buckets"`
	HVNThreshold       float64       `mapstructure:"hvn_threshold"`
	LVNThreshold       float64       `mapstructure:"lvn_threshold"`
	PersistPath        string        `mapstructure:"persist_path"`
	PersistInterval    time.Duration `mapstructure:"persist_interval"`
}

// RefreshConfig 控制后台热点刷新任务。
type RefreshConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	TopSymbols int           `mapstructure:"top_symbols"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	RotateFile       string   `mapstructure:"rotate_file"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Source.Timeout <= 0 {
		err = multierr.Append(err, errors.New("source.timeout 必须大于0"))
	}
	if retryErr := validateRetry("source", c.Source.Retry); retryErr != nil {
		err = multierr.Append(err, retryErr)
	}
	if c.Sentiment.BaseURL == "" {
		err = multierr.Append(err, errors.New("sentiment.base_url 不能为空"))
	}
	if retryErr := validateRetry("sentiment", c.Sentiment.Retry); retryErr != nil {
		err = multierr.Append(err, retryErr)
	}
	if c.Sentiment.MarketsTTL <= 0 || c.Sentiment.RatioTTL <= 0 || c.Sentiment.IndexTTL <= 0 {
		err = multierr.Append(err, errors.New("sentiment 缓存TTL必须为正"))
	}
	if len(c.Sentiment.RatioFallbackRanges) == 0 {
		err = multierr.Append(err, errors.New("sentiment.ratio_fallback_ranges 至少包含一个区间"))
	}
	if len(c.Engine.Timeframes) == 0 {
		err = multierr.Append(err, errors.New("engine.timeframes 至少包含一个周期"))
	}
	if c.Engine.CandleLimit <= 0 {
		err = multierr.Append(err, errors.New("engine.candle_limit 必须大于0"))
	}
	if c.Engine.Cooldown <= 0 {
		err = multierr.Append(err, errors.New("engine.cooldown 必须大于0"))
	}
	if c.Engine.QuorumSize <= 0 || c.Engine.QuorumSize > len(c.Engine.Timeframes) {
		err = multierr.Append(err, fmt.Errorf("engine.quorum_size 必须位于[1,%d]", len(c.Engine.Timeframes)))
	}
	if c.Engine.RatioThreshold <= 0 || c.Engine.RatioThreshold >= 1 {
		err = multierr.Append(err, errors.New("engine.ratio_threshold 必须位于(0,1)"))
	}
	if c.Micro.RetentionMinutes <= 0 {
		err = multierr.Append(err, errors.New("micro.retention_minutes 必须大于0"))
	}
	if c.Micro.GranularityMinutes <= 0 {
		err = multierr.Append(err, errors.New("micro.granularity_minutes 必须大于0"))
	}
	if c.Micro.RetentionMinutes < c.Micro.GranularityMinutes {
		err = multierr.Append(err, errors.New("micro.retention_minutes 不能小于 granularity_minutes"))
	}
	if c.Micro.ATRPeriod <= 0 {
		err = multierr.Append(err, errors.New("micro.atr_period 必须大于0"))
	}
	if c.Micro.ProfileBuckets <= 1 {
		err = multierr.Append(err, errors.New("micro.profile_buckets 必须大于1"))
	}
	if c.Micro.HVNThreshold <= c.Micro.LVNThreshold {
		err = multierr.Append(err, errors.New("micro.hvn_threshold 必须大于 lvn_threshold"))
	}
	if c.Micro.PersistPath == "" {
		err = multierr.Append(err, errors.New("micro.persist_path 不能为空"))
	}
	if c.Micro.PersistInterval <= 0 {
		err = multierr.Append(err, errors.New("micro.persist_interval 必须大于0"))
	}
	if c.Refresh.Interval <= 0 {
		err = multierr.Append(err, errors.New("refresh.interval 必须大于0"))
	}
	if c.Refresh.TopSymbols <= 0 {
		err = multierr.Append(err, errors.New("refresh.top_symbols 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func validateRetry(section string, r RetryConfig) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry.max_attempts 必须大于0", section))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry.delay 必须为正", section))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.retry.min_delay 不能大于 max_delay", section))
	}
	return err
}
