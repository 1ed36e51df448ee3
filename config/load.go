package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"algo-exec-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration. It is read once at startup.
type AppConfig struct {
	Env         string             `yaml:"env"`
	Log         logger.Config      `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Journal     JournalConfig      `yaml:"journal"`
	Feed        FeedConfig         `yaml:"feed"`
	Venue       VenueConfig        `yaml:"venue"`
	Runtime     RuntimeConfig      `yaml:"runtime"`
	Risk        RiskConfig         `yaml:"risk"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Hedger      HedgerConfig       `yaml:"hedger"`
	TWAP        TWAPDefaults       `yaml:"twap"`
	Strategies  StrategiesConfig   `yaml:"strategies"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 HTTP 端点
}

type JournalConfig struct {
	Path   string `yaml:"path"` // 为空则不记录
	Buffer int    `yaml:"buffer"`
}

// FeedConfig 行情源：csv 单文件回放、dir 投递目录、ws websocket。
type FeedConfig struct {
	Kind       string `yaml:"kind"`
	Path       string `yaml:"path"`
	URL        string `yaml:"url"`
	SkipErrors bool   `yaml:"skip_errors"`
}

type VenueConfig struct {
	AckLatency        time.Duration `yaml:"ack_latency"`
	FillLatency       time.Duration `yaml:"fill_latency"`
	PartialFillRatio  float64       `yaml:"partial_fill_ratio"`
	RejectRate        float64       `yaml:"reject_rate"`
	Seed              int64         `yaml:"seed"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type RuntimeConfig struct {
	Heartbeat         time.Duration `yaml:"heartbeat"`
	MailboxWarn       int           `yaml:"mailbox_warn"`
	ValuationInterval time.Duration `yaml:"valuation_interval"` // 持仓估值与账本校验周期，0 关闭
	// MarkoutHorizons 成交后质量统计的观察点（行情时间）
	MarkoutHorizons []time.Duration `yaml:"markout_horizons"`
}

// RiskConfig 滚动窗口与默认限额；标的级限额在 instruments 中覆盖。
type RiskConfig struct {
	VolumeWindow       time.Duration `yaml:"volume_window"`
	ImbalanceWindow    time.Duration `yaml:"imbalance_window"`
	ImbalanceMinVolume float64       `yaml:"imbalance_min_volume"`
	ImbalanceSource    string        `yaml:"imbalance_source"` // tape（市场成交流）或 fills（本平台成交）
	VolShortWindow     int           `yaml:"vol_short_window"`
	VolLongWindow      int           `yaml:"vol_long_window"`
	Defaults           LimitsConfig  `yaml:"defaults"`
}

type LimitsConfig struct {
	ParticipationRate  float64 `yaml:"participation_rate"`
	ImbalanceThreshold float64 `yaml:"imbalance_threshold"`
	VolatilityMultiple float64 `yaml:"volatility_multiple"`
	MaxNetExposure     float64 `yaml:"max_net_exposure"`
	MaxShortRange      float64 `yaml:"max_short_range"`
}

// InstrumentConfig 标的参考数据与风控覆盖；限额为 0 时继承 risk.defaults。
type InstrumentConfig struct {
	ID           string  `yaml:"id"`
	TickSize     float64 `yaml:"tick_size"`
	LotSize      float64 `yaml:"lot_size"`
	AssetClass   string  `yaml:"asset_class"`
	LimitsConfig `yaml:",inline"`
}

type HedgerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ID              string        `yaml:"id"`
	Stocks          []string      `yaml:"stocks"`
	HedgeInstrument string        `yaml:"hedge_instrument"`
	Band            float64       `yaml:"band"`
	BetaWindow      int           `yaml:"beta_window"`
	Cycle           time.Duration `yaml:"cycle"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	Notional        bool          `yaml:"notional"`
	UseLimit        bool          `yaml:"use_limit"`
}

type TWAPDefaults struct {
	DefaultHorizon time.Duration `yaml:"default_horizon"`
	Slices         int           `yaml:"slices"`
	MaxRetries     int           `yaml:"max_retries"`
}

type StrategiesConfig struct {
	TWAP  []TWAPConfig `yaml:"twap"`
	Pairs []PairConfig `yaml:"pairs"`
}

// TWAPConfig 单个 TWAP 实例；end 为空时取 start + horizon（或 twap.default_horizon）。
type TWAPConfig struct {
	ID               string        `yaml:"id"`
	Instrument       string        `yaml:"instrument"`
	Side             string        `yaml:"side"`
	Quantity         float64       `yaml:"quantity"`
	Start            time.Time     `yaml:"start"`
	End              time.Time     `yaml:"end"`
	Horizon          time.Duration `yaml:"horizon"`
	Slices           int           `yaml:"slices"`
	MaxParticipation float64       `yaml:"max_participation"`
	MaxRetries       int           `yaml:"max_retries"`
	UseLimit         bool          `yaml:"use_limit"`
}

type PairConfig struct {
	ID                 string  `yaml:"id"`
	LegA               string  `yaml:"leg_a"`
	LegB               string  `yaml:"leg_b"`
	Ratio              float64 `yaml:"ratio"`
	Lookback           int     `yaml:"lookback"`
	Notional           float64 `yaml:"notional"`
	Entry              float64 `yaml:"entry"`
	Exit               float64 `yaml:"exit"`
	SpreadMean         float64 `yaml:"spread_mean"`
	RebalanceTolerance float64 `yaml:"rebalance_tolerance"`
	MaxRetries         int     `yaml:"max_retries"`
	UseLimit           bool    `yaml:"use_limit"`
}

// Default 返回填好默认值的配置（未设置的字段在 Load 时保留这些值）。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Log: logger.DefaultConfig(),
		Feed: FeedConfig{
			Kind: "csv",
		},
		Venue: VenueConfig{
			ReconcileInterval: 30 * time.Second,
		},
		Runtime: RuntimeConfig{
			MailboxWarn:       1000,
			ValuationInterval: 5 * time.Second,
		},
		Risk: RiskConfig{
			VolumeWindow:    time.Minute,
			ImbalanceWindow: 5 * time.Minute,
			ImbalanceSource: "tape",
			VolShortWindow:  20,
			VolLongWindow:   200,
		},
		Hedger: HedgerConfig{
			ID:             "beta-hedger",
			BetaWindow:     90,
			Cycle:          24 * time.Hour,
			SampleInterval: time.Minute,
		},
		TWAP: TWAPDefaults{
			DefaultHorizon: time.Hour,
			MaxRetries:     3,
		},
	}
}

// Load reads YAML config from path on top of Default and applies validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("EXEC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("EXEC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("EXEC_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	return cfg, Validate(cfg)
}

// ErrInvalid 用于参数验证错误。
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return invalid("env is required")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q", cfg.Log.Level)
	}
	switch cfg.Feed.Kind {
	case "csv", "dir":
		if cfg.Feed.Path == "" {
			return invalid("feed.path is required for kind %s", cfg.Feed.Kind)
		}
	case "ws":
		if cfg.Feed.URL == "" {
			return invalid("feed.url is required for kind ws")
		}
	default:
		return invalid("feed.kind %q (csv|dir|ws)", cfg.Feed.Kind)
	}
	if cfg.Venue.AckLatency < 0 || cfg.Venue.FillLatency < 0 {
		return invalid("venue latencies must be >= 0")
	}
	if cfg.Venue.PartialFillRatio < 0 || cfg.Venue.PartialFillRatio > 1 {
		return invalid("venue.partial_fill_ratio must be in [0,1]")
	}
	if cfg.Venue.RejectRate < 0 || cfg.Venue.RejectRate > 1 {
		return invalid("venue.reject_rate must be in [0,1]")
	}
	if cfg.Runtime.Heartbeat < 0 || cfg.Runtime.MailboxWarn < 0 {
		return invalid("runtime.heartbeat and runtime.mailbox_warn must be >= 0")
	}
	if cfg.Runtime.ValuationInterval < 0 {
		return invalid("runtime.valuation_interval must be >= 0")
	}
	for _, h := range cfg.Runtime.MarkoutHorizons {
		if h <= 0 {
			return invalid("runtime.markout_horizons must be > 0")
		}
	}
	if cfg.Risk.VolumeWindow <= 0 || cfg.Risk.ImbalanceWindow <= 0 {
		return invalid("risk windows must be > 0")
	}
	switch cfg.Risk.ImbalanceSource {
	case "tape", "fills":
	default:
		return invalid("unknown risk.imbalance_source %q", cfg.Risk.ImbalanceSource)
	}
	if cfg.Risk.VolShortWindow < 2 || cfg.Risk.VolLongWindow <= cfg.Risk.VolShortWindow {
		return invalid("risk: need 2 <= vol_short_window < vol_long_window")
	}
	if err := validateLimits("risk.defaults", cfg.Risk.Defaults); err != nil {
		return err
	}

	if len(cfg.Instruments) == 0 {
		return invalid("instruments config is required")
	}
	known := make(map[string]bool, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		if ic.ID == "" {
			return invalid("instrument id is required")
		}
		if known[ic.ID] {
			return invalid("instrument %s duplicated", ic.ID)
		}
		known[ic.ID] = true
		if ic.TickSize <= 0 || ic.LotSize <= 0 {
			return invalid("instrument %s tick_size and lot_size must be > 0", ic.ID)
		}
		if ic.AssetClass != "" {
			if _, err := parseAssetClass(ic.AssetClass); err != nil {
				return invalid("instrument %s: %v", ic.ID, err)
			}
		}
		if err := validateLimits("instrument "+ic.ID, ic.LimitsConfig); err != nil {
			return err
		}
	}

	if h := cfg.Hedger; h.Enabled {
		if !known[h.HedgeInstrument] {
			return invalid("hedger.hedge_instrument %q is not a configured instrument", h.HedgeInstrument)
		}
		if len(h.Stocks) == 0 {
			return invalid("hedger.stocks is required")
		}
		for _, s := range h.Stocks {
			if !known[s] {
				return invalid("hedger stock %q is not a configured instrument", s)
			}
		}
		if h.Band < 0 || h.BetaWindow < 2 || h.Cycle <= 0 || h.SampleInterval <= 0 {
			return invalid("hedger: band >= 0, beta_window >= 2, cycle > 0 and sample_interval > 0 are required")
		}
	}

	if cfg.TWAP.DefaultHorizon <= 0 || cfg.TWAP.Slices < 0 || cfg.TWAP.MaxRetries < 0 {
		return invalid("twap defaults: default_horizon > 0, slices >= 0, max_retries >= 0")
	}
	ids := make(map[string]bool)
	if cfg.Hedger.Enabled {
		ids[cfg.Hedger.ID] = true
	}
	for _, tc := range cfg.Strategies.TWAP {
		if tc.ID == "" || ids[tc.ID] {
			return invalid("twap id %q empty or duplicated", tc.ID)
		}
		ids[tc.ID] = true
		if !known[tc.Instrument] {
			return invalid("twap %s: unknown instrument %q", tc.ID, tc.Instrument)
		}
		if _, err := parseSide(tc.Side); err != nil {
			return invalid("twap %s: %v", tc.ID, err)
		}
		if tc.Quantity <= 0 || tc.Start.IsZero() {
			return invalid("twap %s: quantity > 0 and start are required", tc.ID)
		}
	}
	for _, pc := range cfg.Strategies.Pairs {
		if pc.ID == "" || ids[pc.ID] {
			return invalid("pair id %q empty or duplicated", pc.ID)
		}
		ids[pc.ID] = true
		if !known[pc.LegA] || !known[pc.LegB] {
			return invalid("pair %s: legs must be configured instruments", pc.ID)
		}
	}
	return nil
}

func validateLimits(where string, l LimitsConfig) error {
	if l.ParticipationRate < 0 || l.ParticipationRate > 1 {
		return invalid("%s participation_rate must be in [0,1]", where)
	}
	if l.ImbalanceThreshold < 0 || l.ImbalanceThreshold > 1 {
		return invalid("%s imbalance_threshold must be in [0,1]", where)
	}
	if l.VolatilityMultiple < 0 || l.MaxNetExposure < 0 {
		return invalid("%s volatility_multiple and max_net_exposure must be >= 0", where)
	}
	if l.MaxShortRange < 0 {
		return invalid("%s max_short_range must be >= 0", where)
	}
	return nil
}
