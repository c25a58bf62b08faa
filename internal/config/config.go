package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/pkg/marketspec"
)

// APIConfig 交易所访问配置
type APIConfig struct {
	KeyRef        string `yaml:"key_ref" json:"key_ref"`               // secretstore 中私钥的引用名
	PrivateKey    string `yaml:"private_key" json:"private_key"`       // 私钥明文（优先级低于 PRIVATE_KEY 环境变量）
	Mnemonic      string `yaml:"mnemonic" json:"mnemonic"`             // 助记词兜底（m/44'/60'/0'/0/0）
	FunderAddress string `yaml:"funder_address" json:"funder_address"` // 出资账户（proxy wallet）
	SignatureType int    `yaml:"signature_type" json:"signature_type"` // 0=EOA 1=POLY_PROXY 2=GNOSIS_SAFE
	ChainID       int    `yaml:"chain_id" json:"chain_id"`
	ClobHost      string `yaml:"clob_host" json:"clob_host"`
	GammaHost     string `yaml:"gamma_host" json:"gamma_host"`
	DataHost      string `yaml:"data_host" json:"data_host"`
}

// MarketConfig 交易的市场规格
type MarketConfig struct {
	Symbol    string `yaml:"symbol" json:"symbol"`       // e.g. "btc"
	Kind      string `yaml:"kind" json:"kind"`           // e.g. "updown"
	Timeframe string `yaml:"timeframe" json:"timeframe"` // e.g. "15m"
}

// EntryExitConfig 入场/离场价格参数（单位：美元小数价格）
type EntryExitConfig struct {
	EntryBidThreshold float64 `yaml:"entry_bid_threshold" json:"entry_bid_threshold"`
	MinTpIncrement    float64 `yaml:"min_tp_increment" json:"min_tp_increment"`
	SlOffset          float64 `yaml:"sl_offset" json:"sl_offset"`
	SlFloor           float64 `yaml:"sl_floor" json:"sl_floor"`
	MaxTpPrice        float64 `yaml:"max_tp_price" json:"max_tp_price"`
	SlOrderPrice      float64 `yaml:"sl_order_price" json:"sl_order_price"`
}

// TimeWindowsConfig 时间窗口参数
type TimeWindowsConfig struct {
	ContractDurationSec int     `yaml:"contract_duration_sec" json:"contract_duration_sec"`
	LateWindowSec       int     `yaml:"late_window_sec" json:"late_window_sec"`
	EntryRequoteWaitSec float64 `yaml:"entry_requote_wait_sec" json:"entry_requote_wait_sec"`
}

// LateModeConfig 临近结算窗口的行为
type LateModeConfig struct {
	LateSlTrigger             float64 `yaml:"late_sl_trigger" json:"late_sl_trigger"`
	LateReentryEntryThreshold float64 `yaml:"late_reentry_entry_threshold" json:"late_reentry_entry_threshold"`
	EnableLateReentry         bool    `yaml:"enable_late_reentry" json:"enable_late_reentry"`
	MaxLateReentries          int     `yaml:"max_late_reentries" json:"max_late_reentries"`
}

// PositionControlConfig 仓位控制
type PositionControlConfig struct {
	CapSchedule     domain.CapSchedule `yaml:"cap_schedule" json:"cap_schedule"`
	MinTradeSize    float64            `yaml:"min_trade_size" json:"min_trade_size"`
	EnableDustMerge bool               `yaml:"enable_dust_merge" json:"enable_dust_merge"`
}

// MicroTuningConfig 微调参数
type MicroTuningConfig struct {
	EntryRequoteMinImprove float64 `yaml:"entry_requote_min_improve" json:"entry_requote_min_improve"`
	RemotePosSizeThreshold float64 `yaml:"remote_pos_size_threshold" json:"remote_pos_size_threshold"`
	LegSelectionMode       string  `yaml:"leg_selection_mode" json:"leg_selection_mode"` // highest_bid | yes_only | no_only
	TickIntervalMs         int     `yaml:"tick_interval_ms" json:"tick_interval_ms"`
	ExitDelaySec           float64 `yaml:"exit_delay_sec" json:"exit_delay_sec"`
	StaleAfterMs           int     `yaml:"stale_after_ms" json:"stale_after_ms"`
}

// FeedConfig 共享内存行情通道
type FeedConfig struct {
	ShmName     string `yaml:"shm_name" json:"shm_name"`
	ShmCapacity int    `yaml:"shm_capacity" json:"shm_capacity"`
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	ByCycle bool   `yaml:"by_cycle" json:"by_cycle"`
}

// JournalConfig 回合流水库
type JournalConfig struct {
	Path string `yaml:"path" json:"path"`
}

// OutcomeConfig 回合结果上报
type OutcomeConfig struct {
	ReportURL string `yaml:"report_url" json:"report_url"` // 为空则只写 journal
}

// SecretsConfig 凭证存储
type SecretsConfig struct {
	Path      string `yaml:"path" json:"path"`
	EncKeyEnv string `yaml:"enc_key_env" json:"enc_key_env"`
}

// RiskConfig 熔断阈值，0 表示对应检查关闭
type RiskConfig struct {
	MaxConsecutiveErrors int64 `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	DailyLossLimitCents  int64 `yaml:"daily_loss_limit_cents" json:"daily_loss_limit_cents"`
}

// Config 进程配置文档
type Config struct {
	API             APIConfig             `yaml:"api" json:"api"`
	Market          MarketConfig          `yaml:"market" json:"market"`
	EntryExit       EntryExitConfig       `yaml:"entry_exit" json:"entry_exit"`
	TimeWindows     TimeWindowsConfig     `yaml:"time_windows" json:"time_windows"`
	LateMode        LateModeConfig        `yaml:"late_mode" json:"late_mode"`
	PositionControl PositionControlConfig `yaml:"position_control" json:"position_control"`
	MicroTuning     MicroTuningConfig     `yaml:"micro_tuning" json:"micro_tuning"`
	Feed            FeedConfig            `yaml:"feed" json:"feed"`
	Logging         LoggingConfig         `yaml:"logging" json:"logging"`
	Journal         JournalConfig         `yaml:"journal" json:"journal"`
	Outcome         OutcomeConfig         `yaml:"outcome" json:"outcome"`
	Secrets         SecretsConfig         `yaml:"secrets" json:"secrets"`
	Risk            RiskConfig            `yaml:"risk" json:"risk"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			SignatureType: 1,
			ChainID:       137,
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
		},
		Market: MarketConfig{
			Symbol:    "btc",
			Kind:      "updown",
			Timeframe: "15m",
		},
		EntryExit: EntryExitConfig{
			EntryBidThreshold: 0.6,
			MinTpIncrement:    0.01,
			SlOffset:          0.2,
			SlFloor:           0.5,
			MaxTpPrice:        0.99,
			SlOrderPrice:      0.01,
		},
		TimeWindows: TimeWindowsConfig{
			ContractDurationSec: 900,
			LateWindowSec:       120,
			EntryRequoteWaitSec: 2.0,
		},
		LateMode: LateModeConfig{
			LateSlTrigger:             0.7,
			LateReentryEntryThreshold: 0.9,
			EnableLateReentry:         true,
			MaxLateReentries:          1,
		},
		PositionControl: PositionControlConfig{
			CapSchedule: domain.CapSchedule{
				{StartSec: 0, EndSec: 300, CapUSD: 7.0},
				{StartSec: 300, EndSec: 600, CapUSD: 7.5},
				{StartSec: 600, EndSec: 900, CapUSD: 8.0},
			},
			MinTradeSize:    5.0,
			EnableDustMerge: true,
		},
		MicroTuning: MicroTuningConfig{
			EntryRequoteMinImprove: 0.03,
			RemotePosSizeThreshold: 0.0,
			LegSelectionMode:       "highest_bid",
			TickIntervalMs:         200,
			ExitDelaySec:           1.0,
			StaleAfterMs:           1500,
		},
		Feed: FeedConfig{
			ShmName:     "poly_tob_shm",
			ShmCapacity: 4096,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "logs/combined.log",
			ByCycle: true,
		},
		Journal: JournalConfig{
			Path: "data/journal.db",
		},
		Secrets: SecretsConfig{
			Path:      "data/secrets",
			EncKeyEnv: "BUCKETMM_SECRETS_KEY",
		},
		Risk: RiskConfig{
			MaxConsecutiveErrors: 5,
			DailyLossLimitCents:  2000,
		},
	}
}

// Load 从文件加载配置（支持 YAML 和 JSON），环境变量 > 文件 > 默认值
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}

		ext := strings.ToLower(filepath.Ext(filePath))
		switch ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
			}
		default:
			return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖（只覆盖适合从环境注入的字段）
func (c *Config) applyEnvOverrides() {
	c.API.PrivateKey = getEnv("PRIVATE_KEY", c.API.PrivateKey)
	c.API.Mnemonic = getEnv("MNEMONIC", c.API.Mnemonic)
	c.API.FunderAddress = getEnv("FUNDER_ADDRESS", c.API.FunderAddress)
	c.API.ClobHost = getEnv("CLOB_HOST", c.API.ClobHost)
	c.API.GammaHost = getEnv("GAMMA_HOST", c.API.GammaHost)
	c.API.DataHost = getEnv("DATA_HOST", c.API.DataHost)
	c.Market.Symbol = getEnv("MARKET_SYMBOL", c.Market.Symbol)
	c.Market.Timeframe = getEnv("MARKET_TIMEFRAME", c.Market.Timeframe)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	c.Feed.ShmName = getEnv("FEED_SHM_NAME", c.Feed.ShmName)
	c.Journal.Path = getEnv("JOURNAL_PATH", c.Journal.Path)
	c.Outcome.ReportURL = getEnv("OUTCOME_REPORT_URL", c.Outcome.ReportURL)
	c.TimeWindows.LateWindowSec = parseIntEnv("LATE_WINDOW_SEC", c.TimeWindows.LateWindowSec)
	c.MicroTuning.TickIntervalMs = parseIntEnv("TICK_INTERVAL_MS", c.MicroTuning.TickIntervalMs)
	c.MicroTuning.StaleAfterMs = parseIntEnv("STALE_AFTER_MS", c.MicroTuning.StaleAfterMs)
}

// MarketSpec 构建市场规格（已在 Validate 中检查过，这里不会失败）
func (c *Config) MarketSpec() (marketspec.MarketSpec, error) {
	return marketspec.New(c.Market.Symbol, c.Market.Timeframe, c.Market.Kind)
}

// Validate 验证配置，错误信息指明具体字段
func (c *Config) Validate() error {
	if c.API.FunderAddress == "" {
		return fmt.Errorf("api.funder_address 未配置")
	}
	if !strings.HasPrefix(c.API.FunderAddress, "0x") || len(c.API.FunderAddress) != 42 {
		return fmt.Errorf("api.funder_address 不是合法地址: %q", c.API.FunderAddress)
	}
	if c.API.SignatureType < 0 || c.API.SignatureType > 2 {
		return fmt.Errorf("api.signature_type 必须是 0/1/2，当前: %d", c.API.SignatureType)
	}
	if c.API.ClobHost == "" || c.API.GammaHost == "" || c.API.DataHost == "" {
		return fmt.Errorf("api.clob_host / api.gamma_host / api.data_host 不能为空")
	}

	spec, err := marketspec.New(c.Market.Symbol, c.Market.Timeframe, c.Market.Kind)
	if err != nil {
		return fmt.Errorf("market 配置无效: %w", err)
	}
	if int64(c.TimeWindows.ContractDurationSec) != spec.Timeframe.DurationSec() {
		return fmt.Errorf("time_windows.contract_duration_sec (%d) 与 market.timeframe (%s) 不一致",
			c.TimeWindows.ContractDurationSec, c.Market.Timeframe)
	}

	ee := c.EntryExit
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"entry_exit.entry_bid_threshold", ee.EntryBidThreshold},
		{"entry_exit.min_tp_increment", ee.MinTpIncrement},
		{"entry_exit.sl_offset", ee.SlOffset},
		{"entry_exit.sl_floor", ee.SlFloor},
		{"entry_exit.max_tp_price", ee.MaxTpPrice},
		{"entry_exit.sl_order_price", ee.SlOrderPrice},
	} {
		if p.v <= 0 || p.v >= 1 {
			return fmt.Errorf("%s 必须在 0 到 1 之间（开区间），当前: %v", p.name, p.v)
		}
	}

	if c.TimeWindows.LateWindowSec < 0 || c.TimeWindows.LateWindowSec >= c.TimeWindows.ContractDurationSec {
		return fmt.Errorf("time_windows.late_window_sec 必须在 [0, contract_duration_sec) 内，当前: %d", c.TimeWindows.LateWindowSec)
	}
	if c.TimeWindows.EntryRequoteWaitSec < 0 {
		return fmt.Errorf("time_windows.entry_requote_wait_sec 不能为负数")
	}

	if c.LateMode.LateSlTrigger <= 0 || c.LateMode.LateSlTrigger >= 1 {
		return fmt.Errorf("late_mode.late_sl_trigger 必须在 0 到 1 之间，当前: %v", c.LateMode.LateSlTrigger)
	}
	if c.LateMode.LateReentryEntryThreshold <= 0 || c.LateMode.LateReentryEntryThreshold >= 1 {
		return fmt.Errorf("late_mode.late_reentry_entry_threshold 必须在 0 到 1 之间，当前: %v", c.LateMode.LateReentryEntryThreshold)
	}
	if c.LateMode.MaxLateReentries < 0 {
		return fmt.Errorf("late_mode.max_late_reentries 不能为负数")
	}

	if err := c.PositionControl.CapSchedule.Validate(c.TimeWindows.ContractDurationSec); err != nil {
		return fmt.Errorf("position_control.cap_schedule 无效: %w", err)
	}
	if c.PositionControl.MinTradeSize <= 0 {
		return fmt.Errorf("position_control.min_trade_size 必须大于 0")
	}

	switch c.MicroTuning.LegSelectionMode {
	case "highest_bid", "yes_only", "no_only":
	default:
		return fmt.Errorf("micro_tuning.leg_selection_mode 必须是 highest_bid/yes_only/no_only，当前: %q", c.MicroTuning.LegSelectionMode)
	}
	if c.MicroTuning.EntryRequoteMinImprove < 0 {
		return fmt.Errorf("micro_tuning.entry_requote_min_improve 不能为负数")
	}
	if c.MicroTuning.TickIntervalMs <= 0 {
		return fmt.Errorf("micro_tuning.tick_interval_ms 必须大于 0")
	}
	if c.MicroTuning.ExitDelaySec < 0 {
		return fmt.Errorf("micro_tuning.exit_delay_sec 不能为负数")
	}
	if c.MicroTuning.StaleAfterMs <= 0 {
		return fmt.Errorf("micro_tuning.stale_after_ms 必须大于 0")
	}

	if c.Feed.ShmName == "" {
		return fmt.Errorf("feed.shm_name 不能为空")
	}
	if c.Feed.ShmCapacity <= 0 || (c.Feed.ShmCapacity&(c.Feed.ShmCapacity-1)) != 0 {
		return fmt.Errorf("feed.shm_capacity 必须是正的 2 的幂，当前: %d", c.Feed.ShmCapacity)
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path 不能为空")
	}

	if c.Risk.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("risk.max_consecutive_errors 不能为负数")
	}
	if c.Risk.DailyLossLimitCents < 0 {
		return fmt.Errorf("risk.daily_loss_limit_cents 不能为负数")
	}

	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
