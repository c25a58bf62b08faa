package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFunder = "0x1234567890abcdef1234567890abcdef12345678"

func TestDefaultValidatesWithFunder(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate(), "funder 缺失时必须报错")

	cfg.API.FunderAddress = testFunder
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 137, cfg.API.ChainID)
	assert.Equal(t, 0.6, cfg.EntryExit.EntryBidThreshold)
	assert.Equal(t, 900, cfg.TimeWindows.ContractDurationSec)
	assert.Equal(t, "highest_bid", cfg.MicroTuning.LegSelectionMode)
	assert.Len(t, cfg.PositionControl.CapSchedule, 3)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  funder_address: "` + testFunder + `"
  signature_type: 2
market:
  symbol: eth
entry_exit:
  entry_bid_threshold: 0.65
time_windows:
  late_window_sec: 90
position_control:
  cap_schedule:
    - start_sec: 0
      end_sec: 450
      cap_usd: 5.0
    - start_sec: 450
      end_sec: 900
      cap_usd: 6.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, testFunder, cfg.API.FunderAddress)
	assert.Equal(t, 2, cfg.API.SignatureType)
	assert.Equal(t, "eth", cfg.Market.Symbol)
	assert.Equal(t, 0.65, cfg.EntryExit.EntryBidThreshold)
	assert.Equal(t, 90, cfg.TimeWindows.LateWindowSec)
	assert.Equal(t, 6.0, cfg.PositionControl.CapSchedule[1].CapUSD)

	// 未覆盖的字段保留默认值
	assert.Equal(t, "15m", cfg.Market.Timeframe)
	assert.Equal(t, "https://clob.polymarket.com", cfg.API.ClobHost)
	assert.Equal(t, 0.01, cfg.EntryExit.SlOrderPrice)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"api": {"funder_address": "` + testFunder + `"}, "logging": {"level": "debug"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不支持的配置文件格式")
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  funder_address: "` + testFunder + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("MARKET_SYMBOL", "sol")
	t.Setenv("TICK_INTERVAL_MS", "500")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sol", cfg.Market.Symbol)
	assert.Equal(t, 500, cfg.MicroTuning.TickIntervalMs)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "funder 地址非法",
			mutate:  func(c *Config) { c.API.FunderAddress = "not-an-address" },
			wantSub: "funder_address",
		},
		{
			name:    "signature_type 越界",
			mutate:  func(c *Config) { c.API.SignatureType = 3 },
			wantSub: "signature_type",
		},
		{
			name:    "入场阈值越界",
			mutate:  func(c *Config) { c.EntryExit.EntryBidThreshold = 1.2 },
			wantSub: "entry_bid_threshold",
		},
		{
			name:    "止损下限为零",
			mutate:  func(c *Config) { c.EntryExit.SlFloor = 0 },
			wantSub: "sl_floor",
		},
		{
			name:    "late 窗口超过桶长",
			mutate:  func(c *Config) { c.TimeWindows.LateWindowSec = 900 },
			wantSub: "late_window_sec",
		},
		{
			name: "桶长与 timeframe 不一致",
			mutate: func(c *Config) {
				c.TimeWindows.ContractDurationSec = 600
			},
			wantSub: "contract_duration_sec",
		},
		{
			name: "cap_schedule 有洞",
			mutate: func(c *Config) {
				c.PositionControl.CapSchedule[1].StartSec = 350
			},
			wantSub: "cap_schedule",
		},
		{
			name:    "leg 模式未知",
			mutate:  func(c *Config) { c.MicroTuning.LegSelectionMode = "both" },
			wantSub: "leg_selection_mode",
		},
		{
			name:    "shm 容量非 2 的幂",
			mutate:  func(c *Config) { c.Feed.ShmCapacity = 1000 },
			wantSub: "shm_capacity",
		},
		{
			name:    "tick 周期为零",
			mutate:  func(c *Config) { c.MicroTuning.TickIntervalMs = 0 },
			wantSub: "tick_interval_ms",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.API.FunderAddress = testFunder
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestResolvePrivateKeyFromHex(t *testing.T) {
	cfg := Default()
	cfg.API.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	key, err := cfg.ResolvePrivateKey(nil)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", strings.ToLower(addr.Hex()))
}

func TestResolvePrivateKeyFromMnemonic(t *testing.T) {
	cfg := Default()
	cfg.API.Mnemonic = "test test test test test test test test test test test junk"

	key, err := cfg.ResolvePrivateKey(nil)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", strings.ToLower(addr.Hex()))
}

func TestResolvePrivateKeyMissing(t *testing.T) {
	cfg := Default()
	_, err := cfg.ResolvePrivateKey(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未配置签名私钥")
}

func TestResolvePrivateKeyKeyRefWithoutStore(t *testing.T) {
	cfg := Default()
	cfg.API.KeyRef = "trading-key"
	_, err := cfg.ResolvePrivateKey(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secretstore")
}
