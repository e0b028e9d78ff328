package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// RiskLimits is the hot-reloadable snapshot read at every decision point.
// Fields are value types so a snapshot is immutable once published.
type RiskLimits struct {
	SymbolBlacklist          string  `yaml:"symbol_blacklist"`
	MinOrderSizeUSD          float64 `yaml:"min_order_size_usd"`
	MaxOrderSizeUSD          float64 `yaml:"max_order_size_usd"`
	MaxPositionSizeUSD       float64 `yaml:"max_position_size_usd"`
	MaxLeverage              float64 `yaml:"max_leverage"`
	DailyLossLimitPct        float64 `yaml:"daily_loss_limit_pct"`
	TradeCooldownSeconds     int     `yaml:"trade_cooldown_seconds"`
	MaxTradesPerSymbolPerDay int     `yaml:"max_trades_per_symbol_per_day"`
	MaintenanceMarginRatio   float64 `yaml:"maintenance_margin_ratio"`
	MinProfitTargetUSD       float64 `yaml:"min_profit_target_usd"`
}

// Blacklist returns the blacklist as a case-normalized set.
func (r *RiskLimits) Blacklist() map[string]bool {
	set := make(map[string]bool)
	for _, s := range strings.Split(r.SymbolBlacklist, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		SymbolBlacklist:          "XPL,ASTER,FARTCOIN,PENGU,CRV,SUI",
		MinOrderSizeUSD:          50.0,
		MaxOrderSizeUSD:          100000.0,
		MaxPositionSizeUSD:       1000000.0,
		MaxLeverage:              5.0,
		DailyLossLimitPct:        5.0,
		TradeCooldownSeconds:     300,
		MaxTradesPerSymbolPerDay: 10,
		MaintenanceMarginRatio:   0.5,
		MinProfitTargetUSD:       2.0,
	}
}

type Config struct {
	Exchange struct {
		APIURL             string `yaml:"api_url"`
		WSURL              string `yaml:"ws_url"`
		APIKey             string `yaml:"api_key"`
		AgentWalletPrivkey string `yaml:"agent_wallet_privkey"`
	} `yaml:"exchange"`
	Engine struct {
		StrategyID        string  `yaml:"strategy_id"`
		Symbols           string  `yaml:"symbols"`
		CycleIntervalSec  int     `yaml:"cycle_interval_sec"`
		CallTimeoutSec    int     `yaml:"call_timeout_sec"`
		PortfolioValueUSD float64 `yaml:"portfolio_value_usd"`
	} `yaml:"engine"`
	Risk  RiskLimits `yaml:"risk"`
	Hedge struct {
		ProfitThreshold           float64 `yaml:"profit_threshold"`
		HighLongExposureThreshold float64 `yaml:"high_long_exposure_threshold"`
		ShortExposureThreshold    float64 `yaml:"short_exposure_threshold"`
		MaxActivations            int     `yaml:"max_activations"`
		CoolOffSec                int     `yaml:"cool_off_sec"`
	} `yaml:"hedge"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// SymbolList parses the symbols field into an upper-cased list.
func (c *Config) SymbolList() []string {
	var out []string
	for _, s := range strings.Split(c.Engine.Symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{Risk: DefaultRiskLimits()}
	cfg.Hedge.ProfitThreshold = 0.1
	cfg.Hedge.HighLongExposureThreshold = 0.7
	cfg.Hedge.ShortExposureThreshold = 0.3
	cfg.Hedge.MaxActivations = 3
	cfg.Hedge.CoolOffSec = 1800
	cfg.Engine.CycleIntervalSec = 60
	cfg.Engine.CallTimeoutSec = 10
	cfg.Engine.PortfolioValueUSD = 100000

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Loader owns the config file and serves the current RiskLimits snapshot.
// Reloads are atomic pointer swaps, so readers never see a partial write.
type Loader struct {
	path   string
	mtime  time.Time
	limits atomic.Pointer[RiskLimits]
}

// Load reads the config file. Failure here is fatal to the caller; failure on
// a later ReloadIfChanged keeps the previous snapshot active.
func Load(path string) (*Config, *Loader, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}

	l := &Loader{path: path, mtime: info.ModTime()}
	limits := cfg.Risk
	l.limits.Store(&limits)
	return cfg, l, nil
}

// Limits returns the current snapshot. Callers must not cache it across
// decision points.
func (l *Loader) Limits() *RiskLimits {
	return l.limits.Load()
}

// ReloadIfChanged re-reads the config file when its mtime moved forward and
// swaps in the new risk limits. Returns true when a new snapshot was
// published. A parse error leaves the active snapshot untouched.
func (l *Loader) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return false, err
	}
	if !info.ModTime().After(l.mtime) {
		return false, nil
	}

	cfg, err := parseFile(l.path)
	if err != nil {
		return false, err
	}
	l.mtime = info.ModTime()
	limits := cfg.Risk
	l.limits.Store(&limits)
	return true, nil
}
