package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"quant_go/internal/domain"
	"quant_go/internal/risk"
)

// Decimal values are carried as YAML strings and parsed explicitly,
// since the YAML decoder cannot populate decimal.Decimal directly.

// FillModelConfig tunes the simulated venue's fill behavior. The seed
// pins the model's random draws so runs stay reproducible.
type FillModelConfig struct {
	ProbFillOnLimit float64 `yaml:"prob_fill_on_limit"`
	ProbFillOnStop  float64 `yaml:"prob_fill_on_stop"`
	ProbSlippage    float64 `yaml:"prob_slippage"`
	Seed            int64   `yaml:"seed"`
}

// Validate checks the probabilities lie in [0, 1].
func (f FillModelConfig) Validate() error {
	for name, p := range map[string]float64{
		"prob_fill_on_limit": f.ProbFillOnLimit,
		"prob_fill_on_stop":  f.ProbFillOnStop,
		"prob_slippage":      f.ProbSlippage,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("fill_model.%s %v outside [0, 1]", name, p)
		}
	}
	return nil
}

// VenueConfig describes one simulated venue and its starting account.
type VenueConfig struct {
	Name             string            `yaml:"name"`
	Oms              string            `yaml:"oms"`          // netting | hedging
	AccountType      string            `yaml:"account_type"` // cash | margin
	StartingBalances map[string]string `yaml:"starting_balances"`
	FillModel        *FillModelConfig  `yaml:"fill_model,omitempty"`
}

// OmsType parses the configured order management mode.
func (v VenueConfig) OmsType() (domain.OmsType, error) {
	switch strings.ToLower(v.Oms) {
	case "", "netting":
		return domain.OmsNetting, nil
	case "hedging":
		return domain.OmsHedging, nil
	}
	return 0, fmt.Errorf("venue %s: unknown oms %q", v.Name, v.Oms)
}

// AccountKind parses the configured account type.
func (v VenueConfig) AccountKind() (domain.AccountType, error) {
	switch strings.ToLower(v.AccountType) {
	case "", "cash":
		return domain.AccountCash, nil
	case "margin":
		return domain.AccountMargin, nil
	}
	return 0, fmt.Errorf("venue %s: unknown account type %q", v.Name, v.AccountType)
}

// Balances converts the configured balance map to account balances.
func (v VenueConfig) Balances() ([]domain.AccountBalance, error) {
	out := make([]domain.AccountBalance, 0, len(v.StartingBalances))
	for ccy, raw := range v.StartingBalances {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("venue %s: balance %s: %w", v.Name, ccy, err)
		}
		out = append(out, domain.AccountBalance{Currency: ccy, Total: total})
	}
	return out, nil
}

// InstrumentConfig mirrors domain.Instrument with string decimals.
type InstrumentConfig struct {
	ID             string `yaml:"id"`
	Venue          string `yaml:"venue"`
	BaseCurrency   string `yaml:"base_currency"`
	QuoteCurrency  string `yaml:"quote_currency"`
	PriceIncrement string `yaml:"price_increment"`
	SizeIncrement  string `yaml:"size_increment"`
	MinQuantity    string `yaml:"min_quantity"`
	MaxQuantity    string `yaml:"max_quantity"`
	Multiplier     string `yaml:"multiplier"`
	MakerFeeRate   string `yaml:"maker_fee_rate"`
	TakerFeeRate   string `yaml:"taker_fee_rate"`
	MarginInit     string `yaml:"margin_init"`
	MarginMaint    string `yaml:"margin_maint"`
}

// ToInstrument parses and validates the instrument definition.
func (ic InstrumentConfig) ToInstrument() (*domain.Instrument, error) {
	parse := func(field, raw string, dst *decimal.Decimal) error {
		if raw == "" {
			return nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("instrument %s: %s: %w", ic.ID, field, err)
		}
		*dst = d
		return nil
	}

	inst := &domain.Instrument{
		ID:            ic.ID,
		Venue:         ic.Venue,
		BaseCurrency:  ic.BaseCurrency,
		QuoteCurrency: ic.QuoteCurrency,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price_increment", ic.PriceIncrement, &inst.PriceIncrement},
		{"size_increment", ic.SizeIncrement, &inst.SizeIncrement},
		{"min_quantity", ic.MinQuantity, &inst.MinQuantity},
		{"max_quantity", ic.MaxQuantity, &inst.MaxQuantity},
		{"multiplier", ic.Multiplier, &inst.Multiplier},
		{"maker_fee_rate", ic.MakerFeeRate, &inst.MakerFeeRate},
		{"taker_fee_rate", ic.TakerFeeRate, &inst.TakerFeeRate},
		{"margin_init", ic.MarginInit, &inst.MarginInit},
		{"margin_maint", ic.MarginMaint, &inst.MarginMaint},
	} {
		if err := parse(f.name, f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("instrument %s: %w", ic.ID, err)
	}
	return inst, nil
}

// Config holds everything a run needs. LoadConfig reads it from YAML
// and then lets environment variables override the sensitive parts.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Backtest struct {
		TraderID    string             `yaml:"trader_id"`
		Venues      []VenueConfig      `yaml:"venues"`
		Instruments []InstrumentConfig `yaml:"instruments"`
	} `yaml:"backtest"`

	Risk struct {
		Bypass               bool   `yaml:"bypass"`
		MaxOrderQty          string `yaml:"max_order_qty"`
		MaxOrderNotional     string `yaml:"max_order_notional"`
		MaxPosition          string `yaml:"max_position"`
		OrderRateLimit       int    `yaml:"order_rate_limit"`
		OrderRateWindowSec   int    `yaml:"order_rate_window_sec"`
		MaxPriceDeviationBps int64  `yaml:"max_price_deviation_bps"`
	} `yaml:"risk"`

	Feed struct {
		WSURL     string   `yaml:"ws_url"`
		AccessKey string   `yaml:"access_key"`
		SecretKey string   `yaml:"secret_key"`
		Symbols   []string `yaml:"symbols"`
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Backtest.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	seen := make(map[string]bool)
	for _, v := range c.Backtest.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name must not be empty")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue %s", v.Name)
		}
		seen[v.Name] = true
		if _, err := v.OmsType(); err != nil {
			return err
		}
		if _, err := v.AccountKind(); err != nil {
			return err
		}
		if _, err := v.Balances(); err != nil {
			return err
		}
		if v.FillModel != nil {
			if err := v.FillModel.Validate(); err != nil {
				return fmt.Errorf("venue %s: %w", v.Name, err)
			}
		}
	}
	for _, ic := range c.Backtest.Instruments {
		if _, err := ic.ToInstrument(); err != nil {
			return err
		}
		if !seen[ic.Venue] {
			return fmt.Errorf("instrument %s: venue %s not configured", ic.ID, ic.Venue)
		}
	}
	if _, err := c.RiskConfig(); err != nil {
		return err
	}
	if c.Feed.WSURL != "" &&
		!strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if c.Risk.OrderRateLimit > 0 && c.Risk.OrderRateWindowSec <= 0 {
		return fmt.Errorf("order rate limit needs a positive window")
	}
	return nil
}

// RiskConfig parses the risk section into engine limits.
func (c *Config) RiskConfig() (risk.Config, error) {
	parse := func(field, raw string) (decimal.Decimal, error) {
		if raw == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("risk.%s: %w", field, err)
		}
		return d, nil
	}

	var out risk.Config
	var err error
	out.Bypass = c.Risk.Bypass
	if out.MaxOrderQty, err = parse("max_order_qty", c.Risk.MaxOrderQty); err != nil {
		return out, err
	}
	if out.MaxOrderNotional, err = parse("max_order_notional", c.Risk.MaxOrderNotional); err != nil {
		return out, err
	}
	if out.MaxPosition, err = parse("max_position", c.Risk.MaxPosition); err != nil {
		return out, err
	}
	out.OrderRateLimit = c.Risk.OrderRateLimit
	out.OrderRateWindow = time.Duration(c.Risk.OrderRateWindowSec) * time.Second
	out.MaxPriceDeviationBps = c.Risk.MaxPriceDeviationBps
	return out, nil
}

// overrideWithEnv applies environment overrides for secrets.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("QUANT_FEED_KEY"); key != "" {
		cfg.Feed.AccessKey = key
	}
	if secret := os.Getenv("QUANT_FEED_SECRET"); secret != "" {
		cfg.Feed.SecretKey = secret
	}
	if path := os.Getenv("QUANT_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
