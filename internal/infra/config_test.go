package infra

import (
	"os"
	"path/filepath"
	"testing"

	"quant_go/internal/domain"
)

const validYAML = `
app:
  name: quant
  version: "1.0"
backtest:
  trader_id: BACKTESTER-001
  venues:
    - name: SIM
      oms: netting
      account_type: cash
      starting_balances:
        USDT: "100000"
        BTC: "2"
      fill_model:
        prob_fill_on_limit: 0.9
        prob_slippage: 0.1
        seed: 7
  instruments:
    - id: BTC/USDT
      venue: SIM
      base_currency: BTC
      quote_currency: USDT
      price_increment: "0.5"
      size_increment: "0.001"
      taker_fee_rate: "0.0005"
risk:
  max_order_qty: "10"
  order_rate_limit: 100
  order_rate_window_sec: 1
feed:
  ws_url: wss://example.com/stream
  symbols: [BTC/USDT]
storage:
  path: data/test.db
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Backtest.TraderID != "BACKTESTER-001" {
		t.Fatalf("trader id not parsed: %s", cfg.Backtest.TraderID)
	}

	v := cfg.Backtest.Venues[0]
	if oms, _ := v.OmsType(); oms != domain.OmsNetting {
		t.Fatal("oms not parsed")
	}
	if kind, _ := v.AccountKind(); kind != domain.AccountCash {
		t.Fatal("account type not parsed")
	}
	balances, err := v.Balances()
	if err != nil || len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d (%v)", len(balances), err)
	}
	if v.FillModel == nil || v.FillModel.ProbFillOnLimit != 0.9 || v.FillModel.Seed != 7 {
		t.Fatalf("fill model not parsed: %+v", v.FillModel)
	}

	rc, err := cfg.RiskConfig()
	if err != nil {
		t.Fatalf("risk config: %v", err)
	}
	if rc.MaxOrderQty.String() != "10" || rc.OrderRateLimit != 100 {
		t.Fatalf("risk limits not parsed: %+v", rc)
	}

	inst, err := cfg.Backtest.Instruments[0].ToInstrument()
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if inst.PriceIncrement.String() != "0.5" || inst.TakerFeeRate.String() != "0.0005" {
		t.Fatalf("instrument decimals not parsed: %+v", inst)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no venues", `
backtest:
  venues: []
`},
		{"bad oms", `
backtest:
  venues:
    - name: SIM
      oms: crossing
`},
		{"bad balance amount", `
backtest:
  venues:
    - name: SIM
      starting_balances:
        USDT: "lots"
`},
		{"bad feed url", `
backtest:
  venues:
    - name: SIM
feed:
  ws_url: http://example.com
`},
		{"instrument on unknown venue", `
backtest:
  venues:
    - name: SIM
  instruments:
    - id: BTC/USDT
      venue: OTHER
      base_currency: BTC
      quote_currency: USDT
      price_increment: "0.5"
      size_increment: "0.001"
`},
		{"rate limit without window", `
backtest:
  venues:
    - name: SIM
risk:
  order_rate_limit: 5
`},
		{"fill probability out of range", `
backtest:
  venues:
    - name: SIM
      fill_model:
        prob_slippage: 1.5
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUANT_FEED_KEY", "env-key")
	t.Setenv("QUANT_STORAGE_PATH", "env/path.db")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Feed.AccessKey != "env-key" {
		t.Fatalf("feed key not overridden: %s", cfg.Feed.AccessKey)
	}
	if cfg.Storage.Path != "env/path.db" {
		t.Fatalf("storage path not overridden: %s", cfg.Storage.Path)
	}
}
