package app

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"quant_go/internal/backtest"
	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/internal/infra"
	"quant_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.RunStore
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, installs the logger and opens the
// run store.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping quant engine...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewRunStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Run store initialized", "path", cfg.Storage.Path)

	return nil
}

// BuildBacktest assembles a backtest engine from the configuration:
// risk limits, venues with their accounts, and instruments.
func (b *Bootstrap) BuildBacktest() (*backtest.Engine, error) {
	riskCfg, err := b.Config.RiskConfig()
	if err != nil {
		return nil, err
	}
	e := backtest.NewEngine(backtest.Config{
		TraderID: b.Config.Backtest.TraderID,
		Risk:     riskCfg,
	}, slog.Default())

	for _, vc := range b.Config.Backtest.Venues {
		oms, err := vc.OmsType()
		if err != nil {
			return nil, err
		}
		kind, err := vc.AccountKind()
		if err != nil {
			return nil, err
		}
		balances, err := vc.Balances()
		if err != nil {
			return nil, err
		}
		var fm *engine.FillModel
		if vc.FillModel != nil {
			fm, err = engine.NewFillModel(vc.FillModel.ProbFillOnLimit,
				vc.FillModel.ProbFillOnStop, vc.FillModel.ProbSlippage, vc.FillModel.Seed)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", vc.Name, err)
			}
		}
		if err := e.AddVenue(vc.Name, oms, kind, balances, fm); err != nil {
			return nil, err
		}
	}
	for _, ic := range b.Config.Backtest.Instruments {
		inst, err := ic.ToInstrument()
		if err != nil {
			return nil, err
		}
		if err := e.AddInstrument(inst); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadQuoteCSV reads quote ticks from a CSV file with the columns
// ts_ns,bid,ask,bid_size,ask_size. A header row is skipped when the
// first field is not numeric.
func LoadQuoteCSV(path, instrumentID string) ([]domain.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	out := make([]domain.Data, 0, len(rows))
	for i, row := range rows {
		if len(row) != 5 {
			return nil, fmt.Errorf("%s row %d: expected 5 columns, got %d", path, i+1, len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("%s row %d: bad timestamp: %w", path, i+1, err)
		}

		fields := make([]decimal.Decimal, 4)
		for j, raw := range row[1:] {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("%s row %d col %d: %w", path, i+1, j+2, err)
			}
			fields[j] = d
		}
		out = append(out, domain.QuoteTick{
			InstrumentID: instrumentID,
			BidPrice:     fields[0],
			AskPrice:     fields[1],
			BidSize:      fields[2],
			AskSize:      fields[3],
			TsEvent:      ts,
			TsInit:       ts,
		})
	}
	return out, nil
}
