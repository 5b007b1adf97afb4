package btctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quant/backtest"
	"quant/fetcher"
	"quant/store"
)

func load(ctx context.Context, opt options, logger *zap.Logger) (backtest.RunFile, []backtest.Bar, error) {
	rf, err := backtest.LoadRunFile(opt.configPath)
	if err != nil {
		return rf, nil, err
	}
	if rf.Config.Symbol == "" {
		return rf, nil, fmt.Errorf("backtest.symbol is required")
	}
	src, err := fetcher.Open(rf.Data.Source, rf.Data.Dir, rf.Data.Encoding, opt.cacheDir, logger)
	if err != nil {
		return rf, nil, err
	}
	bars, err := fetcher.LoadBars(ctx, src, rf.Config)
	if err != nil {
		return rf, nil, err
	}
	logger.Info("bars loaded",
		zap.String("symbol", rf.Config.Symbol),
		zap.Int("bars", len(bars)),
	)
	return rf, bars, nil
}

func runBacktest(ctx context.Context, opt options, logger *zap.Logger) error {
	rf, bars, err := load(ctx, opt, logger)
	if err != nil {
		return err
	}
	res, err := backtest.Run(ctx, rf.Config, rf.Strategy, bars, logger)
	if err != nil {
		return err
	}
	if opt.chartPath != "" {
		if err := chart(opt.chartPath, rf.Config.Symbol+" "+res.Strategy, res.EquityCurve, res.Trades); err != nil {
			return err
		}
	}
	if err := archive(ctx, opt, store.KindSingle, rf.Config.Symbol, res.Strategy, res.Metrics, res); err != nil {
		return err
	}
	return writeJSON(opt.outPath, res)
}

func runPortfolio(ctx context.Context, opt options, logger *zap.Logger) error {
	rf, bars, err := load(ctx, opt, logger)
	if err != nil {
		return err
	}
	res, err := backtest.RunPortfolio(ctx, rf.Config, rf.Portfolio, bars, logger)
	if err != nil {
		return err
	}
	names := make([]string, len(res.Strategies))
	for i, s := range res.Strategies {
		names[i] = s.Name
	}
	label := "portfolio[" + strings.Join(names, ",") + "]"
	if opt.chartPath != "" {
		fills := make([]backtest.Fill, len(res.Trades))
		for i, t := range res.Trades {
			fills[i] = t.Fill
		}
		if err := chart(opt.chartPath, rf.Config.Symbol+" "+label, res.EquityCurve, fills); err != nil {
			return err
		}
	}
	if err := archive(ctx, opt, store.KindPortfolio, rf.Config.Symbol, label, res.Metrics, res); err != nil {
		return err
	}
	return writeJSON(opt.outPath, res)
}

func runOptimize(ctx context.Context, opt options, logger *zap.Logger) error {
	rf, bars, err := load(ctx, opt, logger)
	if err != nil {
		return err
	}
	if rf.Optimize == nil {
		return fmt.Errorf("%s: optimize section is missing", opt.configPath)
	}
	metric := rf.Optimize.Metric
	if metric == "" {
		metric = "sharpe_ratio"
	}
	o := &backtest.Optimizer{
		Config:     rf.Config,
		Strategy:   rf.Strategy.Type,
		BaseParams: rf.Strategy.Params,
		Grid:       rf.Optimize.Grid,
		Metric:     metric,
		Budget:     rf.Optimize.Budget,
		Logger:     logger,
	}
	res, err := o.Run(ctx, bars)
	if err != nil {
		if res != nil {
			_ = writeJSON(opt.outPath, res)
		}
		return err
	}
	if opt.chartPath != "" && res.Best != nil {
		if err := chart(opt.chartPath, rf.Config.Symbol+" "+res.Best.Strategy, res.Best.EquityCurve, res.Best.Trades); err != nil {
			return err
		}
	}
	if err := archive(ctx, opt, store.KindOptimize, rf.Config.Symbol, res.Best.Strategy, res.Best.Metrics, res); err != nil {
		return err
	}
	return writeJSON(opt.outPath, res)
}

func chart(path, title string, curve []backtest.EquityPoint, fills []backtest.Fill) error {
	svg, err := backtest.RenderEquitySVG(title, curve, fills, backtest.SVGChartOptions{})
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return writeFile(path, svg)
}

// archive 保存到 SQLite；未设置 -db 时跳过
func archive(ctx context.Context, opt options, kind store.Kind, symbol, strategy string, m backtest.Metrics, payload any) error {
	if opt.dbPath == "" {
		return nil
	}
	if err := ensureParentDir(opt.dbPath); err != nil {
		return err
	}
	db, err := store.NewSQLiteResultStore(opt.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return db.Put(ctx, store.ResultRecord{
		TaskID:    uuid.NewString(),
		Kind:      kind,
		Symbol:    symbol,
		Strategy:  strategy,
		Metrics:   m,
		Payload:   raw,
		CreatedAt: time.Now(),
	})
}

func runHistory(ctx context.Context, opt options, w io.Writer) error {
	if opt.dbPath == "" {
		return fmt.Errorf("-history requires -db")
	}
	db, err := store.NewSQLiteResultStore(opt.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	recs, err := db.Recent(ctx, opt.limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSYMBOL\tSTRATEGY\tRETURN\tSHARPE\tMAX_DD\tTRADES")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t%.2f\t%.2f%%\t%d\n",
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Kind,
			r.Symbol,
			r.Strategy,
			r.Metrics.TotalReturn*100,
			r.Metrics.SharpeRatio,
			r.Metrics.MaxDrawdown*100,
			r.Metrics.TotalTrades,
		)
	}
	return tw.Flush()
}
