// Command gapless ingests Binance OHLCV archives into ClickHouse and serves
// gap-free range queries over them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrylica/gapless-crypto-clickhouse/services/archive"
	"github.com/terrylica/gapless-crypto-clickhouse/services/catalog"
	"github.com/terrylica/gapless-crypto-clickhouse/services/clickhouse"
	"github.com/terrylica/gapless-crypto-clickhouse/services/config"
	"github.com/terrylica/gapless-crypto-clickhouse/services/fetch"
	"github.com/terrylica/gapless-crypto-clickhouse/services/httpapi"
	"github.com/terrylica/gapless-crypto-clickhouse/services/ingest"
	"github.com/terrylica/gapless-crypto-clickhouse/services/market"
	"github.com/terrylica/gapless-crypto-clickhouse/services/netx"
	"github.com/terrylica/gapless-crypto-clickhouse/services/orchestrator"
	"github.com/terrylica/gapless-crypto-clickhouse/services/restfill"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	verbose    bool

	symbol     string
	timeframe  string
	instrument string
	start      string
	end        string
}

func newRootCmd() *cobra.Command {
	fl := &flags{}
	root := &cobra.Command{
		Use:           "gapless",
		Short:         "Binance OHLCV ingestion and gap-free queries over ClickHouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&fl.configPath, "config", "", "path to YAML config")
	root.PersistentFlags().BoolVar(&fl.verbose, "verbose", false, "debug logging")

	root.AddCommand(newIngestCmd(fl), newQueryCmd(fl), newGapsCmd(fl), newServeCmd(fl))
	return root
}

func addInstrumentFlags(cmd *cobra.Command, fl *flags) {
	cmd.Flags().StringVar(&fl.symbol, "symbol", "", "trading pair, e.g. BTCUSDT (comma separated for query)")
	cmd.Flags().StringVar(&fl.timeframe, "timeframe", "1h", "candle interval")
	cmd.Flags().StringVar(&fl.instrument, "instrument", "spot", "spot or futures-um")
	cmd.Flags().StringVar(&fl.start, "start", "", "window start, YYYY-MM-DD")
	cmd.Flags().StringVar(&fl.end, "end", "", "window end, YYYY-MM-DD (inclusive) or YYYY-MM-DD HH:MM:SS (exact)")
	cmd.MarkFlagRequired("symbol")
}

// app holds the wired components behind every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	conn     clickhouse.Conn
	store    *clickhouse.Store
	pipeline *ingest.Pipeline
	orch     *orchestrator.Orchestrator
}

func newApp(ctx context.Context, fl *flags) (*app, error) {
	cfg, err := config.Load(fl.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(fl.verbose)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(ctx, cfg.ClickHouse)
	if err != nil {
		return nil, err
	}
	store := clickhouse.NewStore(conn, cfg.ClickHouse.Database, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	retry := netx.RetryPolicy{Attempts: cfg.Retries, BaseDelay: time.Second, Multiplier: 2}
	cat := catalog.New(
		catalog.WithLookback(cfg.DailyLookback()),
		catalog.WithBatchSize(cfg.Concurrency),
	)
	fetcher := fetch.NewFetcher(fetch.Config{
		CacheDir:    cfg.CacheDir,
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.ArchiveTimeout(),
		Retry:       retry,
	}, logger)
	pipeline := ingest.New(cat, fetcher, archive.NewDecoder(logger), store, logger)

	filler := restfill.NewClient(logger,
		restfill.WithRetryPolicy(retry),
		restfill.WithHTTPClient(&http.Client{Timeout: cfg.RESTTimeout()}),
	)
	orch := orchestrator.New(store, pipeline, filler, logger)

	return &app{cfg: cfg, logger: logger, conn: conn, store: store, pipeline: pipeline, orch: orch}, nil
}

func (a *app) close() {
	a.conn.Close()
	a.logger.Sync()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (fl *flags) window() (market.Timeframe, market.InstrumentType, time.Time, time.Time, error) {
	tf, err := market.ParseTimeframe(fl.timeframe)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	inst, err := market.ParseInstrumentType(fl.instrument)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	start, end, err := market.ParseWindow(fl.start, fl.end)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, err
	}
	return tf, inst, start, end, nil
}

func newIngestCmd(fl *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download and load archives for a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tf, inst, start, end, err := fl.window()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, fl)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.pipeline.Ingest(ctx, fl.symbol, tf, inst, start, end)
			if err != nil {
				return err
			}
			fmt.Println(report.Summary())
			if report.Failed > 0 {
				return fmt.Errorf("%d archives failed", report.Failed)
			}
			return nil
		},
	}
	addInstrumentFlags(cmd, fl)
	return cmd
}

func newQueryCmd(fl *flags) *cobra.Command {
	var noIngest, noFill bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a window, ingesting and repairing gaps as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tf, inst, start, end, err := fl.window()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, fl)
			if err != nil {
				return err
			}
			defer a.close()

			resp, err := a.orch.Query(ctx, orchestrator.QueryRequest{
				Symbols:    splitList(fl.symbol),
				Timeframe:  tf,
				Instrument: inst,
				Start:      start,
				End:        end,
				AutoIngest: !noIngest,
				FillGaps:   !noFill,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(resp.Candles)
		},
	}
	addInstrumentFlags(cmd, fl)
	cmd.Flags().BoolVar(&noIngest, "no-auto-ingest", false, "never trigger archive ingestion")
	cmd.Flags().BoolVar(&noFill, "no-fill-gaps", false, "never repair gaps from the live endpoint")
	return cmd
}

func newGapsCmd(fl *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List internal gaps in stored data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tf, inst, start, end, err := fl.window()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, fl)
			if err != nil {
				return err
			}
			defer a.close()

			gaps, err := a.orch.Gaps(ctx, fl.symbol, tf, inst, start, end)
			if err != nil {
				return err
			}
			if len(gaps) == 0 {
				fmt.Println("no gaps")
				return nil
			}
			for _, g := range gaps {
				fmt.Printf("%s .. %s (%d missing)\n",
					g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.ExpectedBars)
			}
			return nil
		},
	}
	addInstrumentFlags(cmd, fl)
	return cmd
}

func newServeCmd(fl *flags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, fl)
			if err != nil {
				return err
			}
			defer a.close()

			api := httpapi.NewServer(a.orch, a.logger)
			srv := &http.Server{Addr: listen, Handler: api.Handler()}

			errc := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", zap.String("addr", listen))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	return cmd
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
