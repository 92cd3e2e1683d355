// Command windrose runs the windowed execution governor: a control loop
// that rations order intents into admission windows, enforces layered risk
// limits over one brokerage account, and keeps durable per-account records
// for external viewers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/windrose-io/windrose/internal/config"
	"github.com/windrose-io/windrose/internal/decision"
	"github.com/windrose-io/windrose/internal/engine"
	"github.com/windrose-io/windrose/internal/execution"
	"github.com/windrose-io/windrose/internal/httpapi"
	"github.com/windrose-io/windrose/internal/risk"
	"github.com/windrose-io/windrose/internal/telemetry"
	"github.com/windrose-io/windrose/internal/venue"
	"github.com/windrose-io/windrose/internal/venue/bridge"
	"github.com/windrose-io/windrose/internal/window"
)

var (
	cfgPath string

	rootCmd = &cobra.Command{
		Use:   "windrose",
		Short: "Windowed execution governor",
		Long:  "Rations order intents into admission windows and enforces layered risk limits over one brokerage account.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the control loop",
		RunE:  runGovernor,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the latest published status record",
		RunE:  showStatus,
	}

	resetBaselineCmd = &cobra.Command{
		Use:   "reset-baseline",
		Short: "Discard the stored baseline equity so the next run re-anchors",
		RunE:  resetBaseline,
	}
)

func init() {
	// Accept underscores in flag names so they match the yaml keys.
	rootCmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "windrose.yaml", "path to config file")
	rootCmd.AddCommand(runCmd, statusCmd, resetBaselineCmd)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	return cfg, nil
}

func runGovernor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := bridge.New(bridge.Options{
		BaseURL:   cfg.Bridge.BaseURL,
		StreamURL: cfg.Bridge.StreamURL,
		Timeout:   cfg.Bridge.Timeout.Std(),
		RPS:       cfg.Bridge.RPS,
		Burst:     cfg.Bridge.Burst,
	}, log.With().Str("component", "bridge").Logger())
	defer gw.Close()

	// Startup reads are fatal: without an account and a selectable symbol
	// there is nothing to govern.
	account, err := gw.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot failed at startup: %w", err)
	}
	if err := gw.SelectSymbol(ctx, cfg.Symbol); err != nil {
		return fmt.Errorf("symbol select failed at startup: %w", err)
	}
	info, err := gw.SymbolInfo(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info failed at startup: %w", err)
	}

	log.Info().
		Int64("account", account.Login).
		Str("name", account.Name).
		Float64("equity", account.Equity).
		Str("symbol", cfg.Symbol).
		Msg("connected")

	baselineStore := risk.NewBaselineStore(cfg.Telemetry.Dir, account.Login, log.With().Str("component", "baseline").Logger())
	baseline, err := baselineStore.LoadOrInit(account.Login, account.Equity)
	if err != nil {
		return err
	}

	audit, err := buildTradeLog(cfg, account.Login)
	if err != nil {
		return err
	}
	defer audit.Close()

	metrics := telemetry.NewMetrics()

	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}
	log.Info().Str("policy", policy.Name()).Msg("decision policy ready")

	exec := execution.New(gw, execution.Params{
		Symbol:          cfg.Symbol,
		LotSize:         cfg.LotSize,
		CloseProfit:     cfg.CloseProfit,
		MaxSpread:       cfg.MaxSpread,
		StrategyTag:     cfg.StrategyTag,
		FillMode:        venue.FillMode(cfg.FillMode),
		DeviationPoints: cfg.DeviationPoints,
		TPMultiplier:    cfg.TPMultiplier(),
		Point:           info.Point,
	}, audit, metrics, log.With().Str("component", "execution").Logger())

	gov := risk.NewGovernor(risk.Limits{
		MaxDrawdownPct: cfg.MaxDrawdownPct,
		DailyTargetPct: cfg.DailyTargetPct,
		CloseProfit:    cfg.CloseProfit,
		TierPause:      cfg.TierPause,
		TierActive:     cfg.TierActive,
		OffsetMinLoss:  cfg.OffsetMinLoss,
	}, baseline, log.With().Str("component", "risk").Logger())

	win := window.New(
		time.Duration(cfg.Window.ActiveSeconds)*time.Second,
		time.Duration(cfg.Window.PauseSeconds)*time.Second,
		cfg.Window.OpenLimit,
		log.With().Str("component", "window").Logger(),
	)

	var sinks []engine.StatusSink
	if cfg.HTTP.Addr != "" {
		srv := httpapi.New(cfg.HTTP.Addr, metrics.Registry(), log.With().Str("component", "http").Logger())
		srv.Start()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		sinks = append(sinks, srv)
	}

	eng := engine.New(engine.Deps{
		Config:     cfg,
		Venue:      gw,
		Window:     win,
		Governor:   gov,
		Exec:       exec,
		Policy:     policy,
		Audit:      audit,
		StatusW:    telemetry.NewStatusWriter(cfg.Telemetry.Dir, account.Login),
		Report:     telemetry.NewReportAppender(cfg.Telemetry.Dir, account.Login),
		Metrics:    metrics,
		Sinks:      sinks,
		Account:    account.Login,
		Baseline:   baseline,
		SymbolInfo: info,
		Log:        log.With().Str("component", "engine").Logger(),
	})

	return eng.Run(ctx)
}

// buildTradeLog opens the file log and, when an audit DSN is configured,
// mirrors rows into Postgres.
func buildTradeLog(cfg *config.Config, account int64) (telemetry.TradeLog, error) {
	fileLog, err := telemetry.OpenTradeLog(cfg.Telemetry.Dir, account, log.With().Str("component", "tradelog").Logger())
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.AuditDSN == "" {
		return fileLog, nil
	}

	sink, err := telemetry.NewPGAuditSink(cfg.Telemetry.AuditDSN, account, log.With().Str("component", "audit").Logger())
	if err != nil {
		fileLog.Close()
		return nil, err
	}
	log.Info().Msg("postgres audit sink attached")
	return telemetry.NewMultiLog(fileLog, sink), nil
}

func buildPolicy(cfg *config.Config) (decision.Policy, error) {
	var policy decision.Policy
	switch cfg.Decision.Mode {
	case "remote":
		policy = decision.NewRemotePolicy(cfg.Decision.RemoteURL, cfg.Decision.Timeout.Std())
	default:
		p, err := decision.NewSMAPolicy(cfg.Decision.FastPeriod, cfg.Decision.SlowPeriod)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	if cfg.Reverse {
		policy = decision.Reversed{Inner: policy}
	}
	return policy, nil
}

func showStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw := bridge.New(bridge.Options{
		BaseURL: cfg.Bridge.BaseURL,
		Timeout: cfg.Bridge.Timeout.Std(),
		RPS:     cfg.Bridge.RPS,
		Burst:   cfg.Bridge.Burst,
	}, zerolog.Nop())
	defer gw.Close()

	account, err := gw.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot failed: %w", err)
	}

	rec, err := telemetry.ReadStatus(cfg.Telemetry.Dir, account.Login)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func resetBaseline(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw := bridge.New(bridge.Options{
		BaseURL: cfg.Bridge.BaseURL,
		Timeout: cfg.Bridge.Timeout.Std(),
		RPS:     cfg.Bridge.RPS,
		Burst:   cfg.Bridge.Burst,
	}, zerolog.Nop())
	defer gw.Close()

	account, err := gw.AccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot failed: %w", err)
	}

	store := risk.NewBaselineStore(cfg.Telemetry.Dir, account.Login, log.Logger)
	if err := store.Reset(); err != nil {
		return err
	}
	log.Info().Int64("account", account.Login).Msg("baseline discarded, next run re-anchors at current equity")
	return nil
}
