// Package main provides the stockpilot command: it creates production
// vouchers in the accounting web UI for every request in a file, then
// emits the transfer note for the decants produced.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/x/term"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/entrhq/stockpilot/pkg/artifact"
	"github.com/entrhq/stockpilot/pkg/auth"
	"github.com/entrhq/stockpilot/pkg/batch"
	"github.com/entrhq/stockpilot/pkg/browser"
	"github.com/entrhq/stockpilot/pkg/config"
	"github.com/entrhq/stockpilot/pkg/events"
	"github.com/entrhq/stockpilot/pkg/logging"
	"github.com/entrhq/stockpilot/pkg/metrics"
	"github.com/entrhq/stockpilot/pkg/report"
	"github.com/entrhq/stockpilot/pkg/store"
	"github.com/entrhq/stockpilot/pkg/transfer"
	"github.com/entrhq/stockpilot/pkg/types"
	"github.com/entrhq/stockpilot/pkg/voucher"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK          = 0
	exitSetup       = 1
	exitFailures    = 2
	exitInterrupted = 130
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile   string
	RequestsFile string
	Email        string
	Password     string
	CookieFile   string
	MetricsAddr  string
	ReportDir    string
	Concurrency  int
	Force        bool
	NoTransfer   bool
	Headless     bool
	CopyFailed   bool
	ShowVersion  bool
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cli := parseFlags()
	if cli.ShowVersion {
		fmt.Printf("stockpilot v%s\n", version)
		return exitOK
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		printFatal(err)
		return exitSetup
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	code, err := run(ctx, cancel, cli, cfg)
	if err != nil {
		printFatal(err)
	}
	return code
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.RequestsFile, "requests", "", "Voucher request file, YAML or JSON (required)")
	flag.StringVar(&cli.Email, "email", os.Getenv("STOCKPILOT_EMAIL"), "Login email")
	flag.StringVar(&cli.Password, "password", os.Getenv("STOCKPILOT_PASSWORD"), "Login password")
	flag.StringVar(&cli.CookieFile, "cookies", "", "Cookie export (JSON) of a logged-in browser")
	flag.StringVar(&cli.MetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	flag.StringVar(&cli.ReportDir, "report-dir", "", "Directory for run.json and summary.md")
	flag.IntVar(&cli.Concurrency, "concurrency", 0, "Vouchers processed together (overrides config)")
	flag.BoolVar(&cli.Force, "force", false, "Process vouchers already created today")
	flag.BoolVar(&cli.NoTransfer, "no-transfer", false, "Skip the transfer note")
	flag.BoolVar(&cli.Headless, "headless", false, "Run the browser without a window")
	flag.BoolVar(&cli.CopyFailed, "copy-failed", false, "Copy failed SKUs to the clipboard")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "stockpilot - production vouchers through the accounting web UI\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stockpilot -requests vouchers.yaml [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Log in with saved cookies\n")
		fmt.Fprintf(os.Stderr, "  stockpilot -requests vouchers.yaml -cookies cookies.json\n\n")
		fmt.Fprintf(os.Stderr, "  # Headless with credentials, metrics on :9090\n")
		fmt.Fprintf(os.Stderr, "  stockpilot -config stockpilot.yaml -requests vouchers.json -email ops@example.com -headless -metrics-addr :9090\n\n")
	}

	flag.Parse()
	return cli
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cli.ConfigFile != "" {
		loaded, err := config.Load(cli.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cli.RequestsFile == "" {
		return nil, errors.New("-requests is required")
	}
	if cli.Headless {
		cfg.Browser.Headless = true
	}
	if cli.Force {
		cfg.Batch.Force = true
	}
	if cli.NoTransfer {
		cfg.Transfer.Enabled = false
	}
	if cli.Concurrency > 0 {
		cfg.Batch.Concurrency = cli.Concurrency
		if cfg.Browser.MaxTabs <= cli.Concurrency {
			cfg.Browser.MaxTabs = cli.Concurrency + 1
		}
	}
	if cli.ReportDir != "" {
		cfg.Report.Enabled = true
		cfg.Report.Dir = cli.ReportDir
	}
	if cli.MetricsAddr != "" {
		cfg.Metrics.Addr = cli.MetricsAddr
	}
	if cli.CookieFile != "" {
		cfg.Auth.CookieFile = cli.CookieFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run wires every component and executes one batch.
//
//nolint:gocyclo
func run(ctx context.Context, cancel context.CancelFunc, cli *CLIConfig, cfg *config.Config) (int, error) {
	if cfg.Logging.Dir != "" {
		logging.SetDirectory(cfg.Logging.Dir)
	}
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		return exitSetup, err
	}
	logger := logging.MustLogger("stockpilot")
	defer logger.Close()

	requests, err := loadRequests(cli.RequestsFile)
	if err != nil {
		return exitSetup, err
	}
	creds := types.Credentials{Email: cli.Email, Password: cli.Password}
	if cfg.Auth.CookieFile != "" {
		creds.Cookies, err = loadCookies(cfg.Auth.CookieFile)
		if err != nil {
			return exitSetup, err
		}
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return exitSetup, err
	}
	defer st.Close()

	var uploader artifact.Uploader = artifact.Nop{}
	if cfg.Artifacts.Enabled {
		dir, err := artifact.NewDirUploader(cfg.Artifacts.Dir)
		if err != nil {
			return exitSetup, err
		}
		uploader = dir
	}

	classifier, err := transfer.NewClassifier(cfg.Transfer.DecantPatterns, cfg.Transfer.DecantKeywords)
	if err != nil {
		return exitSetup, err
	}

	con := newConsole(os.Stdout)
	answers := newStdinAnswerer(os.Stdin, con)
	bus := events.NewBus(0, con.Handle, answers.Handle)
	defer bus.Close()

	var asker events.Asker
	if term.IsTerminal(os.Stdin.Fd()) {
		prompter := events.NewPrompter(bus, cfg.Auth.InputTimeout)
		answers.Attach(prompter)
		asker = prompter
	}

	manager := browser.NewManager(browser.Options{
		Headless: cfg.Browser.Headless,
		SlowMo:   cfg.Browser.SlowMo,
		Viewport: &browser.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		Timeout:  cfg.Browser.Timeout,
		MaxTabs:  cfg.Browser.MaxTabs,
	})
	if err := manager.Initialize(); err != nil {
		return exitSetup, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
	}()

	var limiter *rate.Limiter
	if cfg.Pacing.ActionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Pacing.ActionsPerSecond), max(cfg.Pacing.Burst, 1))
	}

	deps := batch.Deps{
		Driver: manager,
		Auth: auth.Options{
			HomeURL:            cfg.URL(cfg.Routes.Production),
			LoginURL:           cfg.URL(cfg.Routes.Login),
			LoginPattern:       cfg.Routes.LoginPattern,
			TwoFactorPattern:   cfg.Routes.TwoFactorPattern,
			ManualLoginTimeout: cfg.Auth.ManualLoginTimeout,
			TwoFactorTimeout:   cfg.Auth.TwoFactorTimeout,
			SubmitTimeout:      cfg.Batch.SubmitTimeout,
		},
		Voucher: voucher.Options{
			ProductionURL:    cfg.URL(cfg.Routes.Production),
			LedgerURL:        cfg.URL(cfg.Routes.Ledger),
			PreviewPattern:   cfg.Routes.PreviewPattern,
			WaitTimeout:      cfg.Browser.WaitTimeout,
			SubmitTimeout:    cfg.Batch.SubmitTimeout,
			TypingDelay:      cfg.Browser.TypingDelay,
			DecimalSeparator: cfg.Batch.DecimalSeparator,
			SkipStockCheck:   !cfg.Batch.StockCheck,
		},
		Asker:      asker,
		Store:      st,
		Uploader:   uploader,
		Limiter:    limiter,
		Classifier: classifier,
		Sink:       bus,
		Logger:     logger,
	}
	if cfg.Transfer.Enabled {
		deps.Transfer = func(driver browser.Driver, reporter *events.Reporter) (batch.Transferer, error) {
			e, err := transfer.New(transfer.Options{
				TransferURL:      cfg.URL(cfg.Routes.Transfer),
				Source:           cfg.Transfer.Source,
				Destination:      cfg.Transfer.Destination,
				DefaultUnitPrice: cfg.Transfer.DefaultUnitPrice,
				WaitTimeout:      cfg.Browser.WaitTimeout,
				SubmitTimeout:    cfg.Batch.SubmitTimeout,
				TypingDelay:      cfg.Browser.TypingDelay,
				DecimalSeparator: cfg.Batch.DecimalSeparator,
			}, driver, uploader, reporter, logger)
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	orch, err := batch.New(batch.Options{
		Concurrency:      cfg.Batch.Concurrency,
		RetryConcurrency: cfg.Batch.RetryConcurrency,
		NoRetry:          !cfg.Batch.Retry,
		Force:            cfg.Batch.Force,
	}, deps)
	if err != nil {
		return exitSetup, err
	}

	start := time.Now()
	h, err := orch.Start(ctx, requests, creds)
	if err != nil {
		return exitSetup, err
	}
	con.Banner(h.ID(), len(requests))

	stopSignals := handleSignals(h, cancel, con)
	defer stopSignals()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, h, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stats := h.Wait()
	bus.Close()

	if cfg.Report.Enabled {
		summary := report.NewSummary(h.ID(), start, time.Now(), stats, h.Results(), h.Stopping())
		w := report.NewWriter(filepath.Join(cfg.Report.Dir, h.ID()))
		if err := writeReport(w, summary, cfg.Report); err != nil {
			logger.Errorf("report: %v", err)
			con.Warn(fmt.Sprintf("Could not write the run report: %v", err))
		} else {
			con.Info(fmt.Sprintf("Report written to %s", w.Dir()))
		}
	}

	if cli.CopyFailed && len(stats.Errors) > 0 {
		if err := clipboard.WriteAll(report.FailedSKUs(stats)); err != nil {
			con.Warn(fmt.Sprintf("Could not copy failed SKUs: %v", err))
		} else {
			con.Info(fmt.Sprintf("Copied %d failed SKUs to the clipboard", len(stats.Errors)))
		}
	}

	if stats.Failed > 0 {
		return exitFailures, nil
	}
	return exitOK, nil
}

func writeReport(w *report.Writer, summary *report.Summary, cfg config.ReportConfig) error {
	if err := os.MkdirAll(w.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if cfg.JSON {
		if err := w.WriteJSON(summary); err != nil {
			return err
		}
	}
	if cfg.Markdown {
		return w.WriteMarkdown(summary)
	}
	return nil
}

// handleSignals stops the run on the first interrupt and exits on the second.
func handleSignals(h *batch.RunHandle, cancel context.CancelFunc, con *console) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
		case <-h.Done():
			return
		}
		con.Warn("Stopping after the vouchers in progress. Press Ctrl+C again to quit now.")
		h.Cancel()

		select {
		case <-sigChan:
		case <-h.Done():
			return
		}
		con.Warn("Quitting")
		cancel()
		os.Exit(exitInterrupted)
	}()
	return func() { signal.Stop(sigChan) }
}

// serveMetrics exposes Prometheus metrics, a health probe and the live
// run status.
func serveMetrics(addr string, h *batch.RunHandle, logger *logging.Logger) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", statusHandler(h))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	logger.Infof("metrics listening on %s", addr)
	return srv
}
