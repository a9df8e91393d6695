// Command mirchi is the Radio Mirchi audio client: it plays the dialogue
// server's speech through a radio band-pass and streams push-to-talk
// microphone audio back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mirchi/internal/app"
	"github.com/MrWong99/mirchi/internal/config"
	"github.com/MrWong99/mirchi/internal/control"
	"github.com/MrWong99/mirchi/internal/health"
	"github.com/MrWong99/mirchi/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	keyboard := flag.Bool("keyboard", false, keyboardUsage)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "mirchi: %v\n", err)
		return 1
	}

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	// The watcher is wired to the app below; until then changes are dropped.
	var onChange func(old, next *config.Config)
	if *configPath == "" {
		cfg = config.Default()
	} else {
		watcher, err = config.NewWatcher(*configPath, func(old, next *config.Config) {
			if onChange != nil {
				onChange(old, next)
			}
		})
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "mirchi: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "mirchi: %v\n", err)
			}
			return 1
		}
		cfg = watcher.Current()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("mirchi starting",
		"version", version,
		"config", *configPath,
		"transport", cfg.Transport.URL,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mirchi",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg,
		app.WithMetrics(metrics),
		app.WithLevelVar(levelVar),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	onChange = application.ApplyConfig

	// ── HTTP control plane ────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", telemetry.Handler())
	health.New(health.ReadyChecker("transport", application)).Register(mux)
	control.New(application).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, *keyboard)

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The app finishing (dialogue over) ends the whole process.
		defer cancelRun()
		return application.Run(gctx)
	})
	g.Go(func() error {
		return serveHTTP(gctx, srv, cfg.Server.TLS)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
		go reloadOnHangup(gctx, watcher)
	}
	if *keyboard {
		go readKeyboard(gctx, os.Stdin, application)
	}

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	code := 0
	if runErr != nil {
		code = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// serveHTTP runs srv until ctx is cancelled and then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, tls *config.TLSConfig) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	slog.Info("control plane listening", "addr", srv.Addr, "tls", tls != nil)

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return <-errc
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout may carry the PCM output.
func printStartupSummary(cfg *config.Config, keyboard bool) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║     Radio Mirchi · startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow("Transport", cfg.Transport.URL)
	printRow("Mission", orDefault(cfg.Transport.MissionID, "(none)"))
	printRow("Output", cfg.Playback.Output)
	if cfg.Playback.Filter.Enabled {
		printRow("Filter", fmt.Sprintf("%.0f-%.0f Hz", cfg.Playback.Filter.LowHz, cfg.Playback.Filter.HighHz))
	} else {
		printRow("Filter", "(disabled)")
	}
	printRow("Mic input", orDefault(cfg.Capture.Input, "(disabled)"))
	printRow("Keyboard PTT", keyboardMode(keyboard))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("config: SIGHUP reload rejected", "err", err)
			}
		}
	}
}
