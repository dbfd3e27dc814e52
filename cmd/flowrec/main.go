package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/flowrec/internal/api"
	"github.com/dgnsrekt/flowrec/internal/browser"
	"github.com/dgnsrekt/flowrec/internal/capture"
	"github.com/dgnsrekt/flowrec/internal/cdpcontrol"
	"github.com/dgnsrekt/flowrec/internal/config"
	"github.com/dgnsrekt/flowrec/internal/controller"
	"github.com/dgnsrekt/flowrec/internal/events"
	"github.com/dgnsrekt/flowrec/internal/netutil"
	"github.com/dgnsrekt/flowrec/internal/notify"
	"github.com/dgnsrekt/flowrec/internal/recorder"
	"github.com/dgnsrekt/flowrec/internal/replay"
	"github.com/dgnsrekt/flowrec/internal/snapshot"
	"github.com/dgnsrekt/flowrec/internal/storage"
	"github.com/dgnsrekt/flowrec/internal/store"
)

const (
	runJournalBuffer = 256
	runJournalSizeMB = 10
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("flowrec config loaded",
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"data_dir", cfg.DataDir,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"ntfy", cfg.NtfyURL != "",
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.LaunchConfig{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			BinaryPath: cfg.BrowserPath,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer cdpClient.Close()

	flows, err := store.New(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open flow store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	snaps, err := snapshot.NewStore(filepath.Join(cfg.DataDir, "snapshots"))
	if err != nil {
		slog.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	journal := storage.NewJournal(filepath.Join(cfg.DataDir, "runs"), "runs", runJournalBuffer, runJournalSizeMB)
	defer func() {
		if err := journal.Close(); err != nil {
			slog.Warn("run journal close failed", "error", err)
		}
	}()

	broker := events.NewBroker()
	bus := events.NewBus(broker)

	capt := capture.New(cdpClient)
	defer capt.Close()
	rec := recorder.New(capture.Tabs{Source: cdpClient}, capt, flows, bus, recorder.Options{CancelGrace: cfg.CancelGrace()})
	capt.SetReporter(rec)

	chrome := browser.NewChrome(cfg.CDPURL(), cdpClient)
	defer chrome.Close()
	orchestrator := replay.NewOrchestrator(chrome, replay.Options{
		ElementTimeout: cfg.ElementTimeout(),
		PollInterval:   cfg.PollInterval(),
		Stabilize:      cfg.Stabilize(),
		ProbeTimeout:   cfg.ProbeTimeout(),
	})

	svc := controller.NewService(rec, flows, orchestrator, bus, controller.Options{
		Notifier:  notify.Notifier{Endpoint: cfg.NtfyURL},
		Journal:   journal,
		Snapshots: snaps,
	})
	defer svc.Close()

	srv := &http.Server{Handler: api.NewServer(svc, broker)}

	go func() {
		slog.Info("flowrec listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "flows", flows.Path())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("flowrec server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec.Cancel(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("flowrec shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
