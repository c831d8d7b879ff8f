// ABOUTME: Entry point for the looma-sync coordination daemon
// ABOUTME: Serves the session API and runs the expiry and transcription workers

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/looma-sync/internal/config"
	"github.com/2389/looma-sync/internal/feed"
	"github.com/2389/looma-sync/internal/httpapi"
	"github.com/2389/looma-sync/internal/lease"
	"github.com/2389/looma-sync/internal/media"
	"github.com/2389/looma-sync/internal/recording"
	"github.com/2389/looma-sync/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___   __ _       ___ _   _ _ __   ___
| |/ _ \ / _ \| '_ ' _ \ / _' |_____/ __| | | | '_ \ / __|
| | (_) | (_) | | | | | | (_| |_____\__ \ |_| | | | | (__
|_|\___/ \___/|_| |_| |_|\__,_|     |___/\__, |_| |_|\___|
                                         |___/
`

// Lease lock names for the two background jobs.
const (
	expireLock     = "expire-worker"
	transcribeLock = "transcription-worker"
)

// getConfigPath returns the path to the daemon config file.
// Priority: LOOMA_CONFIG env var > XDG_CONFIG_HOME/looma/sync.yaml > ~/.config/looma/sync.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOMA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "sync.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "looma", "sync.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: looma-syncd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the sync daemon")
		fmt.Println("  health    Check daemon health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Blobs:    %s\n", cfg.Media.BlobDir)
	if len(cfg.Media.TranscribeCommand) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("STT:      %s\n", strings.Join(cfg.Media.TranscribeCommand, " "))
	} else {
		gray.Print("    ▶ ")
		gray.Println("STT:      disabled")
	}
	fmt.Println()

	logger.Info("starting looma-syncd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	bcast := feed.NewBroadcaster(logger)
	defer bcast.Close()
	feedSvc := feed.NewService(st, bcast, logger)

	blobs, err := media.NewDiskStore(cfg.Media.BlobDir, logger)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	var transcriber media.Transcriber
	if len(cfg.Media.TranscribeCommand) > 0 {
		transcriber, err = media.NewCommandTranscriber(cfg.Media.TranscribeCommand, blobs, logger)
		if err != nil {
			return fmt.Errorf("configuring transcriber: %w", err)
		}
	}

	sessions := recording.NewService(st, feedSvc, blobs, transcriber, recording.Config{
		StaleAfter:   cfg.Workers.SessionStaleAfter,
		RepeatKeyTTL: cfg.Workers.RepeatKeyTTL,
	}, logger)

	leases := lease.NewManager(st, logger)

	// Background workers, each under its own lease lock.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		leases.RunUnderLease(ctx, expireLock, sessions.ExpiryWorker(),
			cfg.Workers.PollInterval, cfg.Workers.LeaseDuration)
	}()
	if transcriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leases.RunUnderLease(ctx, transcribeLock, sessions.TranscriptionWorker(),
				cfg.Workers.PollInterval, cfg.Workers.LeaseDuration)
		}()
	}

	api := httpapi.NewServer(sessions, feedSvc, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: api.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("http server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	wg.Wait()
	logger.Info("looma-syncd stopped")
	return serveErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
