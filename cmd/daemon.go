package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/db"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the indexing daemon (usually spawned automatically)",
	Run:   runDaemon,
}

// openDaemonLog points the default logger at the daemon log file.
func openDaemonLog(path string, level slog.Level) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})))
	return f, nil
}

func runDaemon(cmd *cobra.Command, args []string) {
	// Until the log file is open, stderr is the log (Spawn redirects it there).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logFile, err := openDaemonLog(config.LogPath(), cfg.Daemon.Level())
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()

	database, err := db.New(config.DBPath())
	if err != nil {
		slog.Error("failed to open database", "path", config.DBPath(), "error", err)
		os.Exit(1)
	}

	slog.Info("daemon starting",
		"pid", os.Getpid(),
		"docsrs", cfg.DocsRS.BaseURL,
		"log_level", cfg.Daemon.Level(),
	)

	srv := daemon.NewServer(cfg, database, config.SocketPath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("daemon received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Warn("daemon stop", "error", err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}
