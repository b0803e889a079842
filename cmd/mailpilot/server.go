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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mailpilot/mailpilot/internal/api"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/gemini"
	"github.com/mailpilot/mailpilot/internal/gmail"
	"github.com/mailpilot/mailpilot/internal/responder"
	"github.com/mailpilot/mailpilot/internal/schedule"
	"github.com/mailpilot/mailpilot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mailpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mailpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mailpilot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mailpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "mailpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the management API token exists.
	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mailpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mailpilot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the reply pipeline.
	gen := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model)
	runner := responder.New(store, gen, cfg.Gmail.SelfAddress, int64(cfg.Run.BatchSize), slog.Default())

	newMailbox := func(ctx context.Context, refreshToken string) (responder.Mailbox, error) {
		return gmail.NewClient(ctx, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, refreshToken)
	}
	serviceMailbox := func(ctx context.Context) (responder.Mailbox, error) {
		if cfg.Gmail.RefreshToken == "" {
			return nil, fmt.Errorf("no service refresh token configured (set gmail.refresh_token)")
		}
		return newMailbox(ctx, cfg.Gmail.RefreshToken)
	}

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:               store,
		Runner:              runner,
		Sessions:            &api.StaticSessions{Token: apiToken, RefreshToken: cfg.Gmail.RefreshToken},
		CronSecret:          cfg.Run.CronSecret,
		ServiceRefreshToken: cfg.Gmail.RefreshToken,
		NewMailbox:          newMailbox,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the built-in scheduler if an interval is configured.
	if cfg.Run.Interval != "" {
		interval, err := time.ParseDuration(cfg.Run.Interval)
		if err != nil {
			return fmt.Errorf("invalid run.interval %q: %w", cfg.Run.Interval, err)
		}
		trigger := func(ctx context.Context) (int, error) {
			mbx, err := serviceMailbox(ctx)
			if err != nil {
				return 0, err
			}
			res, err := runner.Run(ctx, mbx, responder.Options{})
			if err != nil {
				return 0, err
			}
			return res.Processed, nil
		}
		sched := schedule.New(trigger, interval, slog.Default())
		go sched.Run(ctx)
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:          store,
		Runner:         runner,
		ServiceMailbox: serviceMailbox,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mailpilot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mailpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mailpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mailpilot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Mailbox", "%s", cfg.Gmail.SelfAddress)
	printStatus("Model", "%s", cfg.Gemini.Model)
	if cfg.Run.Interval != "" {
		printStatus("Scheduler", "every %s", cfg.Run.Interval)
	} else {
		printStatus("Scheduler", "disabled")
	}

	// Show rule and log counts if server is running.
	if running {
		if mgmt, err := newAPIClient(); err == nil {
			ctx := context.Background()
			if resp, err := mgmt.get(ctx, "/rules"); err == nil {
				var rs []struct {
					Enabled bool `json:"enabled"`
				}
				if decodeJSON(resp, &rs) == nil {
					enabled := 0
					for _, r := range rs {
						if r.Enabled {
							enabled++
						}
					}
					printStatus("Rules", "%d (%d enabled)", len(rs), enabled)
				}
			}
			if resp, err := mgmt.get(ctx, "/logs"); err == nil {
				var logs []struct{}
				if decodeJSON(resp, &logs) == nil {
					printStatus("Log entries", "%d", len(logs))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
