package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/wildscope/wildscope/internal/analysis"
	"github.com/wildscope/wildscope/internal/api"
	"github.com/wildscope/wildscope/internal/config"
	"github.com/wildscope/wildscope/internal/media"
	"github.com/wildscope/wildscope/internal/progress"
	"github.com/wildscope/wildscope/internal/session"
	"github.com/wildscope/wildscope/internal/storage"
	"github.com/wildscope/wildscope/internal/together"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wildscope server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running wildscope server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wildscope server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "wildscope.pid")
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
	fmt.Fprintf(os.Stderr, "wildscope version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	})))

	tools := media.Toolchain()
	if !tools["ffmpeg"] || !tools["ffprobe"] {
		printWarning("ffmpeg/ffprobe not found on PATH, video analysis will fail")
	}

	// Write PID file. Check if a server is already running via the
	// health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("wildscope is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("wildscope is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage and make sure the upload directory exists.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if err := os.MkdirAll(cfg.Storage.UploadDir(), 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	// Wire the pipeline.
	sessions := session.NewManager(store)
	client := together.New(together.Config{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
	})
	hub := progress.NewHub()
	go hub.Run(ctx)
	orch := analysis.NewOrchestrator(client, hub, analysis.Config{
		SampleStride:    cfg.Pipeline.SampleStride,
		MaxFrames:       cfg.Pipeline.MaxFrames,
		AnalysisTimeout: cfg.Pipeline.AnalysisTimeout,
	})

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Analyzer: orch,
		Hub:      hub,
		Storage:  cfg.Storage,
		Token:    cfg.Server.AuthToken,
		Version:  version,
		Model:    cfg.Provider.Model,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Cap concurrent connections at the listener.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Sessions: sessions,
		Analyzer: orch,
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
		slog.Info("wildscope listening", "addr", addr, "model", cfg.Provider.Model)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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
		printError("wildscope is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop wildscope (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to wildscope (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := healthClient.Get(healthURL)
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Version string `json:"version"`
			FFmpeg  bool   `json:"ffmpeg"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		switch {
		case resp.StatusCode != 200:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case decodeErr != nil:
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		default:
			running = true
			printStatus("Server", "running on port %d (version %s)", cfg.Server.Port, health.Version)
			if !health.FFmpeg {
				printWarning("ffmpeg/ffprobe missing on the server's PATH")
			}
		}
	}

	printStatus("Model", "%s", cfg.Provider.Model)
	printStatus("Sampling", "every %d frames, %d max", cfg.Pipeline.SampleStride, cfg.Pipeline.MaxFrames)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	tools := media.Toolchain()
	printStatus("ffmpeg", "%s", presence(tools["ffmpeg"]))
	printStatus("ffprobe", "%s", presence(tools["ffprobe"]))

	// Show the active session when the server is up.
	if running {
		showSessionStatus(clientFor(cfg))
	}
	return nil
}

func presence(found bool) string {
	if found {
		return "found"
	}
	return "missing"
}

func showSessionStatus(client *apiClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.get(ctx, "/api/session")
	if err != nil {
		return
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		printStatus("Session", "none")
		return
	}

	var sess struct {
		Filename      string `json:"filename"`
		Turns         int    `json:"turns"`
		VideoMetadata struct {
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"video_metadata"`
		LastAnalysis *struct {
			Species []string `json:"species"`
		} `json:"last_analysis"`
	}
	if decodeJSON(resp, &sess) != nil {
		return
	}
	printStatus("Session", "%s (%.1fs, %d turns)", sess.Filename, sess.VideoMetadata.DurationSeconds, sess.Turns)
	if sess.LastAnalysis != nil && len(sess.LastAnalysis.Species) > 0 {
		printStatus("Species", "%s", strings.Join(sess.LastAnalysis.Species, ", "))
	}
}
