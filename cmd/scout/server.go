package main

import (
	"context"
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

	"github.com/kalambet/scout/internal/api"
	"github.com/kalambet/scout/internal/classify"
	"github.com/kalambet/scout/internal/config"
	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/intent"
	"github.com/kalambet/scout/internal/memory"
	"github.com/kalambet/scout/internal/ollama"
	"github.com/kalambet/scout/internal/pipeline"
	"github.com/kalambet/scout/internal/scout"
	"github.com/kalambet/scout/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scout server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scout server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scout system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "scout.pid")
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
	fmt.Fprintf(os.Stderr, "scout version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("scout is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("scout is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local model readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.Model, os.Stderr); err != nil {
		return err
	}

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

	// Assemble the agent: memory, intent router, retrieval engine, pipeline.
	mem := memory.New(store)
	classifier := classify.New(classify.DefaultRules())
	router := intent.NewRouter(classifier, mem)

	registry := fetch.DefaultRegistry(fetch.Options{
		Keys: fetch.SourceKeys{
			NewsAPI:  cfg.Sources.NewsAPIKey,
			NYTBooks: cfg.Sources.NYTBooksKey,
		},
		RSSFeeds:  cfg.Sources.RSSFeeds,
		WebPages:  cfg.Sources.WebPages,
		CorpusDir: cfg.Sources.CorpusDir,
	})
	engine := scout.NewEngine(registry, store, log, scout.Config{
		MaxFetchers:          cfg.Retrieval.MaxFetchers,
		MinGeneralConfidence: cfg.Retrieval.MinConfidence,
	})

	runner := pipeline.NewRunner(store, mem, router, engine, ollamaClient, cfg.Ollama.Model, log)

	// Build HTTP server.
	handler := api.NewHandler(runner, store)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server on its own port.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:    runner,
		Retriever: engine,
		Store:     store,
	})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv)
	go func() {
		slog.Info("MCP server listening", "addr", mcpAddr)
		if err := mcpHTTP.Start(mcpAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP server error", "error", err)
		}
	}()

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "scout listening on %s\n", addr)
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
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
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
		printError("scout is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop scout (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to scout (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
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

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Model", "%s", cfg.Ollama.Model)

	registry := fetch.DefaultRegistry(fetch.Options{
		Keys: fetch.SourceKeys{
			NewsAPI:  cfg.Sources.NewsAPIKey,
			NYTBooks: cfg.Sources.NYTBooksKey,
		},
		RSSFeeds:  cfg.Sources.RSSFeeds,
		WebPages:  cfg.Sources.WebPages,
		CorpusDir: cfg.Sources.CorpusDir,
	})
	printStatus("Sources", "%d registered", registry.Len())

	// Show policy, feedback, and source-success counts if the server is up.
	if running {
		c := &apiClient{baseURL: serverURL, httpClient: client}
		if resp, err := c.get(context.Background(), "/v1/policies"); err == nil {
			var policies []struct {
				Pattern string `json:"pattern"`
			}
			if decodeJSON(resp, &policies) == nil {
				printStatus("Policies", "%d", len(policies))
			}
		}
		if resp, err := c.get(context.Background(), "/v1/feedback/summary"); err == nil {
			var summary struct {
				TotalEvents int `json:"total_events"`
				ToolStats   []struct {
					Tool        string  `json:"tool"`
					Total       int     `json:"total"`
					SuccessRate float64 `json:"success_rate"`
				} `json:"tool_stats"`
			}
			if decodeJSON(resp, &summary) == nil {
				printStatus("Feedback events", "%d", summary.TotalEvents)
				for _, ts := range summary.ToolStats {
					printStatus("  "+ts.Tool, "%d attempts, %.0f%% ok", ts.Total, ts.SuccessRate*100)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
