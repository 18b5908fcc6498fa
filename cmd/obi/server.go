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

	"github.com/kalambet/obi/internal/api"
	"github.com/kalambet/obi/internal/config"
	"github.com/kalambet/obi/internal/ingest"
	"github.com/kalambet/obi/internal/llm"
	"github.com/kalambet/obi/internal/profile"
	"github.com/kalambet/obi/internal/retrieval"
	"github.com/kalambet/obi/internal/session"
	"github.com/kalambet/obi/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the obi server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running obi server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show obi system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "obi.pid")
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
	fmt.Fprintf(os.Stderr, "obi version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Refuse to start twice. Check if the server is already running via the
	// health endpoint before writing the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("obi is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("obi is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load citizen profiles.
	profiles, err := profile.Load(cfg.Profiles.Path)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	logger.Info("profiles loaded", "count", len(profiles.All()))

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

	// Build the retrieval path. The embedding backend is optional: if it is
	// not reachable the service still answers, just without document context.
	embedder := retrieval.NewEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	var retriever session.DocRetriever
	var ingester *ingest.Ingester
	if err := embedder.Ping(ctx); err != nil {
		logger.Warn("embedding backend unavailable, document retrieval disabled", "error", err)
	} else {
		retriever = retrieval.NewRetriever(embedder, vectorStore, logger)
		ingester = ingest.NewIngester(embedder, vectorStore, logger)
	}

	// Build the session registry.
	llmClient := llm.NewClient(cfg.LLM.AnthropicAPIKey)
	registry := session.NewRegistry(cfg.Differentiation.DefaultLevel, cfg.Retrieval.TopK, llmClient, retriever, store, logger)

	handler := api.NewHandler(api.Deps{
		Registry: registry,
		Profiles: profiles,
		Store:    store,
		Ingester: ingester,
		APIToken: cfg.Server.APIToken,
		Logger:   logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	var mcpRetriever api.MCPRetriever
	if r, ok := retriever.(*retrieval.Retriever); ok {
		mcpRetriever = r
	}
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Registry:  registry,
		Profiles:  profiles,
		Retriever: mcpRetriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "obi listening on %s\n", addr)
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
		printError("obi is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop obi (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to obi (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	embResp, err := client.Get(cfg.Embedding.BaseURL + "/api/version")
	if err != nil {
		printStatus("Embedding backend", "not running")
	} else {
		embResp.Body.Close()
		printStatus("Embedding backend", "running at %s", cfg.Embedding.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Embedding.Model)
	printStatus("Profiles", "%s", cfg.Profiles.Path)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
