package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vinq/internal/config"
	"github.com/kalambet/vinq/internal/watch"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vinq server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vinq server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vinq server and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vinq.pid")
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
	fmt.Fprintf(os.Stderr, "vinq version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closer := setupLogging(cfg)
	defer closer.Close()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + clientAddr(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vinq is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("something is already listening on %s", cfg.Addr())
		return fmt.Errorf("address %s already in use", cfg.Addr())
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, a)
}

// serve runs the HTTP server, and the model watcher when enabled, until ctx
// is cancelled or one of them fails.
func serve(ctx context.Context, a *app) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("vinq listening", "addr", srv.Addr, "model", a.cfg.Model.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if a.cfg.Model.Watch {
		w := watch.New(a.cfg.Model.Path, a.service, a.cfg.Model.WatchDebounce, a.logger)
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				// The server keeps running without hot reload.
				a.logger.Error("model watcher stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
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
		printError("vinq is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vinq (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vinq (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status      string   `json:"status"`
	ModelLoaded bool     `json:"model_loaded"`
	Features    []string `json:"features"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    "http://" + clientAddr(cfg),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	ctx := context.Background()

	var health healthResponse
	resp, err := client.get(ctx, "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case decodeJSON(resp, &health) != nil:
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	default:
		printStatus("Server", "running on %s", cfg.Addr())
		if health.ModelLoaded {
			printStatus("Model", "loaded")
		} else {
			printStatus("Model", "not loaded yet (loads on first prediction)")
		}
	}

	printStatus("Model file", "%s", cfg.Model.Path)
	if _, err := os.Stat(cfg.Model.Path); err != nil {
		printWarning("model file not accessible: %v", err)
	}
	printStatus("Hot reload", "%v", cfg.Model.Watch)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if cfg.InsecureSecret() {
		printWarning("JWT secret is the built-in default")
	}
	return nil
}
