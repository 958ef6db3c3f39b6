// ABOUTME: Entry point for the ophub operation hub server
// ABOUTME: Dispatches user queries to AI agents and reconciles run outcomes

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
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

	"github.com/2389/ophub/internal/assistant"
	"github.com/2389/ophub/internal/auth"
	"github.com/2389/ophub/internal/config"
	"github.com/2389/ophub/internal/gateway"
	"github.com/2389/ophub/internal/hub"
	"github.com/2389/ophub/internal/jobs"
	"github.com/2389/ophub/internal/notify"
	"github.com/2389/ophub/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _           _
   ___  _ __ | |__  _   _| |__
  / _ \| '_ \| '_ \| | | | '_ \
 | (_) | |_) | | | | |_| | |_) |
  \___/| .__/|_| |_|\__,_|_.__/
       |_|
`

// getConfigPath returns the path to the ophub config file.
// Priority: OPHUB_CONFIG env var > XDG_CONFIG_HOME/ophub/ophub.yaml > ~/.config/ophub/ophub.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OPHUB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ophub.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ophub", "ophub.yaml")
}

// getDataPath returns the path to the ophub data directory.
// Priority: XDG_DATA_HOME/ophub > ~/.local/share/ophub
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "ophub")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ophub <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the operation hub server")
		fmt.Println("  init                  Create a config file with sane defaults")
		fmt.Println("  token --sub SUBJECT   Generate an API token")
		fmt.Println("  health                Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
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

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s\n", cfg.Assistant.BaseURL)
	if cfg.Notify.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("SMTP:      %s:%d\n", cfg.Notify.SMTPHost, cfg.Notify.SMTPPort)
	}
	fmt.Println()

	logger.Info("starting ophub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	gw := assistant.NewHTTPGateway(cfg.Assistant.BaseURL, cfg.Assistant.Token, cfg.Assistant.Timeout)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = notify.NewSMTPNotifier(
			cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.Username, cfg.Notify.Password, cfg.Notify.From)
	}

	runner := jobs.NewRunner(st, cfg.Jobs.Workers, cfg.Jobs.QueueSize)

	h := hub.New(st, gw, runner, notifier, hub.Options{
		PollInterval: cfg.Hub.PollInterval,
		RunTimeout:   cfg.Hub.RunTimeout,
	})
	runner.Register(hub.ReconcileJobName, h.HandleReconcileJob)

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	gwCfg := gateway.Config{
		Addr:               cfg.Server.HTTPAddr,
		BootstrapTokenHash: cfg.Auth.BootstrapTokenHash,
	}
	if cfg.Auth.JWTSecret != "" {
		jwtVerifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		gwCfg.Verifier = jwtVerifier
		gwCfg.TokenMinter = jwtVerifier
	} else {
		logger.Warn("auth.jwt_secret not set, API runs unauthenticated")
	}

	srv := gateway.New(h, st, gwCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

const exampleConfig = `server:
  http_addr: "127.0.0.1:8080"

database:
  path: "%s"

assistant:
  base_url: "http://127.0.0.1:9090"
  token: "${OPHUB_ASSISTANT_TOKEN}"
  timeout: 30s

hub:
  poll_interval: 1s
  run_timeout: 300s

jobs:
  workers: 4
  queue_size: 64

notify:
  enabled: false
  smtp_host: ""
  smtp_port: 587
  username: ""
  password: ""
  from: ""

auth:
  jwt_secret: "%s"
  bootstrap_token_hash: "%s"

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "ophub.db")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// The bootstrap token is printed once; only its hash is stored.
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return fmt.Errorf("generating bootstrap token: %w", err)
	}
	bootstrapToken := base64.URLEncoding.EncodeToString(tokenBytes)
	bootstrapHash, err := auth.HashToken(bootstrapToken)
	if err != nil {
		return fmt.Errorf("hashing bootstrap token: %w", err)
	}

	content := fmt.Sprintf(exampleConfig, dbPath, jwtSecret, bootstrapHash)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Print("    ▶ ")
	fmt.Printf("Config written to %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Print("Bootstrap token: ")
	yellow.Println(bootstrapToken)
	fmt.Println("      Save it now: it is not stored and cannot be recovered.")
	fmt.Println("      Exchange it for an API token via POST /api/tokens.")
	return nil
}

// runToken mints a JWT for API callers using the configured secret.
// Supports both "--sub value" and "--sub=value" formats.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
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

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
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
