// ABOUTME: Entry point for the eva-gateway chat streaming server
// ABOUTME: Serves the API and hub, plus admin commands for models and tokens

package main

import (
	"bufio"
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
	"github.com/google/uuid"

	"github.com/evachat/eva-gateway/internal/auth"
	"github.com/evachat/eva-gateway/internal/config"
	"github.com/evachat/eva-gateway/internal/gateway"
	"github.com/evachat/eva-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _____   ____ _      __ _  __ _| |_ _____      ____ _ _   _
 / _ \ \ / / _' |____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
|  __/\ V / (_| |____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___| \_/ \__,_|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                      |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: EVA_CONFIG env var > XDG_CONFIG_HOME/eva/gateway.yaml > ~/.config/eva/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("EVA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "eva", "gateway.yaml")
}

// getDataPath returns the path to the eva data directory.
// Priority: XDG_DATA_HOME/eva > ~/.local/share/eva
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "eva")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: eva-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the gateway server")
		fmt.Println("  init                        Create a new config file interactively")
		fmt.Println("  seed-model                  Register a model deployment")
		fmt.Println("  grant --user U --model M    Subscribe a user to a model")
		fmt.Println("  token --user U              Generate an access token for a user")
		fmt.Println("  health                      Check gateway health")
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
	case "seed-model":
		err = runSeedModel(ctx)
	case "grant":
		err = runGrant(ctx)
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

	fmt.Println()

	logger.Info("starting eva-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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

// parseFlags handles "--flag value" and "--flag=value" forms for the admin
// commands, which take a small fixed set of string flags.
func parseFlags(args []string, known map[string]*string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		matched := false
		for name, target := range known {
			switch {
			case arg == "--"+name:
				if i+1 >= len(args) {
					return fmt.Errorf("--%s requires a value", name)
				}
				*target = args[i+1]
				i++
				matched = true
			case strings.HasPrefix(arg, "--"+name+"="):
				*target = strings.TrimPrefix(arg, "--"+name+"=")
				matched = true
			}
			if matched {
				break
			}
		}
		if !matched {
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return nil
}

// runSeedModel registers or updates a model deployment row.
func runSeedModel(ctx context.Context) error {
	var id, name, provider, endpoint, apiKey, active string
	err := parseFlags(os.Args[2:], map[string]*string{
		"id":       &id,
		"name":     &name,
		"provider": &provider,
		"endpoint": &endpoint,
		"api-key":  &apiKey,
		"active":   &active,
	})
	if err != nil {
		return err
	}

	if name == "" || endpoint == "" || apiKey == "" {
		return fmt.Errorf("--name, --endpoint, and --api-key are required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if provider == "" {
		provider = "azure"
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	model := &store.Model{
		DeploymentID:   id,
		DeploymentName: name,
		Provider:       provider,
		Endpoint:       endpoint,
		APIKey:         apiKey,
		Active:         active != "false",
	}
	if err := s.UpsertModel(ctx, model); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Model registered\n")
	fmt.Printf("  ID:         %s\n", model.DeploymentID)
	fmt.Printf("  Deployment: %s\n", model.DeploymentName)
	fmt.Printf("  Provider:   %s\n", model.Provider)
	fmt.Printf("  Active:     %t\n", model.Active)
	return nil
}

// runGrant subscribes a user to a model.
func runGrant(ctx context.Context) error {
	var user, model string
	err := parseFlags(os.Args[2:], map[string]*string{
		"user":  &user,
		"model": &model,
	})
	if err != nil {
		return err
	}
	if user == "" || model == "" {
		return fmt.Errorf("--user and --model are required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if err := s.GrantSubscription(ctx, user, model); err != nil {
		return fmt.Errorf("granting subscription: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Subscribed %s to %s\n", user, model)
	return nil
}

// runToken generates a signed access token for a user.
func runToken() error {
	var user, ttl string
	err := parseFlags(os.Args[2:], map[string]*string{
		"user": &user,
		"ttl":  &ttl,
	})
	if err != nil {
		return err
	}
	if user == "" {
		return fmt.Errorf("--user is required")
	}

	tokenTTL := 30 * 24 * time.Hour
	if ttl != "" {
		tokenTTL, err = time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(user, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("eva-gateway configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	jwtSecret := prompt(reader, "JWT secret (leave empty to generate)", "")
	if jwtSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
		fmt.Println("Generated a random JWT secret.")
	}

	// Web search capability
	fmt.Println("\n--- Web Search Configuration ---")
	searchEndpoint := prompt(reader, "Search endpoint (leave empty to disable)", "")
	var searchKey, searchEngine string
	if searchEndpoint != "" {
		searchKey = prompt(reader, "Search API key", "")
		searchEngine = prompt(reader, "Search engine ID", "")
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# eva-gateway configuration\n")
	cfg.WriteString("# Generated by eva-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("chat:\n")
	cfg.WriteString("  stream_delay: \"15ms\"\n")
	cfg.WriteString("  inference_timeout: \"2m\"\n")
	cfg.WriteString("\n")

	if searchEndpoint != "" {
		cfg.WriteString("websearch:\n")
		cfg.WriteString(fmt.Sprintf("  endpoint: \"%s\"\n", searchEndpoint))
		cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", searchKey))
		cfg.WriteString(fmt.Sprintf("  engine_id: \"%s\"\n", searchEngine))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  eva-gateway seed-model --name gpt-4o --endpoint URL --api-key KEY")
	fmt.Println("  eva-gateway grant --user USER --model MODEL_ID")
	fmt.Println("  eva-gateway serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
