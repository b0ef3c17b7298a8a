// Command wellmap starts the map annotation and exploration server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from a TOML file (configs/wellmap.toml by default); flags override
// the listen address, definitions directory, storage backend and log level.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/wellmap/api"
	"github.com/wricardo/wellmap/game/config"
	"github.com/wricardo/wellmap/game/engine"
	"github.com/wricardo/wellmap/game/service"
	"github.com/wricardo/wellmap/game/session"
	"github.com/wricardo/wellmap/transport/export"
	"github.com/wricardo/wellmap/transport/mcp"
	"github.com/wricardo/wellmap/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Wellmap Server"
)

const (
	sessionMaxIdle      = 24 * time.Hour
	sessionCleanupEvery = time.Hour
	storeSyncEvery      = 5 * time.Second
)

// Configuration flags. Empty values leave the settings file in charge.
var (
	settingsPath = flag.String("config", getSettingsPathDefault(), "Path to the TOML settings file")
	port         = flag.String("port", "", "HTTP server port (overrides settings)")
	host         = flag.String("host", "", "HTTP server host (overrides settings)")
	defsDir      = flag.String("definitions-dir", "", "Directory containing marker and node definitions (overrides settings)")
	storage      = flag.String("storage", "", "Storage backend: memory, file or postgres (overrides settings)")
	editor       = flag.Bool("editor", false, "Allow editor sessions (node graph editing)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

// getSettingsPathDefault honors WELLMAP_CONFIG, then CONFIG_DIR, then falls back
// to configs/wellmap.toml.
func getSettingsPathDefault() string {
	if path := os.Getenv("WELLMAP_CONFIG"); path != "" {
		return path
	}
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return filepath.Join(dir, "wellmap.toml")
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with API, WebSocket, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Run HTTP server with configs/wellmap.toml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -port 9090 -editor     # Run on port 9090 with node editing enabled\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -storage memory        # Keep all state in memory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp              # Run MCP stdio server\n", os.Args[0])
	}
}

// main parses flags, initializes services, and starts the selected mode.
func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	flag.Parse()

	// Show version if requested
	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	settings, err := loadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(settings)

	log, err := newLogger(settings.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if envErr == nil {
		log.Info("loaded environment variables from .env file")
	} else if !os.IsNotExist(envErr) {
		log.Warn("error loading .env file", zap.Error(envErr))
	}

	// Determine mode from command
	args := flag.Args()
	mode := "server" // default
	if len(args) > 0 {
		mode = args[0]
	}

	log.Info("starting",
		zap.String("app", AppName),
		zap.String("version", Version),
		zap.String("mode", mode),
		zap.String("storage", settings.Storage.Backend))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := initializeServices(ctx, settings, log)
	if err != nil {
		log.Fatal("failed to initialize services", zap.Error(err))
	}
	defer svc.Close()

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		// Run MCP stdio server with internal HTTP server
		runStdioMCPWithInternalServer(ctx, settings, svc, log)

	case "server", "http":
		// Run HTTP server with API, WebSocket, and MCP endpoint
		runHTTPServer(ctx, settings, svc, log)

	default:
		log.Fatal("unknown mode, use 'server' (default) or 'stdio-mcp'", zap.String("mode", mode))
	}
}

// loadSettings reads the settings file, falling back to defaults when it is absent
func loadSettings(path string) (*config.Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultSettings(), nil
	}
	return config.LoadSettings(path)
}

// applyFlagOverrides copies explicitly set flags over the settings file values
func applyFlagOverrides(s *config.Settings) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			s.Server.Port = *port
		case "host":
			s.Server.Host = *host
		case "definitions-dir":
			s.Definitions.Dir = *defsDir
		case "storage":
			s.Storage.Backend = *storage
		case "editor":
			s.Server.Editor = *editor
		}
	})
	if *debug {
		s.Logging.Level = "debug"
	}
}

func newLogger(cfg config.LoggingSettings) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// services bundles what the transports need
type services struct {
	maps     service.MapService
	sessions *session.Manager
	configs  *config.Manager
	closers  []func()
}

// Close releases storage connections
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStore builds the key-value store selected in the settings
func openStore(ctx context.Context, s config.StorageSettings, log *zap.Logger) (session.KVStore, func(), error) {
	switch s.Backend {
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	case "file":
		store, err := session.NewFileStore(s.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		store, err := session.NewPostgresStore(ctx, s.DSN, s.Timeout, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, s.Backend)
}

// newSink picks where published node lists go: an HTTP endpoint when a URL is
// configured, otherwise a JSON file, otherwise nowhere.
func newSink(s config.ExportSettings, log *zap.Logger) engine.ExportSink {
	switch {
	case s.URL != "":
		return export.NewHTTPSink(s.URL, s.Timeout, log)
	case s.File != "":
		return export.NewFileSink(s.File, log)
	}
	return nil
}

// initializeServices wires storage, definitions, sessions and the map service.
// It also starts the background routines that keep sessions tidy and, when
// enabled, reload definitions on change. They stop when ctx is done.
func initializeServices(ctx context.Context, settings *config.Settings, log *zap.Logger) (*services, error) {
	configManager, err := config.NewManager(settings.Definitions.Dir, log.Named("definitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to create definitions manager: %w", err)
	}

	store, closeStore, err := openStore(ctx, settings.Storage, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", settings.Storage.Backend, err)
	}

	sessionManager, err := session.NewManager(session.ManagerOptions{
		Store:       store,
		Definitions: configManager.Definitions,
		World:       settings.World.World(),
		Sink:        newSink(settings.Export, log.Named("export")),
		Logger:      log.Named("sessions"),
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	// Load persisted sessions on startup
	if err := sessionManager.LoadPersistedSessions(); err != nil {
		log.Warn("failed to load persisted sessions", zap.Error(err))
	}

	svc := &services{
		maps:     service.NewMapService(sessionManager, configManager, settings.Server.Editor),
		sessions: sessionManager,
		configs:  configManager,
		closers:  []func(){closeStore},
	}

	go sessionCleanupRoutine(ctx, sessionManager, log)
	if settings.Storage.Backend != "memory" {
		go storeSyncRoutine(ctx, sessionManager, log)
	}
	if settings.Definitions.Watch {
		go watchDefinitions(ctx, configManager, svc.maps, log)
	}

	return svc, nil
}

// sessionCleanupRoutine periodically evicts sessions that have not been accessed
// within the retention window. Their state stays in the store.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, log *zap.Logger) {
	ticker := time.NewTicker(sessionCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(sessionMaxIdle); removed > 0 {
				log.Info("cleaned up expired sessions", zap.Int("count", removed))
			}
		}
	}
}

// storeSyncRoutine periodically drops in-memory sessions whose metadata was
// deleted from a store shared with other processes.
func storeSyncRoutine(ctx context.Context, manager *session.Manager, log *zap.Logger) {
	ticker := time.NewTicker(storeSyncEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := manager.PruneOrphaned(); pruned > 0 {
				log.Info("store sync pruned orphaned sessions", zap.Int("count", pruned))
			}
		}
	}
}

// watchDefinitions rebuilds every session when a definition file changes
func watchDefinitions(ctx context.Context, configs *config.Manager, maps service.MapService, log *zap.Logger) {
	err := configs.Watch(ctx, func() {
		if err := maps.ReloadDefinitions(ctx); err != nil {
			log.Warn("some sessions failed to reload", zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("definitions watcher stopped", zap.Error(err))
	}
}

// newRouter mounts the API and the /mcp proxy endpoint on one mux
func newRouter(apiServer http.Handler, mcpClient *mcp.Client) *http.ServeMux {
	mainRouter := http.NewServeMux()

	// Mount API server at root
	mainRouter.Handle("/", apiServer)

	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})

	return mainRouter
}

// startHub runs the websocket hub and feeds it every engine event
func startHub(ctx context.Context, svc *services, log *zap.Logger) (*websocket.Hub, func()) {
	hub := websocket.NewHub(log.Named("ws"))
	go hub.Run(ctx)
	return hub, svc.maps.Subscribe(hub.Publish)
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, and an /mcp proxy endpoint.
// If ngrok is enabled (via flag or environment), it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, settings *config.Settings, svc *services, log *zap.Logger) {
	hub, unsubscribe := startHub(ctx, svc, log)
	defer unsubscribe()

	apiServer := api.NewServer(svc.maps, hub, log.Named("api"))

	addr := net.JoinHostPort(settings.Server.Host, settings.Server.Port)
	mcpClient := mcp.NewClient(fmt.Sprintf("http://%s", addr))
	mainRouter := newRouter(apiServer, mcpClient)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info("HTTP server listening",
			zap.String("api", fmt.Sprintf("http://%s/api", addr)),
			zap.String("ws", fmt.Sprintf("ws://%s/ws?session=<session_id>", addr)),
			zap.String("mcp", fmt.Sprintf("http://%s/mcp", addr)))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Check if ngrok should be enabled (from flag or environment)
	ngrokShouldRun := *ngrokEnabled
	if envEnabled := os.Getenv("NGROK_ENABLED"); envEnabled == "true" || envEnabled == "1" {
		ngrokShouldRun = true
	}

	if ngrokShouldRun {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, mainRouter, log.Named("ngrok"))
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	wg.Wait()
	log.Info("server stopped")
}

// runNgrok serves the router through an ngrok tunnel until ctx is done
func runNgrok(ctx context.Context, handler http.Handler, log *zap.Logger) {
	// Get auth token from flag or environment (support both naming conventions)
	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
		if authToken == "" {
			authToken = os.Getenv("NGROK_AUTH_TOKEN")
		}
	}

	if authToken == "" {
		log.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Warn("failed to start ngrok tunnel", zap.Error(err))
		return
	}
	defer func() {
		if err := tun.Close(); err != nil {
			log.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	ngrokURL := tun.URL()
	log.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("api", ngrokURL+"/api"),
		zap.String("mcp", ngrokURL+"/mcp"))

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed {
		log.Warn("ngrok server error", zap.Error(err))
	}
	log.Info("ngrok tunnel closed")
}

// apiAnswers reports whether an API server at baseURL answers /health without a
// server error
func apiAnswers(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It reuses an external API at the configured address when one answers /health;
// otherwise it starts an internal HTTP API on a random loopback port.
func runStdioMCPWithInternalServer(ctx context.Context, settings *config.Settings, svc *services, log *zap.Logger) {
	externalURL := fmt.Sprintf("http://%s", net.JoinHostPort(settings.Server.Host, settings.Server.Port))
	baseURL := externalURL

	testClient := &http.Client{Timeout: 2 * time.Second}
	if apiAnswers(testClient, externalURL) {
		log.Info("external API server found, using it for MCP", zap.String("url", externalURL))
	} else {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.Fatal("failed to get available port", zap.Error(err))
		}

		hub, unsubscribe := startHub(ctx, svc, log)
		defer unsubscribe()

		httpServer := &http.Server{
			Handler: api.NewServer(svc.maps, hub, log.Named("api")),
		}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Warn("internal HTTP server error", zap.Error(err))
			}
		}()
		defer httpServer.Close()

		baseURL = fmt.Sprintf("http://%s", listener.Addr().String())
		log.Info("started internal HTTP server for MCP stdio", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL)
	log.Info("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		log.Fatal("MCP stdio server error", zap.Error(err))
	}
}
