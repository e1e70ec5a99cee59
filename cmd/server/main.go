// Polly - real-time tutoring conversation server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/polly/internal/agent"
	"github.com/ashureev/polly/internal/api"
	"github.com/ashureev/polly/internal/chat"
	"github.com/ashureev/polly/internal/config"
	"github.com/ashureev/polly/internal/convlog"
	"github.com/ashureev/polly/internal/dialogue"
	"github.com/ashureev/polly/internal/middleware"
	"github.com/ashureev/polly/internal/room"
	"github.com/ashureev/polly/internal/scenario"
	"github.com/ashureev/polly/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.StoreDriver, "provider", cfg.Model.Provider)

	// Initialize dependencies.
	ts, err := store.Open(cfg.StoreDriver, cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize turn store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ts.Close(); closeErr != nil {
			slog.Error("Failed to close turn store", "error", closeErr)
		}
	}()

	if err := ts.Ping(context.Background()); err != nil {
		slog.Error("Turn store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Turn store connected")

	catalog, count, err := loadCatalog(context.Background(), cfg.ScenarioPath)
	if err != nil {
		slog.Error("Failed to load scenarios", "error", err, "path", cfg.ScenarioPath)
		os.Exit(1)
	}
	slog.Info("Scenarios loaded", "count", count)

	client, err := newModelClient(cfg.Model, logger)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}
	model := agent.NewService(client, cfg.Model.Provider, logger)
	defer model.Close()

	conversationLogger, err := convlog.NewLogger(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	engine := dialogue.NewEngine(ts, model, dialogue.Config{
		Window:      cfg.Session.ContextWindow,
		CallTimeout: cfg.Model.CallTimeout,
	})
	rooms := room.NewRegistry()

	// Initialize handlers.
	apiHandler := api.NewHandler(ts, catalog, rooms, model)
	chatHandler := chat.NewHandler(catalog, engine, rooms, conversationLogger, chat.Config{
		QueueDepth:    cfg.Session.QueueDepth,
		PingInterval:  cfg.Session.PingInterval,
		WriteTimeout:  cfg.Session.WriteTimeout,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoints.
	chatHandler.Routes(r)

	// WebSocket connections are hijacked, so WriteTimeout does not apply to them.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked chat sockets are invisible to Shutdown; drain them before the store closes.
	if err := chatHandler.Close(shutdownCtx); err != nil {
		slog.Error("Chat sessions did not finish before shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

func newModelClient(cfg config.ModelConfig, logger *slog.Logger) (agent.Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return agent.NewOpenAIClient(agent.OpenAIClientConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger), nil
	case config.ProviderGRPC:
		slog.Info("Connecting to model sidecar via gRPC", "address", cfg.GRPCAddr)
		client, err := agent.NewGrpcClient(agent.GrpcClientConfig{Address: cfg.GRPCAddr}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// loadCatalog reads the scenario file and reports how many scenarios it holds.
func loadCatalog(ctx context.Context, path string) (*scenario.MemoryCatalog, int, error) {
	catalog, err := scenario.NewFileCatalog(path)
	if err != nil {
		return nil, 0, err
	}
	scenarios, err := catalog.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list scenarios: %w", err)
	}
	return catalog, len(scenarios), nil
}
