package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	sdkopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/api/handlers"
	"github.com/opalhq/opal/internal/chat"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/connector"
	"github.com/opalhq/opal/internal/domain"
	"github.com/opalhq/opal/internal/index"
	"github.com/opalhq/opal/internal/jobs"
	"github.com/opalhq/opal/internal/openai"
	"github.com/opalhq/opal/internal/repository"
	"github.com/opalhq/opal/internal/server"
	"github.com/opalhq/opal/internal/service"
	"github.com/opalhq/opal/internal/storage"
	"github.com/opalhq/opal/internal/telemetry"
	"github.com/opalhq/opal/internal/tools"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the opal API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	groupRepo := repository.NewGroupRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	var archive service.ArchiverInterface
	if cfg.HasS3() {
		archiveCfg := storage.ArchiveConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Archive, err := storage.NewArchive(ctx, archiveCfg)
		if err != nil {
			return fmt.Errorf("failed to create snapshot archive: %w", err)
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure snapshot bucket: %w", err)
		}
		log.Printf("snapshot bucket '%s' ready", cfg.S3Bucket)
		archive = s3Archive
	}

	secrets := &EnvSecretResolver{}
	gate := &OpenCreditGate{}

	registry := connector.NewRegistry(
		connector.NewWebConnector(gate),
		connector.NewWikiConnector(gate, secrets),
		connector.NewIssuesConnector(gate, secrets),
		connector.NewVideoConnector(gate, secrets),
	)

	var engine *index.Engine
	var chatClient agent.ChatClient
	var ingestWorker *jobs.Worker
	if cfg.HasOpenAI() {
		client := openai.NewClientWithConfig(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: sdkopenai.EmbeddingModel(cfg.EmbeddingModel),
			ChatModel:      cfg.ChatModel,
		})
		engine = index.NewEngine(client, chunkRepo)
		chatClient = &ChatClientAdapter{client: client}

		ingestionSvc := service.NewIngestionService(
			registry, groupRepo, documentRepo, engine, archive, cfg.IngestParallelism,
		)
		ingestProcessor := jobs.NewIngestWorker(groupRepo, ingestionSvc)
		ingestWorker = jobs.NewWorker(ingestProcessor, cfg.IngestPollInterval)
		go ingestWorker.Start(ctx)
		log.Println("ingest worker started")
	} else {
		chatClient = &DisabledChatClient{}
		log.Println("OPENAI_API_KEY not set: ingestion, search, and chat are disabled")
	}

	actions, err := loadActions(cfg.ActionsFile)
	if err != nil {
		return fmt.Errorf("failed to load action definitions: %w", err)
	}
	if len(actions) > 0 {
		log.Printf("loaded %d action definition(s)", len(actions))
	}

	groupHandler := handlers.NewGroupHandler(service.NewGroupService(groupRepo))

	var searchHandler *handlers.SearchHandler
	if engine != nil {
		searchHandler = handlers.NewSearchHandler(service.NewSearchService(engine, cfg.SearchMinScore))
	} else {
		searchHandler = handlers.NewSearchHandler(&DisabledSearchService{})
	}

	// Avoid a typed-nil Searcher when no embedding provider is configured.
	var searcher tools.Searcher
	if engine != nil {
		searcher = engine
	}

	chatHandler := handlers.NewChatHandler(handlers.ChatHandlerConfig{
		Client:   chatClient,
		Engine:   searcher,
		Registry: chat.NewRegistry(),
		Audit:    auditRepo,
		Secrets:  secrets,
		Identity: &NoIdentityProvider{},
		Actions:  actions,
		MinScore: cfg.SearchMinScore,
	})

	router := server.NewRouter(server.RouterConfig{
		GroupHandler:  groupHandler,
		SearchHandler: searchHandler,
		ChatHandler:   chatHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if ingestWorker != nil {
		ingestWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// ChatClientAdapter narrows the concrete OpenAI stream to the interface the
// agent loop consumes.
type ChatClientAdapter struct {
	client *openai.Client
}

func (a *ChatClientAdapter) StreamChatCompletion(
	ctx context.Context,
	messages []sdkopenai.ChatCompletionMessage,
	tools []sdkopenai.Tool,
) (agent.ChatStream, error) {
	return a.client.StreamChatCompletion(ctx, messages, tools)
}

// DisabledChatClient refuses every turn when no model provider is configured.
type DisabledChatClient struct{}

func (c *DisabledChatClient) StreamChatCompletion(
	ctx context.Context,
	messages []sdkopenai.ChatCompletionMessage,
	tools []sdkopenai.Tool,
) (agent.ChatStream, error) {
	return nil, fmt.Errorf("chat not configured: OPENAI_API_KEY required")
}

type DisabledSearchService struct{}

func (s *DisabledSearchService) Search(ctx context.Context, scrapeID, query string) ([]domain.SearchResult, error) {
	return nil, fmt.Errorf("search not configured: OPENAI_API_KEY required")
}

// EnvSecretResolver maps a secret reference to an OPAL_SECRET_* environment
// variable. Non-alphanumeric characters in the name become underscores.
type EnvSecretResolver struct{}

func (r *EnvSecretResolver) Resolve(ctx context.Context, name string) (string, error) {
	key := "OPAL_SECRET_" + sanitizeSecretName(name)
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not configured (%s)", name, key)
	}
	return value, nil
}

func sanitizeSecretName(name string) string {
	upper := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
}

// OpenCreditGate allows every run. Budget enforcement lives with the billing
// system; a standalone daemon has no meter to consult.
type OpenCreditGate struct{}

func (g *OpenCreditGate) HasBudget(ctx context.Context, scrapeID string) bool {
	return true
}

// NoIdentityProvider reports every session as unverified, so actions that
// require identity refuse to run.
type NoIdentityProvider struct{}

func (p *NoIdentityProvider) VerifiedEmail(sessionID string) (string, bool) {
	return "", false
}

func loadActions(path string) ([]domain.ActionDefinition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var actions []domain.ActionDefinition
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("invalid actions file %s: %w", path, err)
	}
	return actions, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
