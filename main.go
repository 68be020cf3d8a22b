package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/bookchat-core/server/internal/agent/graph"
	"github.com/bookchat-core/server/internal/agent/graph/nodes"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/agent/repo"
	"github.com/bookchat-core/server/internal/api"
	"github.com/bookchat-core/server/internal/core"
	"github.com/bookchat-core/server/internal/ingestion"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
	pkgredis "github.com/bookchat-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment    core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string           `envconfig:"LOG_LEVEL"`
	Port           string           `envconfig:"PORT" default:"8000"`
	AllowedOrigins []string         `envconfig:"ALLOWED_ORIGINS" default:"*"`
	DataDir        string           `envconfig:"DATA_DIR" default:"./data"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Router       model.RouterModelConfig
	Answer       model.AnswerModelConfig
	Retrieval    model.RetrievalConfig
	WebSearch    model.WebSearchConfig
	History      model.HistoryConfig
	Conversation model.ConversationConfig
	Ingestion    model.IngestionConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}
	logx.Init(logx.LoggerOpts{Environment: envCfg.Environment, Level: envCfg.LogLevel})

	client, err := nodes.NewGenAIClient(ctx, envCfg.APIKey, envCfg.BaseURL)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	embedder := knowledge.NewGeminiEmbedder(client, envCfg.Retrieval.EmbeddingModel)

	store, closeStore, err := knowledge.Open(ctx, envCfg.Retrieval, embedder)
	if err != nil {
		logx.Fatal().Err(err).Str("backend", envCfg.Retrieval.Backend).Msg("Failed to open index store")
	}
	defer closeStore()

	history, closeHistory, err := repo.Open(ctx, envCfg.History, envCfg.Conversation, envCfg.Redis)
	if err != nil {
		logx.Fatal().Err(err).Str("backend", envCfg.History.Backend).Msg("Failed to open history store")
	}
	defer closeHistory()

	webSearch, err := tools.NewSerperSearch(envCfg.WebSearch)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create web search tool")
	}

	// ====================================================
	// Build graph config entirely from env
	runner, err := graph.BuildResponseGraph(ctx, graph.Config{
		Client:       client,
		Router:       envCfg.Router,
		Answer:       envCfg.Answer,
		Retrieval:    envCfg.Retrieval,
		Conversation: envCfg.Conversation,
		HistoryRepo:  history,
		Retriever:    store,
		WebSearch:    webSearch,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build graph")
	}

	pipeline := ingestion.NewPipeline(embedder.ForDocuments(), embedder.Model(), store, envCfg.Ingestion)
	jobRetention, err := time.ParseDuration(envCfg.Ingestion.JobRetention)
	if err != nil {
		logx.Fatal().Err(err).Str("value", envCfg.Ingestion.JobRetention).Msg("Invalid INGEST_JOB_RETENTION")
	}
	jobs, err := ingestion.NewJobQueue(pipeline, jobRetention, logx.NewWatermill(logx.Logger()))
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create ingestion queue")
	}
	go func() {
		if err := jobs.Run(ctx); err != nil {
			logx.Error().Err(err).Msg("Ingestion queue stopped")
		}
	}()
	defer jobs.Close()

	server := &http.Server{
		Addr: ":" + envCfg.Port,
		Handler: api.NewRouter(api.Deps{
			Runner:         runner,
			Catalog:        store,
			Jobs:           jobs,
			DataDir:        envCfg.DataDir,
			AllowedOrigins: envCfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logx.Info().Str("port", envCfg.Port).Str("router_mode", envCfg.Router.Mode).Msg("Book chat server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()

	logx.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Server forced to shutdown")
	}
	logx.Info().Msg("Server exited")
}
