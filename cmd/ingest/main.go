// Command ingest builds book indexes from PDFs without going through the HTTP server.
//
//	ingest --file ./data/fluent-python.pdf
//	ingest --dir ./data
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/bookchat-core/server/internal/agent/graph/nodes"
	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/core"
	"github.com/bookchat-core/server/internal/ingestion"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
)

type config struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`
	DataDir     string           `envconfig:"DATA_DIR" default:"./data"`

	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	Retrieval model.RetrievalConfig
	Ingestion model.IngestionConfig
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Build book indexes from PDF files",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			dir, err := cmd.Flags().GetString("dir")
			if err != nil {
				return err
			}
			return run(cmd.Context(), file, dir)
		},
	}
	cmd.Flags().String("file", "", "a single PDF to ingest")
	cmd.Flags().String("dir", "", "ingest every PDF in this directory (defaults to DATA_DIR)")
	cmd.MarkFlagsMutuallyExclusive("file", "dir")
	return cmd
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, file, dir string) error {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

	paths, err := inputs(file, dir, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("list PDFs: %w", err)
	}
	if len(paths) == 0 {
		logx.Warn().Msg("No PDF files to ingest")
		return nil
	}

	client, err := nodes.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return err
	}
	embedder := knowledge.NewGeminiEmbedder(client, cfg.Retrieval.EmbeddingModel)
	store, closeStore, err := knowledge.Open(ctx, cfg.Retrieval, embedder)
	if err != nil {
		return fmt.Errorf("open index store: %w", err)
	}
	defer closeStore()

	pipeline := ingestion.NewPipeline(embedder.ForDocuments(), embedder.Model(), store, cfg.Ingestion)

	failed := 0
	for _, path := range paths {
		bookID := ingestion.BookIDFromPath(path)
		manifest, err := pipeline.Ingest(ctx, bookID, path)
		if err != nil {
			failed++
			logx.Error().Err(err).Str("book_id", bookID).Str("path", path).Msg("Ingestion failed")
			continue
		}
		logx.Info().Str("book_id", bookID).Int("chunks", manifest.Chunks).Str("version", manifest.Version).Msg("Book ingested")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d books failed to ingest", failed, len(paths))
	}
	return nil
}

func inputs(file, dir, dataDir string) ([]string, error) {
	if file != "" {
		return []string{file}, nil
	}
	if dir == "" {
		dir = dataDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
