package knowledge

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/bookchat-core/server/internal/agent/model"
)

const (
	BackendFile     = "file"
	BackendPGVector = "pgvector"
)

// Open returns the index store selected by cfg.Backend and a function releasing it.
func Open(ctx context.Context, cfg model.RetrievalConfig, embedder embedding.Embedder) (Store, func(), error) {
	switch cfg.Backend {
	case BackendFile, "":
		s, err := NewFileStore(cfg.StorePath, embedder)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case BackendPGVector:
		s, err := NewPGVectorStore(ctx, cfg.DatabaseURL, embedder)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
