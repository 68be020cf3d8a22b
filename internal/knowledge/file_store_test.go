package knowledge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	errx "github.com/bookchat-core/server/internal/core/error"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"decorator", "generator", "class", "exception"}

// keywordEmbedder embeds text as keyword counts over a tiny vocabulary.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, len(vocabulary))
		lower := strings.ToLower(t)
		for j, w := range vocabulary {
			vec[j] = float64(strings.Count(lower, w))
		}
		out[i] = vec
	}
	return out, nil
}

func embedChunks(t *testing.T, texts ...string) []Chunk {
	t.Helper()
	vecs, err := keywordEmbedder{}.EmbedStrings(context.Background(), texts)
	require.NoError(t, err)
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		page := i + 1
		chunks[i] = Chunk{SourceID: "book.pdf", Page: &page, Text: text, Vector: toFloat32(vecs[i])}
	}
	return chunks
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), keywordEmbedder{})
	require.NoError(t, err)
	return store
}

func TestFileStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Publish(ctx, Manifest{BookID: "python"}, embedChunks(t,
		"A decorator wraps a function. decorator syntax uses @.",
		"A generator yields values lazily.",
		"A class bundles data and behaviour.",
	)))

	passages, err := store.Retrieve(ctx, "python", "what is a decorator", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Contains(t, passages[0].Text, "decorator")
	require.NotNil(t, passages[0].Page)
	assert.Equal(t, 1, *passages[0].Page)
	assert.Equal(t, "book.pdf", passages[0].SourceID)
}

func TestFileStoreIndexNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Retrieve(ctx, "missing", "anything", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrIndexNotFound)

	_, err = store.Retrieve(ctx, "../etc", "anything", 4)
	assert.ErrorIs(t, err, errx.ErrIndexNotFound)
}

func TestFileStoreEmptyBookReturnsNoPassages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Publish(ctx, Manifest{BookID: "blank"}, nil))

	passages, err := store.Retrieve(ctx, "blank", "decorator", 4)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestFileStoreListSkipsPartialIngestion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Publish(ctx, Manifest{BookID: "complete"}, embedChunks(t, "a class")))

	// a directory with index files but no manifest is an interrupted ingestion
	partial := filepath.Join(store.root, "partial")
	require.NoError(t, os.MkdirAll(partial, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partial, indexFile), []byte("junk"), 0o644))

	books, err := store.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "complete", books[0].BookID)
	assert.Equal(t, StatusReady, books[0].Status)
	assert.Equal(t, 1, books[0].Chunks)

	_, err = store.Retrieve(ctx, "partial", "class", 4)
	assert.ErrorIs(t, err, errx.ErrIndexNotFound)
}

func TestFileStoreRepublishSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Publish(ctx, Manifest{BookID: "book"}, embedChunks(t, "old decorator text")))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			passages, err := store.Retrieve(ctx, "book", "decorator", 1)
			if err != nil || len(passages) != 1 {
				select {
				case errs <- err:
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Publish(ctx, Manifest{BookID: "book"}, embedChunks(t, "new decorator text", "a generator")))
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		t.Fatalf("reader observed a broken index: %v", err)
	default:
	}

	m, err := store.Manifest(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Chunks)

	versions, err := os.ReadDir(filepath.Join(store.root, versionsDir, "book"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(versions), keptVersions)
}

func TestFileStorePublishRejectsMixedDimensions(t *testing.T) {
	store := newTestStore(t)
	chunks := []Chunk{
		{SourceID: "a", Text: "x", Vector: []float32{1, 0}},
		{SourceID: "a", Text: "y", Vector: []float32{1, 0, 0}},
	}
	err := store.Publish(context.Background(), Manifest{BookID: "bad"}, chunks)
	require.Error(t, err)

	_, err = store.Manifest(context.Background(), "bad")
	assert.ErrorIs(t, err, errx.ErrIndexNotFound)
}

func TestIndexEncodingRoundTrip(t *testing.T) {
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}}
	var buf bytes.Buffer
	require.NoError(t, writeIndex(&buf, vectors, 3))

	got, err := readIndex(&buf)
	require.NoError(t, err)
	assert.Equal(t, vectors, got)

	_, err = readIndex(strings.NewReader("nope"))
	assert.Error(t, err)
}

func TestValidateBookID(t *testing.T) {
	for _, id := range []string{"", ".hidden", "a/b", `a\b`, strings.Repeat("x", 201)} {
		assert.ErrorIs(t, ValidateBookID(id), errx.ErrInvalidInput, id)
	}
	assert.NoError(t, ValidateBookID("Fluent Python 2nd ed"))
}
