package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
)

const (
	indexFile    = "index.bin"
	lookupFile   = "lookup.json"
	manifestFile = "manifest.json"

	versionsDir = ".versions"
	stagingDir  = ".staging"

	// keptVersions is how many published versions survive a publish, the
	// serving one included. Older ones may still be read by in-flight retrievals.
	keptVersions = 2
)

type lookupEntry struct {
	SourceID string `json:"source_id"`
	Page     *int   `json:"page,omitempty"`
	Text     string `json:"text"`
}

// FileStore serves per-book indexes from a directory tree:
//
//	<root>/<bookId>                       symlink to the serving version
//	<root>/.versions/<bookId>/<version>/  index.bin, lookup.json, manifest.json
//
// A publish builds the version under .staging, moves it into .versions and then
// swaps the symlink with a single rename, so readers see the old or the new
// index but never a partial one.
type FileStore struct {
	root     string
	embedder embedding.Embedder
	// publishing is serialized per store, retrievals never take the lock.
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates root if needed. embedder embeds queries and must match
// the model used at ingestion.
func NewFileStore(root string, embedder embedding.Embedder) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store: empty root")
	}
	for _, dir := range []string{root, filepath.Join(root, versionsDir), filepath.Join(root, stagingDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("file store: create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root, embedder: embedder, now: time.Now}, nil
}

func (s *FileStore) Retrieve(ctx context.Context, bookID, query string, k int) ([]Passage, error) {
	if ValidateBookID(bookID) != nil {
		return nil, errx.IndexNotFound(bookID)
	}
	var (
		manifest Manifest
		vectors  [][]float32
		entries  []lookupEntry
	)
	// A version pruned between resolve and load means a newer one is serving: resolve again.
	for attempt := 0; ; attempt++ {
		dir, m, err := s.resolve(bookID)
		if err != nil {
			return nil, err
		}
		if m.Chunks == 0 {
			return []Passage{}, nil
		}
		manifest = m
		vectors, entries, err = loadIndex(dir)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) || attempt == 2 {
			return nil, fmt.Errorf("load index for book %q: %w", bookID, err)
		}
	}

	embedded, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(embedded))
	}
	q := toFloat32(embedded[0])
	if len(q) != manifest.Dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index %q has %d", len(q), bookID, manifest.Dimensions)
	}

	hits := topK(q, vectors, k)
	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		e := entries[h.idx]
		passages = append(passages, Passage{SourceID: e.SourceID, Page: e.Page, Text: e.Text, Score: h.score})
	}
	return passages, nil
}

// resolve follows the book's symlink once so every file of one call comes from the same version.
func (s *FileStore) resolve(bookID string) (string, Manifest, error) {
	dir, err := filepath.EvalSymlinks(filepath.Join(s.root, bookID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", Manifest{}, errx.IndexNotFound(bookID)
		}
		return "", Manifest{}, fmt.Errorf("resolve book %q: %w", bookID, err)
	}
	manifest, err := readManifest(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", Manifest{}, errx.IndexNotFound(bookID)
		}
		return "", Manifest{}, err
	}
	if manifest.Status != StatusReady {
		return "", Manifest{}, errx.IndexNotFound(bookID)
	}
	return dir, manifest, nil
}

func (s *FileStore) Manifest(_ context.Context, bookID string) (Manifest, error) {
	if err := ValidateBookID(bookID); err != nil {
		return Manifest{}, err
	}
	_, manifest, err := s.resolve(bookID)
	return manifest, err
}

// ListBooks returns ready books sorted by id. Directories without a ready manifest are skipped.
func (s *FileStore) ListBooks(_ context.Context) ([]Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	books := []Manifest{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		_, manifest, err := s.resolve(name)
		if err != nil {
			if !errors.Is(err, errx.ErrIndexNotFound) {
				logx.Warn().Err(err).Str("book_id", name).Msg("skipping unreadable book index")
			}
			continue
		}
		books = append(books, manifest)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].BookID < books[j].BookID })
	return books, nil
}

func (s *FileStore) Publish(_ context.Context, manifest Manifest, chunks []Chunk) error {
	if err := ValidateBookID(manifest.BookID); err != nil {
		return err
	}
	dims, err := validateChunks(chunks)
	if err != nil {
		return fmt.Errorf("publish %q: %w", manifest.BookID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if manifest.Version == "" {
		manifest.Version = s.now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = s.now().UTC()
	}
	manifest.Status = StatusReady
	manifest.Chunks = len(chunks)
	manifest.Dimensions = dims

	staging := filepath.Join(s.root, stagingDir, manifest.BookID+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("publish %q: create staging: %w", manifest.BookID, err)
	}
	defer os.RemoveAll(staging)

	if err := writeVersion(staging, manifest, chunks, dims); err != nil {
		return fmt.Errorf("publish %q: %w", manifest.BookID, err)
	}

	bookVersions := filepath.Join(s.root, versionsDir, manifest.BookID)
	if err := os.MkdirAll(bookVersions, 0o755); err != nil {
		return fmt.Errorf("publish %q: %w", manifest.BookID, err)
	}
	if err := os.Rename(staging, filepath.Join(bookVersions, manifest.Version)); err != nil {
		return fmt.Errorf("publish %q: move version: %w", manifest.BookID, err)
	}

	target := filepath.Join(versionsDir, manifest.BookID, manifest.Version)
	tmpLink := filepath.Join(s.root, stagingDir, "link-"+uuid.NewString())
	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("publish %q: create link: %w", manifest.BookID, err)
	}
	if err := os.Rename(tmpLink, filepath.Join(s.root, manifest.BookID)); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("publish %q: swap link: %w", manifest.BookID, err)
	}

	logx.Info().
		Str("book_id", manifest.BookID).
		Str("version", manifest.Version).
		Int("chunks", manifest.Chunks).
		Msg("book index published")

	s.prune(bookVersions, manifest.Version)
	return nil
}

// prune removes versions older than the newest keptVersions, never the serving one.
func (s *FileStore) prune(bookVersions, serving string) {
	entries, err := os.ReadDir(bookVersions)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// versions are prefixed with a UTC timestamp, lexical order is age order
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for i, name := range names {
		if i < keptVersions || name == serving {
			continue
		}
		if err := os.RemoveAll(filepath.Join(bookVersions, name)); err != nil {
			logx.Warn().Err(err).Str("version", name).Msg("failed to prune index version")
		}
	}
}

func writeVersion(dir string, manifest Manifest, chunks []Chunk, dims int) error {
	vectors := make([][]float32, len(chunks))
	lookup := make([]lookupEntry, len(chunks))
	for i, c := range chunks {
		vectors[i] = c.Vector
		lookup[i] = lookupEntry{SourceID: c.SourceID, Page: c.Page, Text: c.Text}
	}

	f, err := os.Create(filepath.Join(dir, indexFile))
	if err != nil {
		return err
	}
	if err := writeIndex(f, vectors, dims); err != nil {
		_ = f.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, lookupFile), lookup); err != nil {
		return fmt.Errorf("write lookup: %w", err)
	}
	// manifest last: its presence marks the version complete
	if err := writeJSON(filepath.Join(dir, manifestFile), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func loadIndex(dir string) ([][]float32, []lookupEntry, error) {
	f, err := os.Open(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	vectors, err := readIndex(f)
	if err != nil {
		return nil, nil, err
	}

	b, err := os.ReadFile(filepath.Join(dir, lookupFile))
	if err != nil {
		return nil, nil, err
	}
	var entries []lookupEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, nil, fmt.Errorf("decode lookup: %w", err)
	}
	if len(entries) != len(vectors) {
		return nil, nil, fmt.Errorf("lookup has %d entries for %d vectors", len(entries), len(vectors))
	}
	return vectors, entries, nil
}

var _ Store = (*FileStore)(nil)
