package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/knowledge"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPages(t *testing.T) {
	t.Run("short paragraphs are packed per page", func(t *testing.T) {
		pages := []Page{
			{Number: 1, Text: "First paragraph.\n\nSecond paragraph."},
			{Number: 2, Text: "Third paragraph."},
		}
		chunks := ChunkPages(pages, 1000, 100)
		require.Len(t, chunks, 2)
		assert.Equal(t, 1, chunks[0].Page)
		assert.Equal(t, "First paragraph.\n\nSecond paragraph.", chunks[0].Text)
		assert.Equal(t, 2, chunks[1].Page)
	})

	t.Run("long paragraphs are split with overlap", func(t *testing.T) {
		long := strings.Repeat("abcdefghij", 250) // 2500 runes
		chunks := ChunkPages([]Page{{Number: 7, Text: long}}, 1000, 100)
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.Equal(t, 7, c.Page)
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 1000)
		}
		// the second window starts 900 runes in, overlapping the first by 100
		assert.Equal(t, string([]rune(long)[900:1000]), chunks[1].Text[:100])
	})

	t.Run("multibyte text is never cut mid-rune", func(t *testing.T) {
		text := strings.Repeat("สวัสดี", 400)
		for _, c := range ChunkPages([]Page{{Number: 1, Text: text}}, 1000, 100) {
			assert.True(t, utf8.ValidString(c.Text))
		}
	})

	t.Run("invalid utf8 is dropped", func(t *testing.T) {
		chunks := ChunkPages([]Page{{Number: 1, Text: "ok\xff text\x00"}}, 1000, 100)
		require.Len(t, chunks, 1)
		assert.Equal(t, "ok text", chunks[0].Text)
	})
}

func TestBookIDFromPath(t *testing.T) {
	assert.Equal(t, "Fluent Python", BookIDFromPath("/data/Fluent Python.pdf"))
	assert.Equal(t, "notes", BookIDFromPath("notes.PDF"))
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 1}
	}
	return out, nil
}

type recordingPublisher struct {
	manifest knowledge.Manifest
	chunks   []knowledge.Chunk
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, m knowledge.Manifest, chunks []knowledge.Chunk) error {
	p.manifest = m
	p.chunks = chunks
	return p.err
}

func TestPipelineIngest(t *testing.T) {
	embedder := &countingEmbedder{}
	pub := &recordingPublisher{}
	p := NewPipeline(embedder, "test-embedding", pub, model.IngestionConfig{ChunkSize: 20, ChunkOverlap: 0, EmbedBatch: 2, EmbedParallelism: 2})
	p.extract = func(string) ([]Page, error) {
		return []Page{
			{Number: 1, Text: "alpha paragraph\n\nbeta paragraph"},
			{Number: 2, Text: "gamma paragraph"},
		}, nil
	}

	manifest, err := p.Ingest(context.Background(), "greek", "/books/greek.pdf")
	require.NoError(t, err)

	assert.Equal(t, "greek", manifest.BookID)
	assert.Equal(t, 3, manifest.Chunks)
	assert.Equal(t, 2, manifest.Dimensions)
	assert.Equal(t, "test-embedding", pub.manifest.EmbeddingModel)
	assert.Equal(t, "greek.pdf", pub.manifest.SourceFile)

	require.Len(t, pub.chunks, 3)
	assert.Equal(t, "alpha paragraph", pub.chunks[0].Text)
	assert.Equal(t, 2, *pub.chunks[2].Page)
	assert.Equal(t, float32(len("gamma paragraph")), pub.chunks[2].Vector[0])
	assert.Equal(t, 2, embedder.calls)
}

func TestPipelineDoesNotPublishOnExtractFailure(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPipeline(&countingEmbedder{}, "m", pub, model.IngestionConfig{})
	p.extract = func(string) ([]Page, error) { return nil, errors.New("corrupt pdf") }

	_, err := p.Ingest(context.Background(), "broken", "broken.pdf")
	require.Error(t, err)
	assert.Nil(t, pub.chunks)
}

type fakeIngester struct {
	fail map[string]bool
}

func (f fakeIngester) Ingest(_ context.Context, bookID, _ string) (knowledge.Manifest, error) {
	if f.fail[bookID] {
		return knowledge.Manifest{}, errors.New("no text layer")
	}
	return knowledge.Manifest{BookID: bookID, Chunks: 12, Status: knowledge.StatusReady}, nil
}

func startQueue(t *testing.T, ing Ingester) *JobQueue {
	t.Helper()
	q, err := NewJobQueue(ing, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = q.Close()
	})

	select {
	case <-q.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not start")
	}
	return q
}

func waitForStatus(t *testing.T, q *JobQueue, id string, want JobStatus) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = q.Get(id)
		return ok && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestJobQueue(t *testing.T) {
	q := startQueue(t, fakeIngester{fail: map[string]bool{"scanned": true}})

	ok, err := q.Enqueue("python", "/data/python.pdf")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, ok.Status)
	assert.NotEmpty(t, ok.ID)

	bad, err := q.Enqueue("scanned", "/data/scanned.pdf")
	require.NoError(t, err)

	done := waitForStatus(t, q, ok.ID, JobSucceeded)
	assert.Equal(t, 12, done.Chunks)

	failed := waitForStatus(t, q, bad.ID, JobFailed)
	assert.Contains(t, failed.Error, "no text layer")

	_, found := q.Get("unknown")
	assert.False(t, found)
}

func TestJobQueueRejectsBeforeRunning(t *testing.T) {
	q, err := NewJobQueue(fakeIngester{}, time.Hour, nil)
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Enqueue("python", "/data/python.pdf")
	assert.ErrorIs(t, err, ErrQueueNotRunning)
}

func TestJobQueueEvictsFinishedJobs(t *testing.T) {
	q := startQueue(t, fakeIngester{})

	old, err := q.Enqueue("python", "/data/python.pdf")
	require.NoError(t, err)
	waitForStatus(t, q, old.ID, JobSucceeded)

	later := time.Now().Add(2 * time.Hour)
	q.mu.Lock()
	q.now = func() time.Time { return later }
	// a job still running is never evicted
	q.jobs["running"] = &Job{ID: "running", Status: JobRunning, UpdatedAt: later.Add(-3 * time.Hour)}
	q.mu.Unlock()

	_, found := q.Get(old.ID)
	assert.False(t, found, "expired job is hidden before eviction runs")

	fresh, err := q.Enqueue("sicp", "/data/sicp.pdf")
	require.NoError(t, err)

	q.mu.RLock()
	_, kept := q.jobs[old.ID]
	_, running := q.jobs["running"]
	q.mu.RUnlock()
	assert.False(t, kept)
	assert.True(t, running)

	done := waitForStatus(t, q, fresh.ID, JobSucceeded)
	assert.Equal(t, 12, done.Chunks)
}
