package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/bookchat-core/server/pkg/metrics"
	"github.com/google/uuid"
)

const ingestTopic = "books.ingest"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is the handle a client polls after an upload.
type Job struct {
	ID        string    `json:"job_id"`
	BookID    string    `json:"book_id"`
	Path      string    `json:"-"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ingester is the work a job performs, implemented by Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, bookID, path string) (knowledge.Manifest, error)
}

type jobPayload struct {
	JobID  string `json:"job_id"`
	BookID string `json:"book_id"`
	Path   string `json:"path"`
}

var ErrQueueNotRunning = errors.New("ingestion queue is not running")

// JobQueue runs ingestion jobs off the request path. Jobs are published on an
// in-process watermill channel and consumed one at a time by a router handler.
type JobQueue struct {
	pubSub   *gochannel.GoChannel
	router   *message.Router
	ingester Ingester

	mu   sync.RWMutex
	jobs map[string]*Job
	// finished jobs are evicted once idle for longer than retention, 0 disables eviction
	retention time.Duration
	now       func() time.Time
}

func NewJobQueue(ingester Ingester, retention time.Duration, logger watermill.LoggerAdapter) (*JobQueue, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("create ingestion router: %w", err)
	}

	q := &JobQueue{
		pubSub:   pubSub,
		router:   router,
		ingester:  ingester,
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
	}
	router.AddNoPublisherHandler("ingest_book", ingestTopic, pubSub, q.handle)
	return q, nil
}

// Run blocks until ctx is cancelled or Close is called.
func (q *JobQueue) Run(ctx context.Context) error {
	return q.router.Run(ctx)
}

// Running is closed once the consumer is subscribed and Enqueue may be used.
func (q *JobQueue) Running() chan struct{} {
	return q.router.Running()
}

func (q *JobQueue) Close() error {
	if err := q.router.Close(); err != nil {
		logx.Error().Err(err).Msg("failed to close ingestion router")
	}
	return q.pubSub.Close()
}

// Enqueue records a queued job and publishes it. It returns immediately.
func (q *JobQueue) Enqueue(bookID, path string) (Job, error) {
	select {
	case <-q.router.Running():
	default:
		return Job{}, ErrQueueNotRunning
	}

	q.mu.RLock()
	now := q.now().UTC()
	q.mu.RUnlock()
	job := &Job{ID: uuid.NewString(), BookID: bookID, Path: path, Status: JobQueued, CreatedAt: now, UpdatedAt: now}

	payload, err := json.Marshal(jobPayload{JobID: job.ID, BookID: bookID, Path: path})
	if err != nil {
		return Job{}, err
	}

	q.mu.Lock()
	q.evictLocked(now)
	q.jobs[job.ID] = job
	q.mu.Unlock()

	if err := q.pubSub.Publish(ingestTopic, message.NewMessage(job.ID, payload)); err != nil {
		q.update(job.ID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
		})
		return Job{}, fmt.Errorf("publish ingestion job: %w", err)
	}

	logx.Info().Str("job_id", job.ID).Str("book_id", bookID).Msg("ingestion job queued")
	return *job, nil
}

// Get returns a copy of the job.
func (q *JobQueue) Get(jobID string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[jobID]
	if !ok || q.expired(j, q.now()) {
		return Job{}, false
	}
	return *j, true
}

func (q *JobQueue) expired(j *Job, now time.Time) bool {
	if q.retention <= 0 {
		return false
	}
	finished := j.Status == JobSucceeded || j.Status == JobFailed
	return finished && now.Sub(j.UpdatedAt) > q.retention
}

// evictLocked drops expired jobs. q.mu must be held for writing.
func (q *JobQueue) evictLocked(now time.Time) {
	evicted := 0
	for id, j := range q.jobs {
		if q.expired(j, now) {
			delete(q.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		logx.Debug().Int("evicted", evicted).Msg("evicted finished ingestion jobs")
	}
}

// handle always acks: a failed ingestion is recorded on the job, not redelivered.
func (q *JobQueue) handle(msg *message.Message) error {
	var p jobPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		logx.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed ingestion message")
		return nil
	}

	q.update(p.JobID, func(j *Job) { j.Status = JobRunning })
	logx.Info().Str("job_id", p.JobID).Str("book_id", p.BookID).Msg("ingestion job started")

	manifest, err := q.ingester.Ingest(msg.Context(), p.BookID, p.Path)
	if err != nil {
		logx.Error().Err(err).Str("job_id", p.JobID).Str("book_id", p.BookID).Msg("ingestion job failed")
		metrics.IngestionJobsTotal.WithLabelValues(string(JobFailed)).Inc()
		q.update(p.JobID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
		})
		return nil
	}

	metrics.IngestionJobsTotal.WithLabelValues(string(JobSucceeded)).Inc()
	q.update(p.JobID, func(j *Job) {
		j.Status = JobSucceeded
		j.Chunks = manifest.Chunks
	})
	return nil
}

func (q *JobQueue) update(jobID string, fn func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return
	}
	fn(j)
	j.UpdatedAt = q.now().UTC()
}
