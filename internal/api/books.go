package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	errx "github.com/bookchat-core/server/internal/core/error"
	"github.com/bookchat-core/server/internal/ingestion"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
)

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errx.InvalidInput("a multipart 'file' field is required"))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		writeError(w, errx.InvalidInput("Invalid file type. Only PDF files are accepted."))
		return
	}
	bookID := ingestion.BookIDFromPath(name)
	if err := knowledge.ValidateBookID(bookID); err != nil {
		writeError(w, err)
		return
	}

	path, err := h.save(file, name)
	if err != nil {
		writeError(w, fmt.Errorf("save upload: %w", err))
		return
	}

	job, err := h.deps.Jobs.Enqueue(bookID, path)
	if err != nil {
		if errors.Is(err, ingestion.ErrQueueNotRunning) {
			writeError(w, errx.New(err, http.StatusServiceUnavailable, "ingestion is not available, please retry shortly"))
			return
		}
		writeError(w, err)
		return
	}

	logx.Info().Str("book_id", bookID).Str("job_id", job.ID).Msg("book uploaded")
	writeJSON(w, http.StatusAccepted, job)
}

// save writes the upload next to the other books, replacing a previous copy atomically.
func (h *handler) save(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.deps.DataDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(h.deps.DataDir, name)
	tmp := filepath.Join(h.deps.DataDir, ".upload-"+uuid.NewString())

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dst, nil
}

func (h *handler) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	job, ok := h.deps.Jobs.Get(jobID)
	if !ok {
		writeError(w, errx.New(fmt.Errorf("job %q not found", jobID), http.StatusNotFound, "job not found"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type booksResponse struct {
	Books []knowledge.Manifest `json:"books"`
}

func (h *handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.deps.Catalog.ListBooks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booksResponse{Books: books})
}
