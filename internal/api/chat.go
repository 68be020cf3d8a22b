package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
)

type chatRequest struct {
	Question  string `json:"question"`
	BookID    string `json:"book_id"`
	SessionID string `json:"session_id,omitempty"`
}

// chatEvent is one server-sent event. The stream always ends with done=true.
type chatEvent struct {
	Token     string  `json:"token,omitempty"`
	Error     string  `json:"error,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	Done      bool    `json:"done"`
}

func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errx.InvalidInput("request body must be JSON with question and book_id"))
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.BookID) == "" {
		writeError(w, errx.InvalidInput("question and book_id are required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	reply, err := h.deps.Runner.Invoke(r.Context(), model.TurnInput{
		SessionID: req.SessionID,
		BookID:    req.BookID,
		Question:  req.Question,
	})
	if err != nil {
		writeEvent(w, chatEvent{Error: errx.MessageOf(err), Done: true})
		flusher.Flush()
		return
	}

	writeEvent(w, chatEvent{Token: reply.Answer, SessionID: reply.SessionID, CostUSD: reply.CostUSD, Done: true})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, ev chatEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		logx.Error().Err(err).Msg("failed to encode chat event")
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		logx.Debug().Err(err).Msg("client went away before the event was written")
	}
}
