package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type historyMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type historyResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []historyMessage `json:"messages"`
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	records, err := h.deps.Runner.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := historyResponse{SessionID: sessionID, Messages: make([]historyMessage, 0, len(records))}
	for _, rec := range records {
		resp.Messages = append(resp.Messages, historyMessage{
			Role:      string(rec.Role),
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
