package memstore

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/store"
)

// Handler exposes the store contract over HTTP so store.HTTPStore clients
// (and their tests) can run against the in-memory implementation:
// - GET  /messages?chatId
// - PUT  /messages?chatId
// - POST /fork?chatId
func (s *MemStore) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handleGetMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handlePutMessages).Methods(http.MethodPut)
	r.HandleFunc("/fork", s.handleFork).Methods(http.MethodPost)
	return r
}

func (s *MemStore) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	payload, err := s.GetMessages(r.Context(), chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payload)
}

func (s *MemStore) handlePutMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	var req store.PutMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := s.PutMessages(r.Context(), chatID, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *MemStore) handleFork(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	var req store.ForkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	forked, err := s.Fork(r.Context(), chatID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"chat": forked})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotAccessible):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
