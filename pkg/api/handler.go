package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"voice-relay/pkg/models"
	"voice-relay/pkg/session"
	"voice-relay/pkg/storage"
)

type Handlers struct {
	manager *session.Manager
	store   storage.Store
}

func NewHandlers(manager *session.Manager, store storage.Store) *Handlers {
	return &Handlers{manager: manager, store: store}
}

// Register wires the REST routes onto the router. The websocket
// endpoint is registered separately.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/sessions", h.StartSessionHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.GetSessionHandler).Methods("GET")
	router.HandleFunc("/sessions/{id}", h.EndSessionHandler).Methods("DELETE")
	router.HandleFunc("/sessions/{id}/chunks", h.ProcessChunkHandler).Methods("POST")
	router.HandleFunc("/sessions/{id}/utterances", h.ListUtterancesHandler).Methods("GET")
	router.HandleFunc("/audio/{ref}", h.GetAudioHandler).Methods("GET")
	router.HandleFunc("/healthz", h.HealthHandler).Methods("GET")
	router.HandleFunc("/ws", h.WebSocketHandler)
}

type startSessionRequest struct {
	UserID         string `json:"user_id"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

func (h *Handlers) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := h.manager.StartSession(req.UserID, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

type chunkRequest struct {
	Direction int    `json:"direction"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
}

func (h *Handlers) ProcessChunkHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.manager.ProcessAudioChunk(sessionID, models.Direction(req.Direction), req.Data, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	summary, err := h.manager.EndSession(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	// Live sessions come from the manager, finished ones from storage.
	if snapshot, err := h.manager.Session(sessionID); err == nil {
		writeJSON(w, http.StatusOK, snapshot)
		return
	}
	stored, err := h.store.LoadSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handlers) ListUtterancesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	utterances, err := h.store.ListUtterances(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utterances)
}

func (h *Handlers) GetAudioHandler(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]

	audio, err := h.store.GetAudio(ref)
	if err != nil {
		if errors.Is(err, storage.ErrAudioNotFound) {
			writeJSONError(w, http.StatusNotFound, "audio not found")
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		logrus.WithError(err).Warn("API: failed to write audio response")
	}
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("API: failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps pipeline failure kinds onto HTTP status codes.
// Backpressure rejections are not classified and map to 429.
func writeError(w http.ResponseWriter, err error) {
	switch models.KindOf(err) {
	case models.FailureInvalidRequest:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case models.FailureSessionFault:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	case "":
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
