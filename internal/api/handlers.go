package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"botguard/internal/approval"
	"botguard/internal/observability"
)

// CommandRequest is the JSON body for POST /api/command.
type CommandRequest struct {
	Text string `json:"text"`
}

// CommandResponse is the JSON reply for POST /api/command.
type CommandResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes builds the HTTP mux for the supervisor API.
func (s *Supervisor) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("POST /api/approve/{id}", s.handleApprove)
	mux.HandleFunc("POST /api/reject/{id}", s.handleReject)
	mux.Handle("GET /api/events", s.hub)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	return mux
}

// Hub returns the websocket hub, for shutdown.
func (s *Supervisor) Hub() *Hub {
	return s.hub
}

func (s *Supervisor) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.GetState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Supervisor) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reply, err := s.SubmitCommand(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Reply: reply})
}

func (s *Supervisor) handleApprove(w http.ResponseWriter, r *http.Request) {
	a, err := s.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDispositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Supervisor) handleReject(w http.ResponseWriter, r *http.Request) {
	a, err := s.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDispositionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func writeDispositionError(w http.ResponseWriter, err error) {
	if errors.Is(err, approval.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
