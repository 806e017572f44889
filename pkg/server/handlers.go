package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// messageRequest is the body of POST /v1/messages.
type messageRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// messageEvent carries one chunk of final answer text.
type messageEvent struct {
	Text string `json:"text"`
}

// runSummary is the payload of the terminal done event.
type runSummary struct {
	RequestID  string   `json:"request_id"`
	SessionID  string   `json:"session_id,omitempty"`
	Iterations int      `json:"iterations"`
	Targets    []string `json:"targets,omitempty"`
	Entries    int      `json:"entries"`
	Complete   bool     `json:"complete"`
}

// handleMessages runs one request through the supervisor and streams
// the result as SSE. Progress notifications arrive as status events,
// final answer text as message events, and a done event closes the
// stream with the run's metadata.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sreq := supervisor.Request{
		Query:     req.Query,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
	}
	if s.sessions != nil && sreq.SessionID != "" {
		history, err := s.sessions.GetHistory(r.Context(), sreq.SessionID, 0)
		if err != nil {
			// A request without history is degraded, not broken.
			slog.Warn("Failed to load session history",
				"session_id", sreq.SessionID,
				"error", err)
		} else {
			sreq.History = history
		}
	}

	exec, err := s.executor.Execute(r.Context(), sreq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start run: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks := exec.Chunks()
	events := exec.Events()
	for chunks != nil || events != nil {
		select {
		case text, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			sendSSEEvent(w, flusher, "message", messageEvent{Text: text})
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			sendSSEEvent(w, flusher, "status", event)
		case <-r.Context().Done():
			// Client gone; the run was started with the request context
			// and winds down on its own.
			return
		}
	}

	state := exec.State()
	s.recordRun(state)

	targets := make([]string, 0, len(state.Entries))
	for _, entry := range state.Entries {
		targets = append(targets, entry.Origin.String())
	}
	sendSSEEvent(w, flusher, "done", runSummary{
		RequestID:  state.Request.RequestID,
		SessionID:  state.Request.SessionID,
		Iterations: state.Iteration,
		Targets:    targets,
		Entries:    len(state.Entries),
		Complete:   state.Complete,
	})
}

// recordRun persists the finished exchange. Persistence is best-effort;
// the answer already streamed, so failures are logged and swallowed.
func (s *Server) recordRun(state *supervisor.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := state.Request
	if s.sessions != nil && req.SessionID != "" && state.Complete {
		userTurn := supervisor.Turn{Role: "user", Content: req.Query}
		if err := s.sessions.AppendTurn(ctx, req.SessionID, userTurn); err != nil {
			slog.Warn("Failed to append user turn",
				"session_id", req.SessionID,
				"error", err)
		} else {
			assistantTurn := supervisor.Turn{Role: "assistant", Content: state.FinalResponse}
			if err := s.sessions.AppendTurn(ctx, req.SessionID, assistantTurn); err != nil {
				slog.Warn("Failed to append assistant turn",
					"session_id", req.SessionID,
					"error", err)
			}
		}
	}

	if s.archive != nil {
		if err := s.archive.Record(ctx, state); err != nil {
			slog.Warn("Failed to archive run",
				"request_id", req.RequestID,
				"error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	run, err := s.archive.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			respondError(w, http.StatusNotFound, "run not found: "+requestID)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load run: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	runs, err := s.archive.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrEmptySessionID) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete session: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// sendSSEEvent writes one event in SSE framing and flushes it to the
// client.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
