package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/forgehq/forge/internal/models"
)

// chatRequest/chatResponse are the web UI's wire shapes: one request
// per turn, each handed off to the single "web-primary" agent created
// at startup, so every request shares that agent and its history.
type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// runWeb serves the web UI's chat endpoint on port, grounded on the
// teacher's handlers_serve.go (http.Server + graceful shutdown on
// context cancellation).
func runWeb(ctx context.Context, st *stack, port int) error {
	agentID, err := st.orchestrator.CreateAgent(ctx, "web-primary", models.AgentConfig{})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		taskID, err := st.orchestrator.HandOff(agentID, req.Message, nil)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, chatResponse{Error: err.Error()})
			return
		}
		results := st.orchestrator.WaitFor(r.Context(), []string{taskID}, 5*time.Minute)
		if len(results) != 1 || results[0] == nil {
			writeJSON(w, http.StatusGatewayTimeout, chatResponse{Error: "timed out waiting for a response"})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Text: results[0].Text, Error: results[0].Error, Success: results[0].Success})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	st.logger.Info(ctx, "web UI listening", "port", port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, body chatResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
