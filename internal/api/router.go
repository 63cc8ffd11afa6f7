// Package api exposes the job handler over HTTP for synchronous runs and local testing.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxRequestBytes = 1 << 20

// JobHandler runs one job and always produces a result.
type JobHandler interface {
	Handle(ctx context.Context, input core.JobInput) core.Result
}

// Server serves POST /runsync and GET /health.
type Server struct {
	handler    JobHandler
	jobTimeout time.Duration
	log        *logger.Logger
}

// NewServer creates a Server.
func NewServer(handler JobHandler, jobTimeout time.Duration, log *logger.Logger) *Server {
	return &Server{handler: handler, jobTimeout: jobTimeout, log: log}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Post("/runsync", s.runSync)

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	var request core.JobRequest

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&request)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, core.JobReply{
			Status: core.StatusFailed,
			Output: core.ErrorResult(fmt.Sprintf("Invalid job request: %v", err)),
		})

		return
	}

	if request.ID == "" {
		request.ID = uuid.NewString()
	}

	ctx := r.Context()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	s.log.Info("runsync job %s (request %s)", request.ID, middleware.GetReqID(r.Context()))

	result := s.handler.Handle(ctx, request.Input)

	s.writeJSON(w, http.StatusOK, core.JobReply{
		ID:     request.ID,
		Header: request.Header,
		Status: result.Status(),
		Output: result,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Warn("Failed to write %d response: %v", status, err)
	}
}
