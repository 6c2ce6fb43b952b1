// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
)

// Calculator runs synchronous calculations.
type Calculator interface {
	CalculateForUser(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error)
	CalculateForAllUsers(ctx context.Context, day model.Date) (model.BatchResult, error)
}

// Recalculator queues asynchronous recalculations.
type Recalculator interface {
	RequestRecalculation(ctx context.Context, userID string, day model.Date) (model.RecalcStatus, model.Date, error)
}

// ScoreReader reads persisted scores.
type ScoreReader interface {
	GetScore(ctx context.Context, userID string, day model.Date) (model.DailyEngagementScore, error)
}

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Calculator
	Recalculator
	ScoreReader
	Pinger
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	calculateHandler *CalculateHandler
	recalcHandler    *RecalculateHandler
	scoresHandler    *ScoresHandler
	logger           logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(statsProvider)
	s.calculateHandler = NewCalculateHandler(deps, s.logger)
	s.recalcHandler = NewRecalculateHandler(deps, s.logger)
	s.scoresHandler = NewScoresHandler(deps)
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, NewKind("api.route", ErrNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})

	r.Get("/metrics", s.healthHandler.HandleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(Metrics)
		r.Get("/healthz", s.healthHandler.HandleHealth)
		r.Get("/stats", s.statsHandler.HandleStats)

		r.Route("/v1/momentum", func(r chi.Router) {
			r.Post("/calculate", s.calculateHandler.HandleCalculate)
			r.Post("/recalculate", s.recalcHandler.HandleRecalculate)
			r.Get("/users/{userID}/scores/{date}", s.scoresHandler.HandleGetScore)
		})
	})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure writes err with the status its kind maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

// parseTargetDate reads an optional ISO-8601 date. Empty means today,
// which the service resolves.
func parseTargetDate(op, s string) (model.Date, error) {
	if s == "" {
		return model.Date{}, nil
	}
	day, err := model.ParseDate(s)
	if err != nil {
		return model.Date{}, WrapKind(op, ErrBadRequest, err)
	}
	return day, nil
}
