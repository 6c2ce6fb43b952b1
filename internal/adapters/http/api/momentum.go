package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/okian/momentum/internal/domain/model"
	"github.com/okian/momentum/pkg/logger"
)

// calculateRequest mirrors the OpenAPI schema for POST /v1/momentum/calculate.
type calculateRequest struct {
	UserID            string `json:"user_id"`
	TargetDate        string `json:"target_date"`
	CalculateAllUsers bool   `json:"calculate_all_users"`
}

func (c calculateRequest) validate() error {
	userID := strings.TrimSpace(c.UserID)
	switch {
	case c.CalculateAllUsers && userID != "":
		return errors.New("user_id and calculate_all_users are mutually exclusive")
	case !c.CalculateAllUsers && userID == "":
		return errors.New("missing user_id or calculate_all_users")
	}
	return nil
}

type userScoreResponse struct {
	Success    bool                       `json:"success"`
	UserID     string                     `json:"user_id"`
	TargetDate model.Date                 `json:"target_date"`
	Score      model.DailyEngagementScore `json:"score"`
}

type batchResponse struct {
	Success    bool              `json:"success"`
	TargetDate model.Date        `json:"target_date"`
	Results    model.BatchResult `json:"results"`
}

type recalculateRequest struct {
	UserID     string `json:"user_id"`
	TargetDate string `json:"target_date"`
}

type ackResponse struct {
	Status     model.RecalcStatus `json:"status"`
	Duplicate  bool               `json:"duplicate"`
	UserID     string             `json:"user_id"`
	TargetDate model.Date         `json:"target_date"`
}

// CalculateHandler handles synchronous calculations.
type CalculateHandler struct {
	deps   Calculator
	logger logger.Logger
}

// NewCalculateHandler creates a new calculate handler.
func NewCalculateHandler(deps Calculator, l logger.Logger) *CalculateHandler {
	return &CalculateHandler{deps: deps, logger: l}
}

// HandleCalculate handles POST /v1/momentum/calculate.
func (h *CalculateHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	const op = "api.calculate"
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	day, err := parseTargetDate(op, req.TargetDate)
	if err != nil {
		writeFailure(w, err)
		return
	}

	ctx := r.Context()
	if req.CalculateAllUsers {
		res, err := h.deps.CalculateForAllUsers(ctx, day)
		if err != nil {
			h.logger.Error(ctx, "batch calculation failed", logger.Error(err))
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{Success: true, TargetDate: res.TargetDate, Results: res})
		return
	}

	score, err := h.deps.CalculateForUser(ctx, strings.TrimSpace(req.UserID), day)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userScoreResponse{
		Success:    true,
		UserID:     score.UserID,
		TargetDate: score.ScoreDate,
		Score:      score,
	})
}

// RecalculateHandler queues asynchronous recalculations.
type RecalculateHandler struct {
	deps   Recalculator
	logger logger.Logger
}

// NewRecalculateHandler creates a new recalculate handler.
func NewRecalculateHandler(deps Recalculator, l logger.Logger) *RecalculateHandler {
	return &RecalculateHandler{deps: deps, logger: l}
}

// HandleRecalculate handles POST /v1/momentum/recalculate.
// 202 when queued, 200 when already pending, 429 when the queue is full.
func (h *RecalculateHandler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	const op = "api.recalculate"
	var req recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("missing user_id")))
		return
	}
	day, err := parseTargetDate(op, req.TargetDate)
	if err != nil {
		writeFailure(w, err)
		return
	}

	status, day, err := h.deps.RequestRecalculation(r.Context(), userID, day)
	switch {
	case errors.Is(err, model.ErrBackpressure):
		writeFailure(w, WrapKind(op, ErrBackpressure, err))
		return
	case err != nil:
		writeFailure(w, err)
		return
	}

	ack := ackResponse{Status: status, UserID: userID, TargetDate: day}
	if status == model.RecalcDuplicate {
		ack.Duplicate = true
		writeJSON(w, http.StatusOK, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// ScoresHandler serves persisted scores.
type ScoresHandler struct {
	deps ScoreReader
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps ScoreReader) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// HandleGetScore handles GET /v1/momentum/users/{userID}/scores/{date}.
func (h *ScoresHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	userID := chi.URLParam(r, "userID")
	day, err := model.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	score, err := h.deps.GetScore(r.Context(), userID, day)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}
