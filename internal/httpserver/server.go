package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/engine"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/ledger"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/models"
	"github.com/Finxbridge/credit-enforcement-platform-sub000/internal/reallocation"
)

type Server struct {
	engine       *engine.Engine
	ledger       *ledger.Service
	reallocation *reallocation.Engine
}

func New(eng *engine.Engine, led *ledger.Service, realloc *reallocation.Engine) *Server {
	return &Server{engine: eng, ledger: led, reallocation: realloc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/rules", s.handleCreateRule)
	r.Get("/rules/{id}", s.handleGetRule)
	r.Post("/rules/{id}/simulate", s.handleSimulate)
	r.Post("/rules/{id}/apply", s.handleApply)

	r.Post("/allocations/deallocate", s.handleDeallocate)
	r.Post("/allocations/bulk-deallocate", s.handleBulkDeallocate)

	r.Post("/reallocations/agent", s.handleReallocateByAgent)
	r.Post("/reallocations/filter", s.handleReallocateByFilter)

	r.Get("/cases/{caseId}/owner", s.handleCurrentOwner)
	r.Get("/cases/{caseId}/history", s.handleHistory)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body engine.CreateRuleInput
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.engine.CreateRule(r.Context(), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	rule, err := s.engine.GetRule(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	result, err := s.engine.Simulate(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var body engine.ApplyRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.Apply(r.Context(), id, body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type deallocateBody struct {
	CaseID string `json:"caseId"`
	Reason string `json:"reason"`
}

func (s *Server) handleDeallocate(w http.ResponseWriter, r *http.Request) {
	var body deallocateBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.CaseID == "" {
		respondError(w, http.StatusBadRequest, "caseId required")
		return
	}
	if err := s.ledger.Deallocate(r.Context(), body.CaseID, body.Reason); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"caseId": body.CaseID, "status": string(models.AllocationDeallocated)})
}

type bulkDeallocateBody struct {
	CaseIDs []string `json:"caseIds"`
	Reason  string   `json:"reason"`
}

func (s *Server) handleBulkDeallocate(w http.ResponseWriter, r *http.Request) {
	var body bulkDeallocateBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.CaseIDs) == 0 {
		respondError(w, http.StatusBadRequest, "caseIds required")
		return
	}
	result, err := s.ledger.BulkDeallocate(r.Context(), body.CaseIDs, body.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type reallocateByAgentBody struct {
	FromAgentID string `json:"fromAgentId"`
	ToAgentID   string `json:"toAgentId"`
	Reason      string `json:"reason"`
}

func (s *Server) handleReallocateByAgent(w http.ResponseWriter, r *http.Request) {
	var body reallocateByAgentBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.FromAgentID == "" || body.ToAgentID == "" {
		respondError(w, http.StatusBadRequest, "fromAgentId and toAgentId required")
		return
	}
	job, err := s.reallocation.ByAgent(r.Context(), body.FromAgentID, body.ToAgentID, body.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

type reallocateByFilterBody struct {
	Bucket    *string                  `json:"bucket,omitempty"`
	Status    *models.AllocationStatus `json:"status,omitempty"`
	ToAgentID string                   `json:"toAgentId"`
	Reason    string                   `json:"reason"`
}

func (s *Server) handleReallocateByFilter(w http.ResponseWriter, r *http.Request) {
	var body reallocateByFilterBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ToAgentID == "" {
		respondError(w, http.StatusBadRequest, "toAgentId required")
		return
	}
	job, err := s.reallocation.ByFilter(r.Context(), reallocation.Filter{
		Bucket: body.Bucket,
		Status: body.Status,
	}, body.ToAgentID, body.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCurrentOwner(w http.ResponseWriter, r *http.Request) {
	allocation, err := s.ledger.CurrentOwner(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, allocation)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.History(r.Context(), chi.URLParam(r, "caseId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrBusinessRule):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
