package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/workorder"
	"github.com/colliery-io/brokkr/internal/dal/workorderlog"
	"github.com/colliery-io/brokkr/internal/workqueue"
)

func (s *Server) mountWorkOrderRoutes(r chi.Router) {
	r.Route("/work-orders", func(wr chi.Router) {
		wr.Post("/", s.handleCreateWorkOrder)
		wr.Get("/", s.handleListWorkOrders)
		wr.Get("/{id}", s.handleGetWorkOrder)
		wr.Delete("/{id}", s.handleDeleteWorkOrder)
		wr.Post("/{id}/claim", s.handleClaimWorkOrder)
		wr.Post("/{id}/complete", s.handleCompleteWorkOrder)
	})

	r.Route("/work-order-log", func(lr chi.Router) {
		lr.Get("/", s.handleListWorkOrderLog)
		lr.Get("/{id}", s.handleGetWorkOrderLogEntry)
	})
}

type workOrderWireForm struct {
	ID          string `json:"id"`
	WorkType    string `json:"work_type"`
	YAMLContent []byte `json:"yaml_content"`
}

func toWorkOrderWireForm(o *workorder.WorkOrder) workOrderWireForm {
	return workOrderWireForm{ID: o.ID, WorkType: o.WorkType, YAMLContent: o.YAMLContent}
}

type workOrderResponse struct {
	ID                  string  `json:"id"`
	WorkType            string  `json:"work_type"`
	Status              string  `json:"status"`
	ClaimedBy           *string `json:"claimed_by,omitempty"`
	RetryCount          int     `json:"retry_count"`
	MaxRetries          int     `json:"max_retries"`
	ClaimTimeoutSeconds int     `json:"claim_timeout_seconds"`
	CreatedAt           string  `json:"created_at"`
}

func toWorkOrderResponse(o *workorder.WorkOrder) workOrderResponse {
	return workOrderResponse{
		ID:                  o.ID,
		WorkType:            o.WorkType,
		Status:              string(o.Status),
		ClaimedBy:           o.ClaimedBy,
		RetryCount:          o.RetryCount,
		MaxRetries:          o.MaxRetries,
		ClaimTimeoutSeconds: o.ClaimTimeoutSeconds,
		CreatedAt:           o.CreatedAt.Format(timeLayout),
	}
}

func (s *Server) handleCreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r)
	if p.Kind == auth.KindAgent {
		renderError(w, forbiddenErr)
		return
	}

	var req struct {
		WorkType            string            `json:"work_type"`
		YAMLContent         string            `json:"yaml_content"`
		ClaimTimeoutSeconds int               `json:"claim_timeout_seconds"`
		MaxRetries          int               `json:"max_retries"`
		BackoffSeconds      int               `json:"backoff_seconds"`
		AgentIDs            []string          `json:"agent_ids"`
		Labels              []string          `json:"labels"`
		Annotations         map[string]string `json:"annotations"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.WorkType == "" {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "work_type is required"))
		return
	}

	targets, err := workqueue.ResolveAgentTargets(r.Context(), s.labels, s.annotations,
		resolveTargetSpec(req.AgentIDs, req.Labels, req.Annotations))
	if err != nil {
		renderError(w, err)
		return
	}

	wo, err := s.workOrders.Create(r.Context(), workorder.CreateParams{
		WorkType:            req.WorkType,
		YAMLContent:         []byte(req.YAMLContent),
		ClaimTimeoutSeconds: req.ClaimTimeoutSeconds,
		MaxRetries:          req.MaxRetries,
		BackoffSeconds:      req.BackoffSeconds,
		TargetAgentIDs:      targets,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkOrderResponse(wo))
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.workOrders.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]workOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toWorkOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.workOrders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderResponse(o))
}

func (s *Server) handleDeleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.workOrders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClaimWorkOrder renders a lost race as a 200 with claimed=false
// rather than an error status — internal/agentclient.ClaimWorkOrder
// treats any non-2xx as a hard failure, and "another agent won" is an
// expected, routine outcome of the claim race, not a failure.
func (s *Server) handleClaimWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := authorizeSelf(r, req.AgentID); err != nil {
		renderError(w, err)
		return
	}

	_, err := s.workOrders.Claim(r.Context(), chi.URLParam(r, "id"), req.AgentID)
	if err == workorder.ErrClaimLost {
		writeJSON(w, http.StatusOK, map[string]bool{"claimed": false})
		return
	}
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claimed": true})
}

func (s *Server) handleCompleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID       string `json:"agent_id"`
		Success       bool   `json:"success"`
		ResultMessage string `json:"result_message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := authorizeSelf(r, req.AgentID); err != nil {
		renderError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	var err error
	if req.Success {
		err = s.orchestrator.Complete(r.Context(), id, req.AgentID, req.ResultMessage)
	} else {
		err = s.orchestrator.Fail(r.Context(), id, req.AgentID, req.ResultMessage)
	}
	if err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workOrderLogResponse struct {
	ID               string `json:"id"`
	WorkType         string `json:"work_type"`
	Success          bool   `json:"success"`
	RetriesAttempted int    `json:"retries_attempted"`
	ResultMessage    string `json:"result_message"`
	CompletedAt      string `json:"completed_at"`
}

func toWorkOrderLogResponse(e *workorderlog.Entry) workOrderLogResponse {
	return workOrderLogResponse{
		ID:               e.ID,
		WorkType:         e.WorkType,
		Success:          e.Success,
		RetriesAttempted: e.RetriesAttempted,
		ResultMessage:    e.ResultMessage,
		CompletedAt:      e.CompletedAt.Format(timeLayout),
	}
}

// handleListWorkOrderLog supports the "list with filters" surface
// (spec.md §6) via optional work_type/success query parameters, filtered
// in-memory after the store's single indexed List(limit) query — the
// history table has no query-pattern need for a SQL-level filter yet.
func (s *Server) handleListWorkOrderLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.workOrderLog.List(r.Context(), 100)
	if err != nil {
		renderError(w, err)
		return
	}

	workType := r.URL.Query().Get("work_type")
	successFilter := r.URL.Query().Get("success")

	out := make([]workOrderLogResponse, 0, len(entries))
	for _, e := range entries {
		if workType != "" && e.WorkType != workType {
			continue
		}
		if successFilter != "" && (successFilter == "true") != e.Success {
			continue
		}
		out = append(out, toWorkOrderLogResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorkOrderLogEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.workOrderLog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderLogResponse(e))
}
