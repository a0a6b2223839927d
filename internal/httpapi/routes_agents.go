package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/agent"
	"github.com/colliery-io/brokkr/internal/dal/annotation"
	"github.com/colliery-io/brokkr/internal/dal/deploymentobject"
	"github.com/colliery-io/brokkr/internal/dal/label"
)

func (s *Server) mountAgentRoutes(r chi.Router) {
	r.Route("/agents", func(ar chi.Router) {
		ar.Post("/", s.handleCreateAgent)
		ar.Get("/", s.handleListAgents)
		ar.Get("/{id}", s.handleGetAgent)
		ar.Put("/{id}", s.handleUpdateAgent)
		ar.Delete("/{id}", s.handleDeleteAgent)

		ar.Get("/{id}/labels", s.handleListAgentLabels)
		ar.Post("/{id}/labels", s.handleAddAgentLabel)
		ar.Delete("/{id}/labels/{label}", s.handleRemoveAgentLabel)

		ar.Get("/{id}/annotations", s.handleListAgentAnnotations)
		ar.Post("/{id}/annotations", s.handleSetAgentAnnotation)
		ar.Delete("/{id}/annotations/{key}", s.handleRemoveAgentAnnotation)

		ar.Get("/{id}/targets", s.handleListAgentTargets)
		ar.Post("/{id}/targets/{stackId}", s.handleAddAgentTarget)
		ar.Delete("/{id}/targets/{stackId}", s.handleRemoveAgentTarget)

		ar.Post("/{id}/heartbeat", s.handleHeartbeat)
		ar.Get("/{id}/deployment-objects/pending", s.handlePendingDeploymentObjects)
		ar.Post("/{id}/deployment-objects/{doid}/outcome", s.handleDeploymentOutcome)
		ar.Get("/{id}/work-orders/pending", s.handlePendingWorkOrders)
		ar.Get("/{id}/webhook-deliveries/pending", s.handlePendingWebhookDeliveries)
	})
}

type agentResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ClusterName     string  `json:"cluster_name"`
	Status          string  `json:"status"`
	LastHeartbeatAt *string `json:"last_heartbeat_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toAgentResponse(a *agent.Agent) agentResponse {
	resp := agentResponse{
		ID:          a.ID,
		Name:        a.Name,
		ClusterName: a.ClusterName,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt.Format(timeLayout),
		UpdatedAt:   a.UpdatedAt.Format(timeLayout),
	}
	if a.LastHeartbeatAt != nil {
		formatted := a.LastHeartbeatAt.Format(timeLayout)
		resp.LastHeartbeatAt = &formatted
	}
	return resp
}

// agentCreateResponse embeds the plaintext PAK once, at creation — never
// again afterward (spec.md §9 "Secrets are never returned to clients
// after creation").
type agentCreateResponse struct {
	agentResponse
	PAK string `json:"pak"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		ClusterName string `json:"cluster_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Name == "" {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "name is required"))
		return
	}

	plaintext, _, hash, err := auth.Generate(auth.DefaultParams())
	if err != nil {
		renderError(w, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "generate PAK failed", err))
		return
	}

	a, err := s.agents.Create(r.Context(), agent.CreateParams{Name: req.Name, ClusterName: req.ClusterName, PAKHash: hash})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agentCreateResponse{agentResponse: toAgentResponse(a), PAK: plaintext})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// authorizeAgentAccess allows admin or the agent itself; generators have no
// standing to inspect agent records.
func authorizeAgentAccess(p auth.Principal, agentID string) error {
	if p.IsAdmin() {
		return nil
	}
	if p.Kind == auth.KindAgent && p.AgentID == agentID {
		return nil
	}
	return forbiddenErr
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := principalFrom(r)
	if err := authorizeAgentAccess(p, id); err != nil {
		renderError(w, err)
		return
	}
	a, err := s.agents.Get(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(a))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		ClusterName string `json:"cluster_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	a, err := s.agents.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.ClusterName)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(a))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.agents.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgentLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.labels.List(r.Context(), label.EntityAgent, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (s *Server) handleAddAgentLabel(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Label string `json:"label"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := s.labels.Add(r.Context(), label.EntityAgent, chi.URLParam(r, "id"), req.Label); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAgentLabel(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.labels.Remove(r.Context(), label.EntityAgent, chi.URLParam(r, "id"), chi.URLParam(r, "label")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgentAnnotations(w http.ResponseWriter, r *http.Request) {
	annotations, err := s.annotations.List(r.Context(), annotation.EntityAgent, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleSetAgentAnnotation(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if err := s.annotations.Set(r.Context(), annotation.EntityAgent, chi.URLParam(r, "id"), req.Key, req.Value); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAgentAnnotation(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.annotations.Remove(r.Context(), annotation.EntityAgent, chi.URLParam(r, "id"), chi.URLParam(r, "key")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAgentTargets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := principalFrom(r)
	if err := authorizeAgentAccess(p, id); err != nil {
		renderError(w, err)
		return
	}
	stacks, err := s.stacks.ListTargetStacks(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stacks)
}

func (s *Server) handleAddAgentTarget(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.stacks.AddTarget(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stackId")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAgentTarget(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.stacks.RemoveTarget(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stackId")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeSelf rejects any caller other than the agent named by the URL
// — the agent-facing poll/report endpoints operate entirely on the
// caller's own identity, never another agent's.
func authorizeSelf(r *http.Request, agentID string) error {
	p, ok := principalFrom(r)
	if !ok || p.Kind != auth.KindAgent || p.AgentID != agentID {
		return forbiddenErr
	}
	return nil
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := authorizeSelf(r, id); err != nil {
		renderError(w, err)
		return
	}
	if err := s.agents.Heartbeat(r.Context(), id); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingDeploymentObjects(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := authorizeSelf(r, id); err != nil {
		renderError(w, err)
		return
	}
	objs, err := s.deployments.ListPendingForAgent(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]deploymentObjectWireForm, 0, len(objs))
	for _, o := range objs {
		out = append(out, toDeploymentObjectWireForm(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// deploymentObjectWireForm is the agent-facing wire shape, carrying the
// full yaml_content that the admin-facing deploymentObjectResponse omits.
type deploymentObjectWireForm struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAMLContent      []byte `json:"yaml_content"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
}

func toDeploymentObjectWireForm(o *deploymentobject.DeploymentObject) deploymentObjectWireForm {
	return deploymentObjectWireForm{
		ID:               o.ID,
		StackID:          o.StackID,
		SequenceID:       o.SequenceID,
		YAMLContent:      o.YAMLContent,
		IsDeletionMarker: o.IsDeletionMarker,
	}
}

func (s *Server) handleDeploymentOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := authorizeSelf(r, id); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Status      string `json:"status"`
		ErrorDetail string `json:"error_detail"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}

	status := deploymentobject.ApplicationFailed
	if req.Status == "success" {
		status = deploymentobject.ApplicationApplied
	}
	if err := s.deployments.RecordApplication(r.Context(), chi.URLParam(r, "doid"), id, status, req.ErrorDetail); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingWorkOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := authorizeSelf(r, id); err != nil {
		renderError(w, err)
		return
	}
	workType := r.URL.Query().Get("work_type")
	orders, err := s.workOrders.ListPendingForAgent(r.Context(), id, workType)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]workOrderWireForm, 0, len(orders))
	for _, o := range orders {
		out = append(out, toWorkOrderWireForm(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePendingWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := authorizeSelf(r, id); err != nil {
		renderError(w, err)
		return
	}
	deliveries, err := s.deliveries.ListClaimableForAgent(r.Context(), id, 20)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]webhookDeliveryWireForm, 0, len(deliveries))
	for _, d := range deliveries {
		sub, err := s.webhookSubs.Get(r.Context(), d.SubscriptionID)
		if err != nil {
			continue
		}
		out = append(out, toWebhookDeliveryWireForm(d, sub))
	}
	writeJSON(w, http.StatusOK, out)
}
