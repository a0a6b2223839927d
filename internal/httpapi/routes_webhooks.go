package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
)

const agentDeliveryLeaseDuration = 5 * time.Minute

func (s *Server) mountWebhookRoutes(r chi.Router) {
	r.Route("/webhook-subscriptions", func(wr chi.Router) {
		wr.Post("/", s.handleCreateWebhookSubscription)
		wr.Get("/", s.handleListWebhookSubscriptions)
		wr.Get("/{id}", s.handleGetWebhookSubscription)
		wr.Patch("/{id}", s.handlePatchWebhookSubscription)
		wr.Delete("/{id}", s.handleDeleteWebhookSubscription)
		wr.Get("/{id}/deliveries", s.handleListDeliveriesForSubscription)
	})

	r.Route("/webhook-deliveries", func(dr chi.Router) {
		dr.Post("/{id}/retry", s.handleRetryDelivery)
		dr.Post("/{id}/claim", s.handleClaimDelivery)
		dr.Post("/{id}/outcome", s.handleDeliveryOutcome)
	})
}

type webhookSubscriptionResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	EventPatterns  []string `json:"event_patterns"`
	TargetLabels   []string `json:"target_labels,omitempty"`
	Enabled        bool     `json:"enabled"`
	MaxRetries     int      `json:"max_retries"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	CreatedAt      string   `json:"created_at"`
}

func toWebhookSubscriptionResponse(sub *webhooksubscription.Subscription) webhookSubscriptionResponse {
	return webhookSubscriptionResponse{
		ID:             sub.ID,
		Name:           sub.Name,
		EventPatterns:  sub.EventPatterns,
		TargetLabels:   sub.TargetLabels,
		Enabled:        sub.Enabled,
		MaxRetries:     sub.MaxRetries,
		TimeoutSeconds: sub.TimeoutSeconds,
		CreatedAt:      sub.CreatedAt.Format(timeLayout),
	}
}

func (s *Server) handleCreateWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Name           string                      `json:"name"`
		URL            string                      `json:"url"`
		AuthHeader     string                      `json:"auth_header,omitempty"`
		EventPatterns  []string                    `json:"event_patterns"`
		Filter         webhooksubscription.Filter   `json:"filter"`
		TargetLabels   []string                    `json:"target_labels,omitempty"`
		MaxRetries     int                         `json:"max_retries"`
		TimeoutSeconds int                         `json:"timeout_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Name == "" || req.URL == "" {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "name and url are required"))
		return
	}

	sub, err := s.webhookSubs.Create(r.Context(), webhooksubscription.CreateParams{
		Name:           req.Name,
		URL:            req.URL,
		AuthHeader:     req.AuthHeader,
		EventPatterns:  req.EventPatterns,
		Filter:         req.Filter,
		TargetLabels:   req.TargetLabels,
		MaxRetries:     req.MaxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWebhookSubscriptionResponse(sub))
}

func (s *Server) handleListWebhookSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	subs, err := s.webhookSubs.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]webhookSubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toWebhookSubscriptionResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	sub, err := s.webhookSubs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookSubscriptionResponse(sub))
}

// handlePatchWebhookSubscription is scoped to the "enabled" field only —
// the only field internal/dal/webhooksubscription.Store currently exposes
// a mutator for (SetEnabled). Broader patch support (url, event patterns,
// filter) would need a new store method with no caller driving it yet.
func (s *Server) handlePatchWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Enabled == nil {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "enabled is the only patchable field"))
		return
	}
	if err := s.webhookSubs.SetEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWebhookSubscription(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.webhookSubs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookDeliveryResponse struct {
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toWebhookDeliveryResponse(d *webhookdelivery.Delivery) webhookDeliveryResponse {
	resp := webhookDeliveryResponse{
		ID:        d.ID,
		EventType: d.EventType,
		Status:    string(d.Status),
		Attempts:  d.Attempts,
		LastError: d.LastError,
		CreatedAt: d.CreatedAt.Format(timeLayout),
	}
	if d.CompletedAt != nil {
		resp.CompletedAt = d.CompletedAt.Format(timeLayout)
	}
	return resp
}

func (s *Server) handleListDeliveriesForSubscription(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	deliveries, err := s.deliveries.ListForSubscription(r.Context(), chi.URLParam(r, "id"), 100)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]webhookDeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toWebhookDeliveryResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryDelivery(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.deliveries.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// webhookDeliveryWireForm is the agent-facing wire shape for a claimable
// delivery, joining in the subscriber URL/auth header the agent needs to
// deliver directly — an agent has no DB access to look these up itself.
type webhookDeliveryWireForm struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	EventType      string `json:"event_type"`
	Payload        []byte `json:"payload"`
	URL            string `json:"url"`
	AuthHeader     string `json:"auth_header,omitempty"`
}

func toWebhookDeliveryWireForm(d *webhookdelivery.Delivery, sub *webhooksubscription.Subscription) webhookDeliveryWireForm {
	return webhookDeliveryWireForm{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		URL:            sub.URL,
		AuthHeader:     sub.AuthHeader,
	}
}

func (s *Server) handleClaimDelivery(w http.ResponseWriter, r *http.Request) {
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

	_, err := s.deliveries.ClaimForAgent(r.Context(), chi.URLParam(r, "id"), req.AgentID, agentDeliveryLeaseDuration)
	if err == webhookdelivery.ErrClaimLost {
		writeJSON(w, http.StatusOK, map[string]bool{"claimed": false})
		return
	}
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claimed": true})
}

func (s *Server) handleDeliveryOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agent_id"`
		Status      string `json:"status"`
		ErrorDetail string `json:"error_detail"`
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
	delivery, err := s.deliveries.Get(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	if delivery.AcquiredBy == nil || *delivery.AcquiredBy != req.AgentID {
		renderError(w, brokkrerrors.New(brokkrerrors.Forbidden, "delivery is not claimed by the calling agent"))
		return
	}

	if req.Status == "success" {
		if err := s.deliveries.Succeed(r.Context(), id); err != nil {
			renderError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sub, err := s.webhookSubs.Get(r.Context(), delivery.SubscriptionID)
	if err != nil {
		renderError(w, err)
		return
	}
	if err := s.deliveries.Fail(r.Context(), id, sub.MaxRetries, s.cfg.WebhookMaxBackoff, req.ErrorDetail); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
