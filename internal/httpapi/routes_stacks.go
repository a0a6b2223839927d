package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/annotation"
	"github.com/colliery-io/brokkr/internal/dal/deploymentobject"
	"github.com/colliery-io/brokkr/internal/dal/label"
	"github.com/colliery-io/brokkr/internal/dal/stack"
)

func (s *Server) mountStackRoutes(r chi.Router) {
	r.Route("/stacks", func(sr chi.Router) {
		sr.Post("/", s.handleCreateStack)
		sr.Get("/", s.handleListStacks)
		sr.Get("/{id}", s.handleGetStack)
		sr.Put("/{id}", s.handleUpdateStack)
		sr.Delete("/{id}", s.handleDeleteStack)

		sr.Get("/{id}/labels", s.handleListStackLabels)
		sr.Post("/{id}/labels", s.handleAddStackLabel)
		sr.Delete("/{id}/labels/{label}", s.handleRemoveStackLabel)

		sr.Get("/{id}/annotations", s.handleListStackAnnotations)
		sr.Post("/{id}/annotations", s.handleSetStackAnnotation)
		sr.Delete("/{id}/annotations/{key}", s.handleRemoveStackAnnotation)

		sr.Post("/{id}/deployment-objects", s.handleCreateDeploymentObject)
		sr.Get("/{id}/deployment-objects", s.handleListDeploymentObjects)
		sr.Get("/{id}/deployment-objects/{doid}", s.handleGetDeploymentObject)
	})
}

type stackResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	OwningGeneratorID *string `json:"owning_generator_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

func toStackResponse(st *stack.Stack) stackResponse {
	return stackResponse{
		ID:                st.ID,
		Name:              st.Name,
		Description:       st.Description,
		OwningGeneratorID: st.OwningGeneratorID,
		CreatedAt:         st.CreatedAt.Format(timeLayout),
		UpdatedAt:         st.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type createStackRequest struct {
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	OwningGeneratorID *string `json:"owning_generator_id,omitempty"`
}

// authorizeStackCreate resolves the request's principal into the
// generator id a newly created stack should be attributed to, or rejects
// a generator attempting to create an admin-owned or someone-else-owned
// stack.
func authorizeStackCreate(p auth.Principal, req createStackRequest) (*string, error) {
	if p.IsAdmin() {
		return req.OwningGeneratorID, nil
	}
	if p.Kind != auth.KindGenerator {
		return nil, forbiddenErr
	}
	if req.OwningGeneratorID != nil && *req.OwningGeneratorID != p.GeneratorID {
		return nil, forbiddenErr
	}
	gid := p.GeneratorID
	return &gid, nil
}

func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	var req createStackRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Name == "" {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "name is required"))
		return
	}

	p, _ := principalFrom(r)
	owner, err := authorizeStackCreate(p, req)
	if err != nil {
		renderError(w, err)
		return
	}

	st, err := s.stacks.Create(r.Context(), stack.CreateParams{
		Name:              req.Name,
		Description:       req.Description,
		OwningGeneratorID: owner,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStackResponse(st))
}

func (s *Server) handleListStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.stacks.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}

	p, _ := principalFrom(r)
	out := make([]stackResponse, 0, len(stacks))
	for _, st := range stacks {
		if !p.IsAdmin() && (st.OwningGeneratorID == nil || *st.OwningGeneratorID != p.GeneratorID) {
			continue
		}
		out = append(out, toStackResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

// loadStackAuthorized fetches a stack and enforces spec.md §4.2 ownership:
// admin sees everything, a generator only its own stacks, an agent
// nothing (agents don't manage stacks directly).
func (s *Server) loadStackAuthorized(r *http.Request, id string) (*stack.Stack, error) {
	p, ok := principalFrom(r)
	if !ok {
		return nil, brokkrerrors.ErrUnauthorized
	}
	st, err := s.stacks.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if p.Kind == auth.KindAgent {
		return nil, forbiddenErr
	}
	if err := stack.CheckOwnership(st, p.IsAdmin(), p.GeneratorID); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadStackAuthorized(r, chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStackResponse(st))
}

func (s *Server) handleUpdateStack(w http.ResponseWriter, r *http.Request) {
	if _, err := s.loadStackAuthorized(r, chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	st, err := s.stacks.Update(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStackResponse(st))
}

func (s *Server) handleDeleteStack(w http.ResponseWriter, r *http.Request) {
	if _, err := s.loadStackAuthorized(r, chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	if err := s.stacks.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStackLabels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
		renderError(w, err)
		return
	}
	labels, err := s.labels.List(r.Context(), label.EntityStack, id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (s *Server) handleAddStackLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
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
	if err := s.labels.Add(r.Context(), label.EntityStack, id, req.Label); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveStackLabel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
		renderError(w, err)
		return
	}
	if err := s.labels.Remove(r.Context(), label.EntityStack, id, chi.URLParam(r, "label")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListStackAnnotations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
		renderError(w, err)
		return
	}
	annotations, err := s.annotations.List(r.Context(), annotation.EntityStack, id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleSetStackAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
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
	if err := s.annotations.Set(r.Context(), annotation.EntityStack, id, req.Key, req.Value); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveStackAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, id); err != nil {
		renderError(w, err)
		return
	}
	if err := s.annotations.Remove(r.Context(), annotation.EntityStack, id, chi.URLParam(r, "key")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deploymentObjectResponse struct {
	ID               string `json:"id"`
	StackID          string `json:"stack_id"`
	SequenceID       int64  `json:"sequence_id"`
	YAMLChecksum     string `json:"yaml_checksum"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
	CreatedAt        string `json:"created_at"`
}

func toDeploymentObjectResponse(o *deploymentobject.DeploymentObject) deploymentObjectResponse {
	return deploymentObjectResponse{
		ID:               o.ID,
		StackID:          o.StackID,
		SequenceID:       o.SequenceID,
		YAMLChecksum:     o.YAMLChecksum,
		IsDeletionMarker: o.IsDeletionMarker,
		CreatedAt:        o.CreatedAt.Format(timeLayout),
	}
}

func (s *Server) handleCreateDeploymentObject(w http.ResponseWriter, r *http.Request) {
	stackID := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, stackID); err != nil {
		renderError(w, err)
		return
	}

	var req struct {
		YAMLContent      string `json:"yaml_content"`
		YAMLChecksum     string `json:"yaml_checksum,omitempty"`
		IsDeletionMarker bool   `json:"is_deletion_marker"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}

	obj, err := s.deployments.Create(r.Context(), stackID, []byte(req.YAMLContent), req.YAMLChecksum, req.IsDeletionMarker)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeploymentObjectResponse(obj))
}

func (s *Server) handleListDeploymentObjects(w http.ResponseWriter, r *http.Request) {
	stackID := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, stackID); err != nil {
		renderError(w, err)
		return
	}
	objs, err := s.deployments.ListForStack(r.Context(), stackID)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]deploymentObjectResponse, 0, len(objs))
	for _, o := range objs {
		out = append(out, toDeploymentObjectResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDeploymentObject(w http.ResponseWriter, r *http.Request) {
	stackID := chi.URLParam(r, "id")
	if _, err := s.loadStackAuthorized(r, stackID); err != nil {
		renderError(w, err)
		return
	}
	obj, err := s.deployments.Get(r.Context(), chi.URLParam(r, "doid"))
	if err != nil {
		renderError(w, err)
		return
	}
	if obj.StackID != stackID {
		renderError(w, deploymentobject.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toDeploymentObjectResponse(obj))
}
