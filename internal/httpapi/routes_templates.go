package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/template"
)

func (s *Server) mountTemplateRoutes(r chi.Router) {
	r.Route("/templates", func(tr chi.Router) {
		tr.Post("/", s.handleCreateTemplate)
		tr.Get("/", s.handleListTemplates)
		tr.Get("/{id}", s.handleGetTemplate)
		tr.Get("/{id}/versions", s.handleListTemplateVersions)
		tr.Delete("/{id}", s.handleDeleteTemplate)
		tr.Post("/{id}/instantiate", s.handleInstantiateTemplate)
	})
}

type templateResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	ParamSchema    json.RawMessage `json:"param_schema"`
	RequiredLabels []string        `json:"required_labels,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toTemplateResponse(t *template.Template) templateResponse {
	return templateResponse{
		ID:             t.ID,
		Name:           t.Name,
		Version:        t.Version,
		ParamSchema:    json.RawMessage(t.ParamSchema),
		RequiredLabels: t.RequiredLabels,
		CreatedAt:      t.CreatedAt.Format(timeLayout),
	}
}

// handleCreateTemplate registers a new version of a template. Updating a
// template never mutates an existing version (spec.md §4.7 "versions are
// immutable, updates create new versions") — callers pick the next
// version number themselves, same as the teacher's automationpacks
// definitions treat each registered Definition as immutable once stored.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Name           string          `json:"name"`
		Version        int             `json:"version"`
		TextContent    string          `json:"text_content"`
		ParamSchema    json.RawMessage `json:"param_schema"`
		RequiredLabels []string        `json:"required_labels,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Name == "" || req.TextContent == "" || len(req.ParamSchema) == 0 {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "name, text_content, and param_schema are required"))
		return
	}

	t, err := s.templates.Create(r.Context(), template.CreateParams{
		Name:           req.Name,
		Version:        req.Version,
		TextContent:    req.TextContent,
		ParamSchema:    []byte(req.ParamSchema),
		RequiredLabels: req.RequiredLabels,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(t))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

func (s *Server) handleListTemplateVersions(w http.ResponseWriter, r *http.Request) {
	t, err := s.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, err)
		return
	}
	versions, err := s.templates.ListVersions(r.Context(), t.Name)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]templateResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toTemplateResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.templates.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StackID string         `json:"stack_id"`
		Params  map[string]any `json:"params"`
	}
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.StackID == "" {
		renderError(w, brokkrerrors.New(brokkrerrors.Validation, "stack_id is required"))
		return
	}
	if _, err := s.loadStackAuthorized(r, req.StackID); err != nil {
		renderError(w, err)
		return
	}

	obj, err := s.instantiator.Instantiate(r.Context(), chi.URLParam(r, "id"), req.StackID, req.Params)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeploymentObjectResponse(obj))
}
