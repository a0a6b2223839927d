package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/generator"
)

func (s *Server) mountGeneratorRoutes(r chi.Router) {
	r.Route("/generators", func(gr chi.Router) {
		gr.Post("/", s.handleCreateGenerator)
		gr.Get("/", s.handleListGenerators)
		gr.Get("/{id}", s.handleGetGenerator)
		gr.Delete("/{id}", s.handleDeleteGenerator)
	})
}

type generatorResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toGeneratorResponse(g *generator.Generator) generatorResponse {
	return generatorResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatedAt:   g.CreatedAt.Format(timeLayout),
		UpdatedAt:   g.UpdatedAt.Format(timeLayout),
	}
}

type generatorCreateResponse struct {
	generatorResponse
	PAK string `json:"pak"`
}

func (s *Server) handleCreateGenerator(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
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

	g, err := s.generators.Create(r.Context(), generator.CreateParams{Name: req.Name, Description: req.Description, PAKHash: hash})
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, generatorCreateResponse{generatorResponse: toGeneratorResponse(g), PAK: plaintext})
}

func (s *Server) handleListGenerators(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	generators, err := s.generators.List(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]generatorResponse, 0, len(generators))
	for _, g := range generators {
		out = append(out, toGeneratorResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGenerator(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := principalFrom(r)
	if !p.IsAdmin() && !(p.Kind == auth.KindGenerator && p.GeneratorID == id) {
		renderError(w, forbiddenErr)
		return
	}
	g, err := s.generators.Get(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGeneratorResponse(g))
}

func (s *Server) handleDeleteGenerator(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if err := s.generators.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
