package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

type tagPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) registerTagRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tags", s.handleCreateTag)
	mux.HandleFunc("GET /api/v1/tags/{id}", s.handleGetTag)
	mux.HandleFunc("DELETE /api/v1/tags/{id}", s.handleDeleteTag)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	if _, err := s.selfAuthorized(r); err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}
	if req.Name == "" {
		s.writeError(w, serverErrors.Validation("name is required"))
		return
	}

	tag := &storage.Tag{ID: uuid.NewString(), Name: req.Name}
	if err := s.ds.CreateTag(r.Context(), tag); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tagPayload{ID: tag.ID, Name: tag.Name})
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	if _, err := s.selfAuthorized(r); err != nil {
		s.writeError(w, err)
		return
	}

	tag, err := s.ds.GetTag(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tagPayload{ID: tag.ID, Name: tag.Name})
}

// handleDeleteTag removes the tag; its join rows cascade but tagged items
// survive.
func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.AuthorizeAdmin(principalFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ds.DeleteTag(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tag deleted"})
}
