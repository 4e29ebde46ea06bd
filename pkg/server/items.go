package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/itemvault/itemvault/pkg/authclaims"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

type itemPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
}

type itemListResponse struct {
	Data  []itemPayload `json:"data"`
	Count int64         `json:"count"`
}

type itemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func toItemPayload(item *storage.Item) itemPayload {
	return itemPayload{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		OwnerID:     item.OwnerID,
	}
}

func principalFrom(r *http.Request) *authclaims.Principal {
	principal, _ := authclaims.PrincipalFromContext(r.Context())
	return principal
}

// selfAuthorized returns the request principal after checking it may act on
// its own resources, which also rejects inactive users.
func (s *Server) selfAuthorized(r *http.Request) (*authclaims.Principal, error) {
	principal := principalFrom(r)
	if principal == nil {
		return nil, serverErrors.ErrUnauthenticated
	}
	if err := s.authorizer.Authorize(principal, principal.UserID); err != nil {
		return nil, err
	}
	return principal, nil
}

func (s *Server) registerItemRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/items", s.handleListItems)
	mux.HandleFunc("POST /api/v1/items", s.handleCreateItem)
	mux.HandleFunc("GET /api/v1/items/{id}", s.handleGetItem)
	mux.HandleFunc("PUT /api/v1/items/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /api/v1/items/{id}", s.handleDeleteItem)
	mux.HandleFunc("PUT /api/v1/items/{id}/tags/{tagID}", s.handleAttachTag)
	mux.HandleFunc("DELETE /api/v1/items/{id}/tags/{tagID}", s.handleDetachTag)
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	principal, err := s.selfAuthorized(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	query := r.URL.Query()
	filter := storage.ItemFilter{
		OwnerID:  s.authorizer.ListScope(principal),
		Search:   query.Get("search"),
		SortBy:   query.Get("sort_by"),
		SortDesc: query.Get("sort_order") == "desc",
		Skip:     intQueryParam(r, "skip", 0),
		Limit:    intQueryParam(r, "limit", 100),
	}

	items, err := s.ds.ListItems(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	count, err := s.ds.CountItems(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := make([]itemPayload, len(items))
	for i, item := range items {
		payload[i] = toItemPayload(item)
	}
	writeJSON(w, http.StatusOK, itemListResponse{Data: payload, Count: count})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	principal, err := s.selfAuthorized(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}
	if req.Title == "" {
		s.writeError(w, serverErrors.Validation("title is required"))
		return
	}

	item := &storage.Item{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     principal.UserID,
	}
	if err := s.ds.CreateItem(r.Context(), item); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemPayload(item))
}

// loadAuthorizedItem fetches the item and checks the principal against its
// owner.
func (s *Server) loadAuthorizedItem(r *http.Request) (*storage.Item, error) {
	item, err := s.ds.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.Authorize(principalFrom(r), item.OwnerID); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadAuthorizedItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemPayload(item))
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadAuthorizedItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}
	if req.Title == "" {
		s.writeError(w, serverErrors.Validation("title is required"))
		return
	}

	item.Title = req.Title
	item.Description = req.Description
	if err := s.ds.UpdateItem(r.Context(), item); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemPayload(item))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadAuthorizedItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ds.DeleteItem(r.Context(), item.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

func (s *Server) handleAttachTag(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadAuthorizedItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tag, err := s.ds.GetTag(r.Context(), r.PathValue("tagID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ds.AddItemTag(r.Context(), item.ID, tag.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tag attached"})
}

func (s *Server) handleDetachTag(w http.ResponseWriter, r *http.Request) {
	item, err := s.loadAuthorizedItem(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.ds.RemoveItemTag(r.Context(), item.ID, r.PathValue("tagID")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tag detached"})
}
