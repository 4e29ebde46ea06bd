package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
}

type userListResponse struct {
	Data  []userPayload `json:"data"`
	Count int64         `json:"count"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	IsActive *bool  `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
	IsAdmin  *bool   `json:"is_admin"`
}

type updateMeRequest struct {
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

func toUserPayload(user *storage.User) userPayload {
	return userPayload{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		FullName: user.FullName,
		IsActive: user.IsActive,
		IsAdmin:  user.IsAdmin,
	}
}

func (s *Server) registerUserRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/users/me", s.handleGetMe)
	mux.HandleFunc("PUT /api/v1/users/me", s.handleUpdateMe)
	mux.HandleFunc("GET /api/v1/users", s.handleListUsers)
	mux.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("PUT /api/v1/users/{id}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.handleDeleteUser)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	principal, err := s.selfAuthorized(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	user, err := s.ds.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	principal, err := s.selfAuthorized(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}

	user, err := s.ds.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Password != nil {
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}
		user.HashedPassword = hashed
	}

	if err := s.ds.UpdateUser(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.AuthorizeAdmin(principalFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}

	users, err := s.ds.ListUsers(r.Context(),
		intQueryParam(r, "skip", 0), intQueryParam(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	count, err := s.ds.CountUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload := make([]userPayload, len(users))
	for i, user := range users {
		payload[i] = toUserPayload(user)
	}
	writeJSON(w, http.StatusOK, userListResponse{Data: payload, Count: count})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.AuthorizeAdmin(principalFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		s.writeError(w, serverErrors.Validation("email and password are required"))
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	user := &storage.User{
		ID:             uuid.NewString(),
		Email:          req.Email,
		Username:       req.Username,
		FullName:       req.FullName,
		HashedPassword: hashed,
		IsActive:       req.IsActive == nil || *req.IsActive,
		IsAdmin:        req.IsAdmin,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.ds.CreateUser(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserPayload(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	id := r.PathValue("id")
	if principal == nil || principal.UserID != id {
		if err := s.authorizer.AuthorizeAdmin(principal); err != nil {
			s.writeError(w, err)
			return
		}
	}

	user, err := s.ds.GetUserByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if err := s.authorizer.AuthorizeAdmin(principalFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, serverErrors.Validation("invalid request body"))
		return
	}

	user, err := s.ds.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Password != nil {
		hashed, err := hashPassword(*req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}
		user.HashedPassword = hashed
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}

	if err := s.ds.UpdateUser(r.Context(), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserPayload(user))
}

// handleDeleteUser removes the user; owned items cascade with the row.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	if err := s.authorizer.AuthorizeAdmin(principal); err != nil {
		s.writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if principal != nil && principal.UserID == id {
		s.writeError(w, serverErrors.Validation("administrators cannot delete themselves"))
		return
	}

	if err := s.ds.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
