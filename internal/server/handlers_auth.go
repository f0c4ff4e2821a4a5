package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  userSummary `json:"user"`
}

type userSummary struct {
	ID             int64       `json:"id"`
	OrganizationID int64       `json:"organizationId"`
	FullName       string      `json:"fullName"`
	Email          string      `json:"email"`
	Role           domain.Role `json:"role"`
}

// handleLogin exchanges email+password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, fmt.Errorf("%w: email and password are required", domain.ErrValidation))
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !CheckPassword(user.PasswordHash, req.Password) {
		// One failure shape for unknown user and wrong password.
		logging.Get(logging.CategoryAuth).Debugf("login rejected for %s", req.Email)
		writeError(w, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized))
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Амжилттай нэвтэрлээ", loginResponse{
		Token: token,
		User: userSummary{
			ID:             user.ID,
			OrganizationID: user.OrganizationID,
			FullName:       user.FullName,
			Email:          user.Email,
			Role:           user.Role,
		},
	})
}
