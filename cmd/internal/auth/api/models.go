package authapi

import (
	"time"

	"till/cmd/identity"
)

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type federatedRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	// RefreshToken is present only when the refresh-in-body transport is
	// enabled; browser clients rely on the HttpOnly cookie instead.
	RefreshToken string `json:"refresh_token,omitempty"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
	// ResetToken is echoed only in development when explicitly enabled.
	ResetToken string `json:"reset_token,omitempty"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.DisplayName,
		Provider:  u.Provider,
		CreatedAt: u.CreatedAt,
	}
}
