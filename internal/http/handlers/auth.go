package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/auth"
	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
)

const maxAuthBody = 64 << 10

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type firebaseRequest struct {
	IDToken string `json:"idToken"`
}

type profileRequest struct {
	DisplayName     *string `json:"displayName"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
}

type sessionResponse struct {
	Success   bool        `json:"success"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

type userResponse struct {
	Success bool        `json:"success"`
	Valid   bool        `json:"valid,omitempty"`
	User    domain.User `json:"user"`
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidBody)
		return false
	}
	return true
}

func (a *App) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.Accounts.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	a.json(w, http.StatusCreated, newSessionResponse(sess))
}

func (a *App) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	sess, err := a.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	a.json(w, http.StatusOK, newSessionResponse(sess))
}

// FirebaseLogin exchanges a Firebase ID token for one of our bearer tokens.
func (a *App) FirebaseLogin(w http.ResponseWriter, r *http.Request) {
	if a.Firebase == nil {
		a.error(w, r, http.StatusNotFound, i18n.MsgFirebaseDisabled)
		return
	}
	var req firebaseRequest
	if !a.decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	identity, err := a.Firebase.Verify(ctx, req.IDToken)
	if err != nil {
		a.logger().Warn().Err(err).Msg("firebase verify failed")
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	sess, err := a.Accounts.LoginWithFirebase(r.Context(), *identity)
	if err != nil {
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	a.json(w, http.StatusOK, newSessionResponse(sess))
}

// Verify answers for a token RequireAuth already accepted.
func (a *App) Verify(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		a.error(w, r, http.StatusUnauthorized, i18n.MsgMissingToken)
		return
	}
	a.json(w, http.StatusOK, userResponse{Success: true, Valid: true, User: user.Public()})
}

func (a *App) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := a.Accounts.Profile(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	a.json(w, http.StatusOK, userResponse{Success: true, User: user.Public()})
}

func (a *App) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.Accounts.UpdateProfile(r.Context(), a.currentUserID(r), auth.ProfileUpdate{
		DisplayName:     req.DisplayName,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		a.fail(w, r, err, i18n.MsgNotFound)
		return
	}
	a.json(w, http.StatusOK, userResponse{Success: true, User: user.Public()})
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{Success: true, Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User}
}
