package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"eventhub/pkg/account"
	"eventhub/pkg/claims"
)

type LoginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthHandler struct {
	Service    account.ServiceInterface
	CookieName string
	Secure     bool
	Logger     *slog.Logger
}

func NewAuthHandler(service account.ServiceInterface, cookieName string, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		Service:    service,
		CookieName: cookieName,
		Secure:     secure,
		Logger:     logger,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginForm
	if ok := DecodeJSONBody(w, r, &req); !ok {
		return
	}

	login, err := h.Service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			WriteResp(w, h.Logger, map[string]any{typeMessage: "invalid credentials"}, http.StatusUnauthorized)
			return
		}
		h.Logger.Error("login", "error", err)
		writeError(w, http.StatusInternalServerError, typeError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    login.Cookie,
		Path:     "/",
		Expires:  login.ExpiresAt,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	if ok := WriteResp(w, h.Logger, map[string]any{
		"user_id":    login.User.ID,
		"email":      login.User.Email,
		"expires_at": login.ExpiresAt.Unix(),
	}, http.StatusOK); ok {
		h.Logger.Info("login", "user", login.User.ID)
	}
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := getSessionFromContext(w, r)
	if !ok {
		return
	}

	if err := h.Service.Logout(r.Context(), sess); err != nil {
		h.Logger.Error("logout", "error", err, "user", sess.UserID)
		writeError(w, http.StatusInternalServerError, typeError, "logout failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	if ok := WriteResp(w, h.Logger, map[string]any{typeMessage: "logged out"}, http.StatusOK); ok {
		h.Logger.Info("logout", "user", sess.UserID)
	}
}

// Session reports the caller's session, or null when there is none.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Session *claims.Session `json:"session"`
	}
	if s, ok := claims.FromContext(r.Context()); ok {
		body.Session = s
	}
	writeJSON(w, h.Logger, body)
}
