package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"eventhub/pkg/account"
	"eventhub/pkg/tokencache"
)

type VisitorTokens interface {
	Visitor(ctx context.Context) (tokencache.CachedToken, error)
}

type TokenHandler struct {
	Visitors VisitorTokens
	Accounts account.ServiceInterface
	Logger   *slog.Logger
}

func NewTokenHandler(visitors VisitorTokens, accounts account.ServiceInterface, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{Visitors: visitors, Accounts: accounts, Logger: logger}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h *TokenHandler) Visitor(w http.ResponseWriter, r *http.Request) {
	tok, err := h.Visitors.Visitor(r.Context())
	if err != nil {
		h.Logger.Error("visitor token", "error", err)
		writeError(w, http.StatusBadGateway, typeMessage, "failed to obtain visitor token")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.Logger, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}

func (h *TokenHandler) User(w http.ResponseWriter, r *http.Request) {
	sess, ok := getSessionFromContext(w, r)
	if !ok {
		return
	}

	tok, err := h.Accounts.Token(r.Context(), sess)
	if err != nil {
		if errors.Is(err, account.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, typeMessage, "session token expired")
			return
		}
		h.Logger.Error("user token", "error", err, "user", sess.UserID)
		writeError(w, http.StatusInternalServerError, typeError, "failed to obtain user token")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.Logger, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}
