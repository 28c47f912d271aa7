package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"eventhub/pkg/claims"
	"eventhub/pkg/cookie"
	"eventhub/pkg/session"
)

// noSessUrls lists route templates that are served without a session. A
// valid session cookie on them is still attached to the request.
var noSessUrls = map[string]string{
	"/api/login":                       http.MethodPost,
	"/api/session":                     http.MethodGet,
	"/api/token/visitor":               http.MethodGet,
	"/api/events/{event_id}/attendees": http.MethodGet,
	"/api/events/{event_id}/stream":    http.MethodGet,
}

func Session(parser *cookie.Parser, cookieName string, sessions session.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := mux.CurrentRoute(r)
			if route == nil {
				writeMessage(w, http.StatusNotFound, "route not found")
				return
			}
			template, err := route.GetPathTemplate()
			if err != nil {
				writeMessage(w, http.StatusNotFound, "route not found")
				return
			}

			method, ok := noSessUrls[template]
			public := ok && method == r.Method

			sess, err := cookie.ParseDataFromCookie[claims.Session](parser, r, cookieName, public)
			if err != nil {
				if errors.Is(err, cookie.ErrMissingContext) {
					logger.Error("session middleware misconfigured", "error", err)
					writeMessage(w, http.StatusInternalServerError, "internal server error")
					return
				}
				writeMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if sess != nil {
				valid, err := sessions.IsValid(r.Context(), sess.SessionID)
				switch {
				case err != nil:
					logger.Error("session lookup", "error", err, "user", sess.UserID)
					if !public {
						writeMessage(w, http.StatusInternalServerError, "internal server error")
						return
					}
					sess = nil
				case !valid:
					if !public {
						writeMessage(w, http.StatusUnauthorized, "unauthorized")
						return
					}
					sess = nil
				}
			}

			if sess != nil {
				r = r.WithContext(claims.WithSession(r.Context(), sess))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"message":"` + msg + `"}` + "\n"))
}
