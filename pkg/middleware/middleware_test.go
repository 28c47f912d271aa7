package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventhub/pkg/claims"
	"eventhub/pkg/cookie"
	"eventhub/pkg/middleware"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Create(ctx context.Context, sessionID, userID string, expiresAt time.Time) error {
	return m.Called(sessionID, userID, expiresAt).Error(0)
}

func (m *mockSessions) IsValid(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessions) Invalidate(ctx context.Context, sessionID string) error {
	return m.Called(sessionID).Error(0)
}

var secret = []byte("jwt-secret")

func sessionCookie(t *testing.T, sessionID string) *http.Cookie {
	value, err := cookie.Sign(claims.Session{
		UserID:         "u1",
		Email:          "alice@example.com",
		SessionID:      sessionID,
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}, secret)
	require.NoError(t, err)
	return &http.Cookie{Name: "session", Value: value}
}

func echoSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := claims.FromContext(r.Context()); ok {
		_, _ = io.WriteString(w, s.SessionID)
		return
	}
	_, _ = io.WriteString(w, "anonymous")
}

func newRouter(sessions *mockSessions) *mux.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Panic(logger))
	api.Use(middleware.Session(cookie.NewParser(secret), "session", sessions, logger))
	api.HandleFunc("/session", echoSession).Methods(http.MethodGet)
	api.HandleFunc("/token/user", echoSession).Methods(http.MethodGet)
	api.HandleFunc("/events/{event_id}/attendees", echoSession).Methods(http.MethodGet)
	api.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") }).Methods(http.MethodGet)
	return r
}

func serve(r http.Handler, method, target string, c *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if c != nil {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestSession_PublicRoutes(t *testing.T) {
	sessions := new(mockSessions)
	router := newRouter(sessions)

	rr := serve(router, http.MethodGet, "/api/events/e1/attendees", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anonymous", rr.Body.String())

	rr = serve(router, http.MethodGet, "/api/session", &http.Cookie{Name: "session", Value: "garbage"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anonymous", rr.Body.String())

	sessions.On("IsValid", "s1").Return(true, nil).Once()
	rr = serve(router, http.MethodGet, "/api/session", sessionCookie(t, "s1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "s1", rr.Body.String())

	sessions.On("IsValid", "revoked").Return(false, nil).Once()
	rr = serve(router, http.MethodGet, "/api/session", sessionCookie(t, "revoked"))
	assert.Equal(t, "anonymous", rr.Body.String())

	sessions.AssertExpectations(t)
}

func TestSession_ProtectedRoutes(t *testing.T) {
	sessions := new(mockSessions)
	router := newRouter(sessions)

	rr := serve(router, http.MethodGet, "/api/token/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"message":"unauthorized"}`, rr.Body.String())

	rr = serve(router, http.MethodGet, "/api/token/user", &http.Cookie{Name: "session", Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	sessions.On("IsValid", "revoked").Return(false, nil).Once()
	rr = serve(router, http.MethodGet, "/api/token/user", sessionCookie(t, "revoked"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	sessions.On("IsValid", "broken").Return(false, errors.New("db down")).Once()
	rr = serve(router, http.MethodGet, "/api/token/user", sessionCookie(t, "broken"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	sessions.On("IsValid", "s1").Return(true, nil).Once()
	rr = serve(router, http.MethodGet, "/api/token/user", sessionCookie(t, "s1"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "s1", rr.Body.String())

	sessions.AssertExpectations(t)
}

func TestPanic(t *testing.T) {
	sessions := new(mockSessions)
	sessions.On("IsValid", "s1").Return(true, nil)
	router := newRouter(sessions)

	rr := serve(router, http.MethodGet, "/api/boom", sessionCookie(t, "s1"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"message":"internal server error"}`, rr.Body.String())
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flushRecorder) Flush() { f.flushed = true }

func TestMetrics_KeepsFlushReachable(t *testing.T) {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	r.HandleFunc("/api/events/{event_id}/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		assert.NoError(t, http.NewResponseController(w).Flush())
	})

	rec := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/e1/stream", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, rec.flushed)
}
