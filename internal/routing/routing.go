package routing

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventhub/pkg/handlers"
)

const shutdownTimeout = 10 * time.Second

type Handlers struct {
	Auth   *handlers.AuthHandler
	Token  *handlers.TokenHandler
	Events *handlers.EventHandler
}

func InitRoutes(api *mux.Router, h Handlers) {
	authRouter := api.PathPrefix("").Subrouter()
	tokenRouter := api.PathPrefix("/token").Subrouter()
	eventsRouter := api.PathPrefix("/events").Subrouter()

	/* auth routers */
	authRouter.HandleFunc("/login", h.Auth.Login).Methods("POST").Name("login")
	authRouter.HandleFunc("/logout", h.Auth.Logout).Methods("POST").Name("logout")
	authRouter.HandleFunc("/session", h.Auth.Session).Methods("GET").Name("session")

	/* token routers */
	tokenRouter.HandleFunc("/visitor", h.Token.Visitor).Methods("GET").Name("visitor-token")
	tokenRouter.HandleFunc("/user", h.Token.User).Methods("GET").Name("user-token")

	/* events routers */
	eventsRouter.HandleFunc("/{event_id}/attendees", h.Events.Attendees).Methods("GET").Name("attendees")
	eventsRouter.HandleFunc("/{event_id}/stream", h.Events.Stream).Methods("GET").Name("stream")
}

func ServeMetrics(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func ServeFallback(r *mux.Router, logger *slog.Logger) {
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte(`{"message":"not found"}`)); err != nil {
			logger.Error("failed to write fallback JSON", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	})
}

// StartServer serves r on addr until ctx is done, then drains open
// requests. Streams end when their request context is canceled.
func StartServer(ctx context.Context, addr string, r http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("the server is running", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
