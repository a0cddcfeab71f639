package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/availability"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger/sl"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/metrics"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/notify"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/service"
)

type Server struct {
	Log      *slog.Logger
	Waitlist *service.Waitlist
	Tracker  *availability.Tracker
	Auth     *auth.Authenticator
	Tokens   *auth.PartyTokens
	Bus      *notify.Bus
	Metrics  *metrics.Metrics
	Limiter  *RateLimiter

	BaseURL     string
	CORSOrigins []string
}

func (s *Server) Routes() http.Handler {
	router := httprouter.New()
	handle := func(method, path string, h httprouter.Handle) {
		router.Handle(method, path, s.instrument(path, h))
	}

	handle(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	handle(http.MethodPost, "/api/auth/login", s.handleLogin)
	handle(http.MethodPost, "/api/auth/logout", s.handleLogout)

	handle(http.MethodPost, "/api/waitlist/join", s.Limiter.Limit(s.handleJoin))
	handle(http.MethodGet, "/api/waitlist/active", s.Auth.RequireStaff(s.handleActive))
	handle(http.MethodGet, "/api/waitlist/entries/:id", s.Auth.RequireActor(s.handleGet))
	handle(http.MethodGet, "/api/waitlist/entries/:id/qr", s.Auth.RequireActor(s.handleQR))
	handle(http.MethodPost, "/api/waitlist/notify", s.Auth.RequireStaff(s.handleNotify))
	handle(http.MethodPost, "/api/waitlist/confirm", s.Auth.RequireStaff(s.entryAction(s.Waitlist.ConfirmSeating)))
	handle(http.MethodPost, "/api/waitlist/cancel", s.Auth.RequireActor(s.entryAction(s.Waitlist.Cancel)))
	handle(http.MethodPost, "/api/waitlist/depart", s.Auth.RequireStaff(s.entryAction(s.Waitlist.Depart)))

	handle(http.MethodGet, "/api/capacity", s.handleCapacity)
	handle(http.MethodPut, "/api/capacity", s.Auth.RequireStaff(s.handleConfigure))

	handle(http.MethodGet, "/ws", s.Auth.WithActor(s.handleWS))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "no such route")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return securityHeaders(c.Handler(router))
}

// Start serves h until ctx is cancelled, then drains in-flight requests. It
// returns only after the drain finished or timed out.
func Start(ctx context.Context, log *slog.Logger, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, log, ln, h, shutdownTimeout)
}

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, log *slog.Logger, ln net.Listener, h http.Handler, drain time.Duration) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		drained <- srv.Shutdown(shutdownCtx)
	}()

	log.Info("http server listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-drained; err != nil {
		log.Warn("http shutdown did not drain", sl.Err(err))
	}
	return nil
}
