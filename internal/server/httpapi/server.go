// Package httpapi is the JSON API in front of the security core. Every
// request passes the client and session middleware; protected routes add a
// role check from the guard.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/auth"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
	"github.com/dmitrijs2005/clinicguard/internal/server/services"
)

// Services are the handlers' collaborators.
type Services struct {
	Auth     *auth.Service
	Accounts *services.AccountService
	Patients *services.PatientService
	Audit    *audit.Service
	Archive  *services.ArchiveService
}

type Server struct {
	address      string
	guard        *guard.Guard
	svc          Services
	limiter      *LoginLimiter
	security     audit.Sink
	log          logging.Logger
	secureCookie bool
	proxies      reqctx.TrustedProxies
}

type Option func(*Server)

// WithInsecureCookies drops the Secure flag from the session cookie, for
// plain-HTTP development setups.
func WithInsecureCookies() Option {
	return func(s *Server) { s.secureCookie = false }
}

// WithTrustedProxies lets the listed proxies report the client address via
// X-Forwarded-For / X-Real-IP.
func WithTrustedProxies(p reqctx.TrustedProxies) Option {
	return func(s *Server) { s.proxies = p }
}

func NewServer(address string, g *guard.Guard, svc Services, limiter *LoginLimiter, security audit.Sink, log logging.Logger, opts ...Option) *Server {
	s := &Server{
		address:      address,
		guard:        g,
		svc:          svc,
		limiter:      limiter,
		security:     security,
		log:          log.With("module", "http_server"),
		secureCookie: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.clientMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.guard.Middleware(s.svc.Auth))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Group(func(r chi.Router) {
				r.Use(s.guard.RequireRoles(models.AnyRole))
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
				r.Post("/password", s.changePassword)
				r.Put("/profile", s.updateProfile)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.guard.RequireRoles(models.AdminOnly))
			r.Get("/accounts", s.listAccounts)
			r.Put("/accounts/{email}/role", s.changeRole)
			r.Post("/accounts/{email}/lock", s.lockAccount)
			r.Post("/accounts/{email}/unlock", s.unlockAccount)
			r.Post("/accounts/{email}/reset-password", s.resetPassword)
			r.Delete("/accounts/{email}", s.deleteAccount)
			r.Get("/audit/{channel}", s.listAudit)
			r.Post("/audit/{channel}/archive", s.archiveAudit)
		})

		r.Route("/patients", func(r chi.Router) {
			r.With(s.guard.RequireRoles(models.AnyClinician)).Get("/", s.listPatients)
			r.With(s.guard.RequireRoles(models.AnyClinician)).Get("/search", s.searchPatients)
			r.With(s.guard.RequireRoles(models.ClinicianWrite)).Post("/", s.createPatient)
			r.With(s.guard.RequireRoles(models.AnyClinician)).Get("/{id}", s.getPatient)
			r.With(s.guard.RequireRoles(models.ClinicianWrite)).Put("/{id}", s.updatePatient)
			r.With(s.guard.RequireRoles(models.ClinicianWrite)).Delete("/{id}", s.deletePatient)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.log.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SweepLimiter periodically drops idle login limiters until ctx is done.
func (s *Server) SweepLimiter(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.log.Debug(ctx, "login limiters swept", "removed", n)
			}
		}
	}
}

func (s *Server) clientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.WithClient(r.Context(), reqctx.ClientFromRequest(r, s.proxies))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"client_ip", reqctx.ClientFrom(r.Context()).IP,
		)
	})
}
