package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperbridge/dmabridge/internal/logger"
	"github.com/hyperbridge/dmabridge/pkg/auth"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/api/handlers"
	apiMiddleware "github.com/hyperbridge/dmabridge/pkg/controlplane/api/middleware"
	"github.com/hyperbridge/dmabridge/pkg/controlplane/store"
	"github.com/hyperbridge/dmabridge/pkg/service"
	"github.com/hyperbridge/dmabridge/pkg/session"
)

// NewRouter builds the control plane's REST surface.
//
// Routes:
//   - GET  /health, /health/ready, /health/store - unauthenticated probes
//   - POST /v1/sessions - exchange an auth token (or, unauthenticated
//     daemon, a bare owner_vm) for a session Bearer token
//   - /v1/peers/* - peer bootstrap CRUD, admin surface, session-gated
//   - /v1/exports, /v1/exports/{handle} - ExportRemote/Unexport/Query
//   - /v1/imports/{handle}/fd - ExportFd
//   - /v1/channels/{peer_vm}/tx, /rx - TxChSetup/RxChSetup
//   - GET  /v1/schema - generated JSON Schema for the above bodies
func NewRouter(svc *service.Service, cpStore store.Store, minter *session.Minter, authenticator *auth.Authenticator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(cpStore)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/store", healthHandler.Store)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	sessionHandler := handlers.NewSessionHandler(authenticator, minter)
	schemaHandler := handlers.NewSchemaHandler()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", sessionHandler.Create)
		r.Get("/schema", schemaHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(minter))

			peerHandler := handlers.NewPeerHandler(cpStore)
			r.Route("/peers", func(r chi.Router) {
				r.Post("/", peerHandler.Create)
				r.Get("/", peerHandler.List)
				r.Get("/{vm_id}", peerHandler.Get)
				r.Put("/{vm_id}", peerHandler.Update)
				r.Delete("/{vm_id}", peerHandler.Delete)
			})

			exportHandler := handlers.NewExportHandler(svc)
			r.Route("/exports", func(r chi.Router) {
				r.Post("/", exportHandler.Create)
				r.Get("/{handle}", exportHandler.Get)
				r.Delete("/{handle}", exportHandler.Delete)
			})

			importHandler := handlers.NewImportHandler(svc)
			r.Route("/imports/{handle}", func(r chi.Router) {
				r.Post("/fd", importHandler.ExportFd)
			})

			channelHandler := handlers.NewChannelHandler(svc)
			r.Route("/channels/{peer_vm}", func(r chi.Router) {
				r.Post("/tx", channelHandler.SetupTx)
				r.Post("/rx", channelHandler.SetupRx)
			})
		})
	})

	return r
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs each request's completion at INFO, or DEBUG for
// healthcheck paths, to keep liveness/readiness polling out of normal logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("api request completed", args...)
		} else {
			logger.Info("api request completed", args...)
		}
	})
}
