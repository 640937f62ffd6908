// Package httpapi exposes the gateway over HTTP: the OpenAI-compatible
// proxy surface for callers and the JWT-protected admin surface for the
// management frontend.
package httpapi

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"auditgate/internal/auth"
	"auditgate/internal/config"
	"auditgate/internal/gateway"
	"auditgate/internal/metrics"
	"auditgate/internal/middleware"
	"auditgate/internal/providers"
	"auditgate/internal/recorder"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// Dependencies aggregates the services the HTTP layer needs. Everything is
// constructed in the entry point; the router only wires routes to handlers.
type Dependencies struct {
	Config     *config.Config
	DB         *storage.DB
	Redis      *redis.Client
	Encryption *storage.Encryption
	Registry   *providers.Registry
	Gateway    *gateway.Gateway
	Resolver   *auth.Resolver
	Recorder   *recorder.Recorder
	AdminStore auth.AdminStore
	Metrics    *metrics.Metrics
}

// NewRouter builds the full route table.
func NewRouter(deps *Dependencies) *http.ServeMux {
	mux := http.NewServeMux()

	// Caller-facing surface, Bearer API key inside the gateway pipeline.
	proxy := NewProxyHandler(deps.Gateway, deps.Resolver, storage.NewRequestRepository(deps.DB))
	mux.HandleFunc("POST /v1/chat/completions", proxy.ChatCompletions)
	mux.HandleFunc("GET /v1/models", proxy.ListModels)
	mux.HandleFunc("GET /v1/usage", proxy.Usage)

	mux.HandleFunc("GET /healthz", deps.handleHealth)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	// Admin authentication, public.
	adminAuth := NewAdminAuthHandler(deps.AdminStore, deps.Config)
	mux.HandleFunc("POST /admin/login", adminAuth.Login)
	mux.HandleFunc("POST /admin/token", adminAuth.TokenAuth)

	// Admin management, role-gated. Writes need "admin", reads "viewer"
	// (admins pass viewer checks).
	admin := middleware.AdminJWT(deps.Config, auth.RoleAdmin)
	viewer := middleware.AdminJWT(deps.Config, auth.RoleViewer)

	providersH := NewAdminProvidersHandler(deps.DB, deps.Encryption, deps.Registry)
	mux.Handle("GET /admin/providers", viewer(http.HandlerFunc(providersH.List)))
	mux.Handle("POST /admin/providers", admin(http.HandlerFunc(providersH.Create)))
	mux.Handle("GET /admin/providers/{id}", viewer(http.HandlerFunc(providersH.GetByID)))
	mux.Handle("PUT /admin/providers/{id}", admin(http.HandlerFunc(providersH.Update)))
	mux.Handle("DELETE /admin/providers/{id}", admin(http.HandlerFunc(providersH.Delete)))
	mux.Handle("POST /admin/providers/{id}/test", admin(http.HandlerFunc(providersH.Test)))
	mux.Handle("POST /admin/providers/{id}/sync_models", admin(http.HandlerFunc(providersH.SyncModels)))

	modelsH := NewAdminModelsHandler(deps.DB, deps.Registry)
	mux.Handle("GET /admin/models", viewer(http.HandlerFunc(modelsH.List)))
	mux.Handle("POST /admin/models", admin(http.HandlerFunc(modelsH.Create)))
	mux.Handle("GET /admin/models/{id}", viewer(http.HandlerFunc(modelsH.GetByID)))
	mux.Handle("PUT /admin/models/{id}", admin(http.HandlerFunc(modelsH.Update)))
	mux.Handle("DELETE /admin/models/{id}", admin(http.HandlerFunc(modelsH.Delete)))

	groupsH := NewAdminGroupsHandler(deps.DB)
	mux.Handle("GET /admin/groups", viewer(http.HandlerFunc(groupsH.List)))
	mux.Handle("POST /admin/groups", admin(http.HandlerFunc(groupsH.Create)))
	mux.Handle("GET /admin/groups/{id}", viewer(http.HandlerFunc(groupsH.GetByID)))
	mux.Handle("PUT /admin/groups/{id}", admin(http.HandlerFunc(groupsH.Update)))
	mux.Handle("DELETE /admin/groups/{id}", admin(http.HandlerFunc(groupsH.Delete)))

	usersH := NewAdminUsersHandler(deps.DB)
	mux.Handle("GET /admin/users", viewer(http.HandlerFunc(usersH.List)))
	mux.Handle("POST /admin/users", admin(http.HandlerFunc(usersH.Create)))
	mux.Handle("GET /admin/users/{id}", viewer(http.HandlerFunc(usersH.GetByID)))
	mux.Handle("PUT /admin/users/{id}", admin(http.HandlerFunc(usersH.Update)))
	mux.Handle("DELETE /admin/users/{id}", admin(http.HandlerFunc(usersH.Delete)))

	quotasH := NewAdminQuotasHandler(deps.DB)
	mux.Handle("GET /admin/quotas", viewer(http.HandlerFunc(quotasH.List)))
	mux.Handle("POST /admin/quotas", admin(http.HandlerFunc(quotasH.Create)))
	mux.Handle("GET /admin/quotas/{id}", viewer(http.HandlerFunc(quotasH.GetByID)))
	mux.Handle("PUT /admin/quotas/{id}", admin(http.HandlerFunc(quotasH.Update)))
	mux.Handle("DELETE /admin/quotas/{id}", admin(http.HandlerFunc(quotasH.Delete)))
	mux.Handle("POST /admin/quotas/{id}/reset_api_key", admin(http.HandlerFunc(quotasH.ResetAPIKey)))
	mux.Handle("POST /admin/quotas/{id}/restore", admin(http.HandlerFunc(quotasH.Restore)))

	// Self-service key management for quota owners, API-key authenticated.
	mux.HandleFunc("GET /quotas/{id}/api_key", quotasH.SelfServiceKey(deps.Resolver, false))
	mux.HandleFunc("POST /quotas/{id}/api_key", quotasH.SelfServiceKey(deps.Resolver, true))

	recordsH := NewAdminRequestsHandler(deps.DB, deps.Recorder)
	mux.Handle("GET /admin/chat-records", viewer(http.HandlerFunc(recordsH.List)))
	mux.Handle("GET /admin/chat-records/{id}", viewer(http.HandlerFunc(recordsH.GetByID)))
	mux.Handle("GET /admin/chat-records/statistics", viewer(http.HandlerFunc(recordsH.Statistics)))
	mux.Handle("GET /admin/audit/dlq", admin(http.HandlerFunc(recordsH.DeadLetters)))
	mux.Handle("POST /admin/audit/dlq/{id}/retry", admin(http.HandlerFunc(recordsH.RetryDeadLetter)))

	return mux
}

var healthLogger = utils.NewLogger("health")

// handleHealth reports storage health. Degraded dependencies return 503 so
// orchestrators can rotate the pod out.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	// Error detail stays in the logs; the body only names the dependency.
	if d.DB != nil {
		if err := d.DB.Ping(r.Context()); err != nil {
			healthLogger.Error("Health check failed", "dependency", "database", "error", err)
			status["status"] = "degraded"
			status["database"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(r.Context()).Err(); err != nil {
			healthLogger.Error("Health check failed", "dependency", "redis", "error", err)
			status["status"] = "degraded"
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	utils.RespondWithJSON(w, code, status)
}
