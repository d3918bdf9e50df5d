// Package adminhttp exposes a small operator-facing HTTP surface: health,
// durable queue depths, and metrics. Grounded on the teacher's go.mod direct
// dependencies on github.com/julienschmidt/httprouter and github.com/rs/cors
// (no filtered example file used either directly; the router/CORS wiring
// below follows their documented top-level APIs).
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	xlog "github.com/rizilab/al-hafiz/internal/log"
	"github.com/rizilab/al-hafiz/internal/metrics"
	"github.com/rizilab/al-hafiz/internal/storage/cache"
)

var logger = xlog.NewModuleLogger(xlog.AdminHTTP)

// QueueDepths is the /status response body.
type QueueDepths struct {
	FailedAccounts      int64 `json:"failed_accounts"`
	UnprocessedAccounts int64 `json:"unprocessed_accounts"`
}

// Server bundles the admin HTTP router.
type Server struct {
	cache *cache.Cache
}

// New builds a Server with access to the durable queue lengths for /status.
func New(c *cache.Cache) *Server {
	return &Server{cache: c}
}

// Handler returns the CORS-wrapped httprouter handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", s.health)
	router.GET("/status", s.status)
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	failed, err := s.cache.LLen("failed_accounts")
	if err != nil {
		logger.Warn("status_llen_failed_accounts_error", "err", err)
	}
	unprocessed, err := s.cache.LLen("unprocessed_accounts")
	if err != nil {
		logger.Warn("status_llen_unprocessed_accounts_error", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(QueueDepths{FailedAccounts: failed, UnprocessedAccounts: unprocessed})
}
