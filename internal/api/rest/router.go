package rest

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter assembles the mux with the standard middleware chain plus the
// operational endpoints that bypass it
func NewRouter(logger *zap.Logger, handler *Handler) http.Handler {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	chain := Chain(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		MetricsMiddleware(),
	)

	root := http.NewServeMux()
	root.Handle("/api/", chain(mux))
	root.Handle("GET /metrics", promhttp.Handler())
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return root
}
