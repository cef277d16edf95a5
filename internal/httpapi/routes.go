package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tradebridge/tradebridge/internal/session"
	"github.com/tradebridge/tradebridge/internal/ws"
)

// SetupRoutes wires the public HTTP surface: a liveness probe and the
// websocket upgrade endpoint that hands connections off to coord.
func SetupRoutes(coord *session.Coordinator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(coord, logger))
	return r
}
