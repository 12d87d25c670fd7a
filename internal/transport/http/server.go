package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rendezvous/internal/auth"
	"github.com/vovakirdan/wirechat-rendezvous/internal/bridge"
	"github.com/vovakirdan/wirechat-rendezvous/internal/config"
	"github.com/vovakirdan/wirechat-rendezvous/internal/proto"
	"github.com/vovakirdan/wirechat-rendezvous/internal/store"
)

// Hub is what the HTTP layer needs from the presence registry.
type Hub interface {
	bridge.Registry
	Roster(ctx context.Context) (proto.OnlineClients, error)
}

// NewServer builds the HTTP server: health, read-only API and the /ws
// signaling endpoint. history and jwtCfg may be nil.
func NewServer(hub Hub, history store.History, jwtCfg *auth.JWTConfig, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := router.Group("/api")
	if jwtCfg.Enabled() {
		api.Use(AuthMiddleware(jwtCfg, logger))
	}
	handlers := NewAPIHandlers(hub, history, logger)
	api.GET("/clients", handlers.Clients)
	api.GET("/sessions", handlers.Sessions)
	api.GET("/calls", handlers.Calls)

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, jwtCfg, cfg, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
