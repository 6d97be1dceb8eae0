package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/adapters/stream"
	"github.com/cb3tech/moshcast/internal/app"
	"github.com/cb3tech/moshcast/internal/config"
	"github.com/cb3tech/moshcast/internal/metrics"
)

// ConnIDMiddleware assigns every upgrade request a fresh connection id.
// Connections are ephemeral; the id lives exactly as long as the socket.
func ConnIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("conn_id", uuid.NewString())
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, gw *app.Gateway, ctrl *stream.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		sessions, listeners := gw.Stats()
		c.JSON(200, gin.H{"sessions": sessions, "listeners": listeners})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(ConnIDMiddleware())
	api.GET("/ws/stream", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("conn", c.GetString("conn_id")).Msg("stream endpoint hit")
		ctrl.HandleStream(ctx, c)
	})

	return r
}
