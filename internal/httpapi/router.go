// Package httpapi is the REST surface and websocket entry point: room
// scheduling, snapshots for (re)joining clients, the whiteboard predicate
// and the signaling upgrade.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/auth"
	"github.com/teamspace/huddle/internal/config"
	"github.com/teamspace/huddle/internal/room"
	"github.com/teamspace/huddle/internal/signal"
)

// AuthMiddleware extracts the bearer token (or ?token= for websocket
// clients, which cannot set headers) and binds the verified identity to
// the request context.
func AuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		} else {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *room.Store, ctl *signal.Controller, tokens *auth.TokenManager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))

	log.Info().Str("module", "httpapi").Msg("router setup")

	h := &roomHandlers{rooms: rooms}

	api := r.Group("/api", AuthMiddleware(tokens))
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/rooms/:id/whiteboard", h.whiteboardAccess)

	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	return r
}
