package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminAccounts gates /api/admin with basic auth; nil leaves it open.
type AdminAccounts gin.Accounts

// NewRouter builds the gin engine with the request logger, health, metrics and
// game routes. photos, when set, is served under /photos. The socket.io
// transport mounts itself on the returned engine.
func NewRouter(games *GameHandler, health *HealthHandler, admin AdminAccounts, photos http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if photos != nil {
		r.GET("/photos/*filepath", gin.WrapH(http.StripPrefix("/photos", photos)))
	}

	api := r.Group("/api")
	{
		api.GET("/state", games.State)
		api.POST("/players", games.Join)
		api.DELETE("/players/:name", games.Leave)
		api.POST("/players/:name/heartbeat", games.Heartbeat)
		api.POST("/votes", games.Vote)
	}

	adminGroup := api.Group("/admin")
	if len(admin) > 0 {
		adminGroup.Use(gin.BasicAuth(gin.Accounts(admin)))
	}
	{
		adminGroup.POST("/start", games.Start)
		adminGroup.POST("/advance", games.Advance)
		adminGroup.POST("/reset", games.Reset)
	}
	return r
}

// requestLogger logs one line per request, skipping socket.io polling noise.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	}
}
