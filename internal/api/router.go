package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"office-queue-backend/config"
	"office-queue-backend/internal/mw"
	"office-queue-backend/internal/orchestrator"
	"office-queue-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, s store.Store, orch *orchestrator.Orchestrator, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, orch, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Live state. Never cached: the snapshot changes every tick.
		api.GET("/status", handler.GetStatus)
		api.GET("/queue", handler.GetQueue)

		// Reservations
		api.POST("/book", handler.PostBooking)
		api.DELETE("/book", handler.DeleteBooking)
		api.POST("/queue/replace", handler.PostReplaceBooking)

		// Door controller bridge
		api.POST("/press", handler.PostPress)
		api.POST("/sensors", handler.PostSensorSample)

		// Directory and statistics
		api.GET("/users", caching, handler.GetUsers)
		api.GET("/stats", caching, handler.GetStats)

		// Web push
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	admin := api.Group("/admin")
	admin.Use(mw.AdminAuth(cfg.AdminToken))
	{
		admin.POST("/unlock", handler.PostForceUnlock)
		admin.POST("/reset", handler.PostReset)
		admin.POST("/clear_queue", handler.PostClearQueue)
		admin.POST("/maintenance", handler.PostMaintenance)
		admin.GET("/config", handler.GetConfig)
		admin.PUT("/config", handler.PutConfig)
		admin.POST("/users", handler.PostUser)
	}

	return r
}
