package handlers

import (
	"net/http"

	"gridwatch/middleware"
	"gridwatch/relay"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds what the router needs besides the handlers
type RouterConfig struct {
	Resolver       middleware.Resolver
	Relay          relay.Poster
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	TrustedProxies []string
}

// SetupRouter registers every route
func SetupRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Metrics(), middleware.SecurityHeaders())
	// global so preflights for any route are answered, matched or not
	router.Use(middleware.CORS(cfg.AllowedOrigins, "/functions/"))
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		router.SetTrustedProxies(nil)
	}

	limited := []gin.HandlerFunc{}
	if cfg.RateLimiter != nil {
		limited = append(limited, middleware.RateLimit(cfg.RateLimiter))
	}

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/storage/:bucket/*path", h.ServeObject)

	// answers its own preflight with the relay's CORS headers
	fn := router.Group("/functions", limited...)
	fn.Match([]string{http.MethodPost, http.MethodOptions}, "/post-to-twitter", relay.Handler(cfg.Relay))

	api := router.Group("/api/v1", limited...)
	api.Use(middleware.Auth(cfg.Resolver))
	{
		api.GET("/health", h.HealthCheck)

		compressed := gzip.Gzip(gzip.DefaultCompression)
		api.GET("/reports", compressed, h.ListReports)
		api.GET("/reports.geojson", compressed, h.ReportsGeoJSON)
		api.GET("/reports/feed", h.ListenReports)
		api.GET("/reports/:id", h.GetReport)

		auth := api.Group("/auth")
		auth.GET("/providers", h.ListProviders)
		auth.GET("/session", h.CurrentSession)
		auth.GET("/:provider/login", h.Login)
		auth.GET("/:provider/callback", h.Callback)
		auth.POST("/logout", middleware.RequireAuth(), h.Logout)

		owner := api.Group("", middleware.RequireAuth())
		owner.POST("/reports", h.CreateReport)
		owner.PUT("/reports/:id", h.UpdateReport)
		owner.PATCH("/reports/:id/status", h.UpdateStatus)
		owner.DELETE("/reports/:id", h.DeleteReport)
		owner.POST("/photos", h.UploadPhoto)

		owner.POST("/drafts", h.CreateDraft)
		owner.POST("/reports/:id/drafts", h.EditDraft)
		owner.GET("/drafts/:id", h.GetDraft)
		owner.DELETE("/drafts/:id", h.CancelDraft)
		owner.PUT("/drafts/:id/location", h.SetDraftLocation)
		owner.PUT("/drafts/:id/details", h.SetDraftDetails)
		owner.POST("/drafts/:id/photos", h.AddDraftPhoto)
		owner.DELETE("/drafts/:id/photos/:index", h.RemoveDraftPhoto)
		owner.PUT("/drafts/:id/share", h.SetDraftShare)
		owner.POST("/drafts/:id/next", h.NextDraftStep)
		owner.POST("/drafts/:id/back", h.PreviousDraftStep)
		owner.POST("/drafts/:id/submit", h.SubmitDraft)
	}

	return router
}
