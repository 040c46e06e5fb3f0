package routes

import (
	"log/slog"
	"net/http"
	"time"

	"sharedrive/config"
	"sharedrive/controllers"
	"sharedrive/metrics"
	"sharedrive/middleware"
	"sharedrive/services"

	"github.com/gin-gonic/gin"
)

// ServiceContainer holds all services and dependencies
type ServiceContainer struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Store services.Store
	Blobs services.BlobStore
	Cache *services.MetadataCache

	PermissionService   *services.PermissionService
	QuotaLedger         *services.QuotaLedger
	FileService         *services.FileService
	FolderService       *services.FolderService
	ShareService        *services.ShareService
	CouponService       *services.CouponService
	UserService         *services.UserService
	NotificationService *services.NotificationService
	DeliveryProxy       *services.DeliveryProxy
}

// NewServiceContainer wires every service over the given store, blob store
// and cache backend. A nil cache backend disables caching.
func NewServiceContainer(cfg *config.Config, store services.Store, blobs services.BlobStore, cacheBackend services.CacheBackend, logger *slog.Logger, m *metrics.Metrics) *ServiceContainer {
	cache := services.NewMetadataCache(cacheBackend, services.CacheConfig{
		MetadataTTL:    cfg.MetadataCacheTTL,
		GrantTTL:       cfg.GrantCacheTTL,
		DownloadURLTTL: cfg.DownloadURLCacheTTL,
		ShareMaxTTL:    cfg.ShareCacheMaxTTL,
	}, logger, m)

	notifications := services.NewNotificationService(store, services.NotificationConfig{
		MailgunAPIKey: cfg.MailgunAPIKey,
		MailgunDomain: cfg.MailgunDomain,
		BaseURL:       cfg.MailgunBaseURL,
		FromEmail:     cfg.FromEmail,
		MaxRetries:    uint64(cfg.NotifyMaxRetries),
		RetryBackoff:  cfg.NotifyRetryBackoff,
	}, logger, m)

	permissions := services.NewPermissionService(store, cache, notifications, logger)
	ledger := services.NewQuotaLedger(store, cfg.ReservationTTL, logger, m)

	return &ServiceContainer{
		Config:              cfg,
		Logger:              logger,
		Metrics:             m,
		Store:               store,
		Blobs:               blobs,
		Cache:               cache,
		PermissionService:   permissions,
		QuotaLedger:         ledger,
		NotificationService: notifications,
		FileService: services.NewFileService(store, blobs, cache, permissions, ledger, services.NewImageThumbnailer(), services.FileConfig{
			MaxFileSize:       cfg.MaxFileSize,
			UploadConcurrency: cfg.UploadConcurrency,
			SignedURLTTL:      cfg.SignedURLTTL,
		}, logger),
		FolderService: services.NewFolderService(store, cache, permissions, logger),
		ShareService: services.NewShareService(store, cache, permissions, services.ShareConfig{
			DefaultTTL: cfg.DefaultShareTTL,
			MaxTTL:     cfg.MaxShareTTL,
		}, logger),
		CouponService: services.NewCouponService(store, logger),
		UserService:   services.NewUserService(store, cfg.DefaultUserQuota, logger),
		DeliveryProxy: services.NewDeliveryProxy(blobs, services.DeliveryConfig{
			ConnectTimeout:  cfg.UpstreamConnectTimeout,
			ReadIdleTimeout: cfg.UpstreamIdleTimeout,
			SignedURLTTL:    cfg.SignedURLTTL,
		}, logger, m),
	}
}

// NewRouter builds the gin engine with global middleware, health and
// metrics endpoints, and every API route group.
func NewRouter(container *ServiceContainer) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(container.Logger),
		middleware.RequestLog(container.Logger),
		middleware.CORS(container.Config.AllowedOrigins),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(container.Metrics.Handler()))

	api := router.Group("/api")
	SetupRoutesWithContainer(api, container)
	return router
}

// SetupRoutesWithContainer configures all API routes using a service container
func SetupRoutesWithContainer(api *gin.RouterGroup, container *ServiceContainer) {
	logger := container.Logger

	fileController := controllers.NewFileController(container.FileService, container.DeliveryProxy, container.Config.MaxFileSize, logger)
	folderController := controllers.NewFolderController(container.FolderService, container.PermissionService, logger)
	shareController := controllers.NewShareController(container.ShareService, container.FileService, container.DeliveryProxy, logger)
	accountController := controllers.NewAccountController(container.UserService, container.QuotaLedger, container.CouponService, logger)

	limiter := middleware.NewIPRateLimiter(container.Config.PublicRateLimit, container.Config.PublicRateBurst)
	RegisterPublicRoutes(api, middleware.RateLimit(limiter, container.Metrics), shareController)

	authed := api.Group("")
	authed.Use(
		middleware.AuthMiddleware(container.Config.JWTSecret, container.Config.JWTIssuer),
		middleware.EnsureProfile(container.UserService),
	)

	RegisterAccountRoutes(authed, accountController)
	RegisterFolderRoutes(authed, folderController)
	RegisterFileRoutes(authed, fileController)
	RegisterShareRoutes(authed, shareController)
}
