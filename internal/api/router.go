package api

import (
	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/middleware"
	"github.com/soaringjerry/Praxis/internal/services"
	"github.com/soaringjerry/Praxis/internal/utils"
)

type RouterConfig struct {
	Services *services.Services
	Log      *logger.Logger
	// Auth guards the authoring API; nil or an empty secret leaves it open.
	Auth         *middleware.Auth
	AllowOrigins []string
	// MediaDir, when set, is served under /media with long-lived caching.
	MediaDir  string
	Commit    string
	BuildTime string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = middleware.NewAuth("")
	}
	h := &handlers{svc: cfg.Services, log: log.With("component", "api"), commit: cfg.Commit, buildTime: cfg.BuildTime}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.CORS(cfg.AllowOrigins))
	r.Use(middleware.Locale(utils.Locales))
	r.Use(auth.WithAuth())

	r.GET("/healthz", h.health)
	r.GET("/version", h.version)

	authoring := r.Group("/api", middleware.NoStore(), auth.RequireAuth())
	{
		authoring.POST("/assets", h.registerAsset)
		authoring.GET("/assets", h.listAssets)
		authoring.GET("/assets/:id", h.getAsset)
		authoring.DELETE("/assets/:id", h.deleteAsset)

		authoring.POST("/modules", h.createModule)
		authoring.GET("/modules", h.listModules)
		authoring.GET("/modules/:id", h.getModule)
		authoring.GET("/modules/:id/document", h.getDocument)
		authoring.PATCH("/modules/:id", h.updateModule)
		authoring.POST("/modules/:id/rename", h.renameModule)
		authoring.DELETE("/modules/:id", h.deleteModule)

		authoring.POST("/modules/:id/tasks", h.createTask)
		authoring.GET("/modules/:id/tasks", h.listTasks)
		authoring.PUT("/modules/:id/tasks/order", h.reorderTasks)

		authoring.POST("/modules/:id/validate", h.validateModule)
		authoring.POST("/modules/:id/publish", h.publishModule)
		authoring.GET("/modules/:id/versions", h.listVersions)
		authoring.POST("/modules/:id/prune", h.pruneVersions)

		authoring.GET("/tasks/:id", h.getTask)
		authoring.PATCH("/tasks/:id", h.updateTask)
		authoring.DELETE("/tasks/:id", h.deleteTask)
		authoring.GET("/tasks/:id/neighbor", h.neighbor)
		authoring.POST("/tasks/:id/steps", h.createStep)
		authoring.GET("/tasks/:id/steps", h.listSteps)
		authoring.PUT("/tasks/:id/steps/order", h.reorderSteps)

		authoring.GET("/steps/:id", h.getStep)
		authoring.PATCH("/steps/:id", h.patchStep)
		authoring.DELETE("/steps/:id", h.deleteStep)
	}

	runtime := r.Group("/runtime")
	{
		runtime.GET("/catalog", h.catalog)
		runtime.GET("/modules/:id/latest", middleware.NoStore(), h.latestSnapshot)
		runtime.GET("/modules/:id/versions/:version", middleware.Immutable(), h.snapshotVersion)
		runtime.POST("/modules/:id/resolve", h.resolve)
	}

	if cfg.MediaDir != "" {
		media := r.Group("/media", middleware.Immutable())
		media.Static("/", cfg.MediaDir)
	}
	return r
}
