package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/miniman-dev/miniman/internal/auth"
	"github.com/miniman-dev/miniman/internal/compose"
	"github.com/miniman-dev/miniman/internal/config"
	"github.com/miniman-dev/miniman/internal/database"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/handler"
	"github.com/miniman-dev/miniman/internal/reconcile"
	"github.com/miniman-dev/miniman/internal/runtime"
	"github.com/miniman-dev/miniman/internal/service"
	"github.com/miniman-dev/miniman/internal/tasks"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize database
	db := database.Init(cfg.DBPath)

	// Docker Engine API client: health probe, stats, log following
	client, err := docker.NewClient(cfg.DockerSock)
	if err != nil {
		log.Fatalf("Failed to create Docker client: %v", err)
	}
	defer client.Close()

	// Runtime plumbing shared by every manager
	executor := runtime.NewCommandRunner()
	health := runtime.NewHealth(client.Ping)
	deps := &docker.Deps{
		Bin:    cfg.DockerBin,
		Exec:   executor,
		Health: health,
		Retry:  runtime.DefaultRetry,
		Logger: logger,
	}

	// Resource managers
	containerMgr := docker.NewContainerManager(deps, client)
	imageMgr := docker.NewImageManager(deps)
	volumeMgr := docker.NewVolumeManager(deps)
	networkMgr := docker.NewNetworkManager(deps)
	composeMgr := compose.NewManager(cfg.DockerBin, cfg.ComposeDir, executor, health, logger)

	// Shared infrastructure
	bus := events.NewBus(logger)
	spawner := tasks.NewSpawner(logger)
	reconciler := reconcile.New(db, logger)

	stackSvc := service.NewStackService(db, composeMgr, containerMgr, reconciler, bus, spawner, logger)

	// Seal operations interrupted by the previous shutdown and recompute the
	// status of stacks stranded mid-transition, before accepting new work.
	if err := stackSvc.RecoverInterrupted(); err != nil {
		log.Fatalf("Failed to recover interrupted operations: %v", err)
	}

	// Bring the resource mirrors in line with the runtime at startup.
	spawner.Spawn(func() {
		if listing, err := containerMgr.List(); err == nil {
			reconciler.Containers(listing)
		}
		if listing, err := imageMgr.List(); err == nil {
			reconciler.Images(listing)
		}
		if listing, err := volumeMgr.List(); err == nil {
			reconciler.Volumes(listing)
		}
		if listing, err := networkMgr.List(); err == nil {
			reconciler.Networks(listing)
		}
	})

	// Setup Gin
	r := gin.Default()

	// CORS — allow frontend dev server and same-origin requests
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
	}))

	// ============ API Routes ============
	api := r.Group("/api")

	// Public routes (no auth required)
	limiter := auth.NewRateLimiter(5, 900)
	authH := handler.NewAuthHandler(db, cfg, limiter)
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/setup", authH.Setup)
	api.GET("/auth/need-setup", authH.NeedSetup)

	// Protected routes (JWT required)
	protected := api.Group("")
	protected.Use(auth.Middleware(cfg.JWTSecret))

	// User info
	protected.GET("/auth/me", authH.Me)

	// Stacks
	stackH := handler.NewStackHandler(stackSvc)
	protected.GET("/stacks", stackH.List)
	protected.POST("/stacks", stackH.Create)
	protected.GET("/stacks/:id", stackH.Get)
	protected.DELETE("/stacks/:id", stackH.Delete)
	protected.GET("/stacks/:id/containers", stackH.Containers)
	protected.GET("/stacks/:id/logs", stackH.Logs)
	protected.POST("/stacks/:id/up", stackH.Up)
	protected.POST("/stacks/:id/down", stackH.Down)
	protected.POST("/stacks/:id/restart", stackH.Restart)
	protected.POST("/stacks/:id/pull", stackH.Pull)
	protected.POST("/stacks/:id/check-updates", stackH.CheckUpdates)
	protected.POST("/stacks/:id/update", stackH.UpdateDescriptor)

	// Containers
	containerH := handler.NewContainerHandler(containerMgr, client, reconciler, logger)
	protected.GET("/containers", containerH.List)
	protected.GET("/containers/:id", containerH.Inspect)
	protected.POST("/containers/:id/start", containerH.Start)
	protected.POST("/containers/:id/stop", containerH.Stop)
	protected.POST("/containers/:id/restart", containerH.Restart)
	protected.DELETE("/containers/:id", containerH.Remove)
	protected.POST("/containers/:id/exec", containerH.Exec)
	protected.GET("/containers/:id/logs", containerH.Logs)
	protected.GET("/containers/:id/logs/ws", containerH.LogsWS)
	protected.GET("/containers/:id/stats", containerH.Stats)

	// Images
	imageH := handler.NewImageHandler(imageMgr, reconciler, db, bus, spawner, logger)
	protected.GET("/images", imageH.List)
	protected.GET("/images/:id", imageH.Inspect)
	protected.POST("/images/pull", imageH.Pull)
	protected.POST("/images/build", imageH.Build)
	protected.DELETE("/images/:id", imageH.Remove)

	// Volumes
	volumeH := handler.NewVolumeHandler(volumeMgr, reconciler, logger)
	protected.GET("/volumes", volumeH.List)
	protected.GET("/volumes/:name", volumeH.Inspect)
	protected.POST("/volumes", volumeH.Create)
	protected.DELETE("/volumes/:name", volumeH.Remove)

	// Networks
	networkH := handler.NewNetworkHandler(networkMgr, reconciler, logger)
	protected.GET("/networks", networkH.List)
	protected.GET("/networks/:id", networkH.Inspect)
	protected.POST("/networks", networkH.Create)
	protected.DELETE("/networks/:id", networkH.Remove)
	protected.POST("/networks/:id/connect", networkH.Connect)
	protected.POST("/networks/:id/disconnect", networkH.Disconnect)

	// Operation log
	opH := handler.NewOperationHandler(db)
	protected.GET("/operations", opH.List)
	protected.GET("/operations/:id", opH.Get)

	// System
	sysH := handler.NewSystemHandler(client, health)
	protected.GET("/system/health", sysH.Health)
	protected.GET("/system/info", sysH.Info)

	// Live event stream
	eventsH := handler.NewEventsHandler(bus, logger)
	protected.GET("/events/ws", eventsH.Stream)

	// Start server
	addr := ":" + cfg.Port
	log.Printf("🚀 Miniman starting on http://localhost%s", addr)
	log.Printf("📁 Data directory: %s", cfg.DataDir)
	log.Printf("📦 Compose directory: %s", cfg.ComposeDir)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
