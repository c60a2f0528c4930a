package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/avandra/go-toggl-backend/internal/api/handlers"
	"github.com/avandra/go-toggl-backend/internal/config"
	"github.com/avandra/go-toggl-backend/internal/middleware"
	"github.com/avandra/go-toggl-backend/internal/repository"
	"github.com/avandra/go-toggl-backend/internal/service"
	"github.com/avandra/go-toggl-backend/internal/toggl"
)

func main() {

	// LOAD ENV
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed load config:", err)
	}

	// INIT DB
	repo, err := newRepo(cfg)
	if err != nil {
		log.Fatal("failed connecting to database:", err)
	}

	// MIGRATIONS
	if err := repo.RunMigrations(context.Background()); err != nil {
		log.Fatal("migration error:", err)
	}

	// ADMIN SEED
	hashed, _ := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err := repo.UpsertAdmin(context.Background(), cfg.AdminUsername, string(hashed)); err != nil {
		log.Println("failed seeding admin:", err)
	} else {
		log.Println("admin seeded OK")
	}

	// TOGGL CLIENT
	transport, err := newTransport(cfg)
	if err != nil {
		log.Fatal("failed building toggl transport:", err)
	}
	togglClient := toggl.NewClient(transport)

	// SERVICES
	syncService := service.NewSyncService(repo, togglClient)
	settingService := service.NewSettingService(repo)
	authService := service.NewAuthService(repo, cfg.JWTSecret)

	// HANDLERS
	authHandler := handlers.NewAuthHandler(authService)
	syncHandler := handlers.NewSyncHandler(syncService, settingService, cfg)

	// SCHEDULER
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go service.NewScheduler(syncService, settingService).Run(schedCtx)

	// ROUTER
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	api := r.Group("/api/v1")

	// AUTH ROUTES
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
	}

	// SYNC ROUTES
	sync := api.Group("/sync")
	sync.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		sync.POST("/start", syncHandler.StartSync)
		sync.GET("/status/:workspace_id", syncHandler.GetStatus)
		sync.GET("/logs/:workspace_id", syncHandler.GetLogs)
		sync.GET("/summary/:workspace_id", syncHandler.GetSummary)
		sync.GET("/recommendation/:workspace_id", syncHandler.GetRecommendation)
		sync.POST("/historical/:workspace_id", syncHandler.HistoricalSync)
		sync.POST("/historical/:workspace_id/safe", syncHandler.SafeHistoricalSync)
		sync.GET("/historical/:workspace_id/progress", syncHandler.HistoricalProgress)
		sync.POST("/cleanup/:workspace_id", syncHandler.Cleanup)
		sync.PUT("/settings/:workspace_id", syncHandler.UpdateSetting)
		sync.GET("/test-connection", syncHandler.TestConnection)
	}

	// START SERVER
	log.Println("Server running on port:", cfg.Port)
	r.Run(":" + cfg.Port)
}

func newRepo(cfg *config.Config) (*repository.PostgresRepo, error) {
	if cfg.DatabaseURL != "" {
		return repository.NewPostgresRepo(cfg.DatabaseURL)
	}
	return repository.NewPostgresRepoFromConfig(&repository.DBConfig{
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Name: cfg.DBName,
	})
}

func newTransport(cfg *config.Config) (*toggl.Transport, error) {
	if cfg.TogglAPIToken != "" {
		return toggl.NewTransport(cfg.TogglAPIToken)
	}
	return toggl.NewTransportWithBasicAuth(cfg.TogglEmail, cfg.TogglPassword)
}
