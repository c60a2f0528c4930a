// Command autosync runs one unattended catch-up pass and exits. It is the
// cron-friendly alternative to the in-process scheduler: point cron at it
// hourly and it syncs every auto-sync workspace whose configured hour is now.
package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/avandra/go-toggl-backend/internal/config"
	"github.com/avandra/go-toggl-backend/internal/repository"
	"github.com/avandra/go-toggl-backend/internal/service"
	"github.com/avandra/go-toggl-backend/internal/toggl"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed load config:", err)
	}

	repo, err := newRepo(cfg)
	if err != nil {
		log.Fatal("failed connecting to database:", err)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		log.Fatal("failed building toggl transport:", err)
	}

	syncService := service.NewSyncService(repo, toggl.NewClient(transport))
	settingService := service.NewSettingService(repo)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Minute)
	defer cancel()

	ids, err := settingService.AutoSyncWorkspaces(ctx)
	if err != nil {
		log.Fatal("failed listing auto-sync workspaces:", err)
	}
	if len(ids) == 0 {
		log.Println("autosync: no workspaces enabled, nothing to do")
		return
	}

	hour := time.Now().Hour()
	for _, id := range ids {
		configured, err := settingService.AutoSyncHour(ctx, id)
		if err != nil {
			log.Printf("autosync: workspace %d: %v", id, err)
			continue
		}
		if configured != hour {
			continue
		}
		syncLog, err := syncService.RunAutomaticDailySync(ctx, id)
		switch {
		case err != nil:
			log.Printf("autosync: workspace %d failed: %v", id, err)
		case syncLog == nil:
			log.Printf("autosync: workspace %d already synced today or skipped", id)
		default:
			log.Printf("autosync: workspace %d synced, %d records (%d added, %d updated)",
				id, syncLog.RecordsProcessed, syncLog.RecordsAdded, syncLog.RecordsUpdated)
		}
	}
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
