// Package main is the entry point for the sentiq sentiment research service.
// It aggregates market sentiment from upstream providers behind a TTL cache,
// enforces the shared upstream rate limit, and meters per-user access through
// a credit ledger.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentiq/sentiq/internal/cache"
	"github.com/sentiq/sentiq/internal/config"
	"github.com/sentiq/sentiq/internal/credits"
	"github.com/sentiq/sentiq/internal/database"
	"github.com/sentiq/sentiq/internal/events"
	"github.com/sentiq/sentiq/internal/fetch"
	"github.com/sentiq/sentiq/internal/providers"
	"github.com/sentiq/sentiq/internal/ratelimit"
	"github.com/sentiq/sentiq/internal/reliability"
	"github.com/sentiq/sentiq/internal/research"
	"github.com/sentiq/sentiq/internal/scheduler"
	"github.com/sentiq/sentiq/internal/server"
	"github.com/sentiq/sentiq/pkg/logger"
)

// upstreamResource names the shared rate-limit bucket every sentiment
// query draws from.
const upstreamResource = "sentiment_api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting sentiq")

	// Two databases: the credit ledger needs the maximum-safety profile
	// because balances and the transaction audit trail live together in
	// one transactional boundary. Research data is replaceable cache
	// state and runs on the standard profile.
	creditsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "credits.db"),
		Profile: database.ProfileLedger,
		Name:    "credits",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open credits database")
	}
	defer creditsDB.Close()

	researchDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "research.db"),
		Profile: database.ProfileStandard,
		Name:    "research",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open research database")
	}
	defer researchDB.Close()

	for _, db := range []*database.DB{creditsDB, researchDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	// In-memory cache, warmed from the last shutdown's snapshot.
	store := cache.NewStore()
	if cfg.CacheSnapshotPath != "" {
		loaded, err := store.LoadSnapshot(cfg.CacheSnapshotPath)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load cache snapshot, starting cold")
		} else if loaded > 0 {
			log.Info().Int("entries", loaded).Msg("Cache warmed from snapshot")
		}
	}

	limiter := ratelimit.New(log)
	limiter.Register(upstreamResource, cfg.UpstreamRateLimit, cfg.UpstreamRateWindow)

	orchestrator := fetch.New(store, limiter, log)
	bus := events.NewBus(log)
	ledger := credits.NewLedger(creditsDB.Conn(), log)
	sessions := research.NewSessionRepository(researchDB.Conn(), log)
	data := research.NewDataRepository(researchDB.Conn(), log)

	// Provider chain: primary, optional secondary, then a placeholder so
	// total upstream failure still yields a well-formed response.
	chainProviders := []providers.Provider{
		providers.NewHTTPProvider("primary", cfg.PrimaryProviderURL, cfg.ProviderTimeout, log),
	}
	if cfg.SecondaryProviderURL != "" {
		chainProviders = append(chainProviders,
			providers.NewHTTPProvider("secondary", cfg.SecondaryProviderURL, cfg.ProviderTimeout, log))
	}
	chainProviders = append(chainProviders, providers.NewPlaceholderProvider())
	chain := providers.NewChain(log, chainProviders...)

	fetcher := research.NewOrchestratedFetcher(chain, orchestrator, upstreamResource)
	service := research.NewService(sessions, data, ledger, fetcher, bus, log)

	// Background jobs
	sched := scheduler.New(log)
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"0 */5 * * * *", scheduler.NewCacheSweepJob(store, bus, log)},
		{"@daily", research.NewCleanupJob(sessions, data, bus, log)},
		{"0 0 2 * * *", reliability.NewMaintenanceJob(
			map[string]*database.DB{"credits": creditsDB, "research": researchDB},
			cfg.DataDir, log)},
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(
			cfg.Backup.Endpoint,
			cfg.Backup.AccessKey,
			cfg.Backup.SecretKey,
			cfg.Backup.Bucket,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		backupService := reliability.NewBackupService(
			s3Client,
			map[string]*database.DB{"credits": creditsDB, "research": researchDB},
			cfg.DataDir,
			bus,
			log,
		)
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{"0 0 3 * * *", reliability.NewBackupJob(backupService, cfg.Backup.RetentionDays, log)})
	} else {
		log.Info().Msg("Offsite backup disabled (no S3 settings)")
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Fatal().Err(err).Str("job", j.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		CreditsDB:    creditsDB,
		ResearchDB:   researchDB,
		Service:      service,
		Ledger:       ledger,
		Orchestrator: orchestrator,
		EventBus:     bus,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Persist the cache so the next start is warm.
	if cfg.CacheSnapshotPath != "" {
		if err := store.WriteSnapshot(cfg.CacheSnapshotPath); err != nil {
			log.Error().Err(err).Msg("Failed to write cache snapshot")
		} else {
			log.Info().Int("entries", store.Len()).Msg("Cache snapshot written")
		}
	}

	log.Info().Msg("Server stopped")
}
