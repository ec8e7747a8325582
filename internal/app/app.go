package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/config"
	"github.com/mx-space/distill/internal/database"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/modules/extraction"
	"github.com/mx-space/distill/internal/modules/processing/ai"
	"github.com/mx-space/distill/internal/modules/settings"
	"github.com/mx-space/distill/internal/modules/source"
	pkgcron "github.com/mx-space/distill/internal/pkg/cron"
	jwtpkg "github.com/mx-space/distill/internal/pkg/jwt"
	"github.com/mx-space/distill/internal/pkg/objectstore"
	"github.com/mx-space/distill/internal/pkg/quota"
	pkgredis "github.com/mx-space/distill/internal/pkg/redis"
	"github.com/mx-space/distill/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler

	verifier *jwtpkg.Verifier

	settings *settings.Service
	store    *extraction.Store
	limiter  *quota.Limiter
	service  *extraction.Service
	tasks    *extraction.Tasks
	engines  extraction.EngineSource
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := applyTimezone(cfg.Timezone); err != nil {
		return nil, err
	}
	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))
	if cfg.RateLimitPerSecond > 0 {
		router.Use(middleware.RateLimit(rc.Raw(), cfg.RateLimitPerSecond, logger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, router: router, db: db, rc: rc, logger: logger, cancel: cancel, verifier: verifier}
	if err := a.wire(); err != nil {
		cancel()
		return nil, err
	}

	a.sched = pkgcron.New(logger)
	registerCronJobs(a.sched, a)
	a.sched.Start(ctx)

	a.registerRoutes()
	return a, nil
}

// wire builds the extraction pipeline from its collaborators.
func (a *App) wire() error {
	cfg := a.cfg
	httpClient := &http.Client{Timeout: cfg.Source.FetchTimeout}

	a.settings = settings.NewService(a.db, cfg.AI, a.logger)
	a.store = extraction.NewStore(a.db)
	a.limiter = quota.NewLimiter(a.rc, cfg.Quota.Limit, cfg.Quota.Window)

	youtube := source.NewYouTube(cfg.Source, httpClient)
	web := source.NewWebFetcher(cfg.Source, httpClient)
	resolver := source.NewResolver(a.store, youtube, web, cfg.Source, cfg.Extraction.MaxContentChars,
		source.WithLogger(a.logger),
		source.WithTranscriptBackoff(cfg.Extraction.BackoffBase, cfg.Extraction.BackoffMax),
	)

	a.engines = extraction.NewEngineSource(a.settings.AI, cfg.Extraction, a.logger)
	writer := extraction.NewWriter(a.store, ai.NewPricing(cfg.AI.Pricing), a.logger)

	opts := []extraction.Option{
		extraction.WithLogger(a.logger),
		extraction.WithPreviewer(youtube),
	}
	if cfg.Archive.Enabled {
		archive, err := objectstore.New(cfg.Archive)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		opts = append(opts, extraction.WithArchiver(archive))
	}
	a.service = extraction.NewService(a.store, a.limiter, resolver, a.engines, writer, cfg.Extraction, opts...)
	a.tasks = extraction.NewTasks(taskqueue.NewService(a.rc), a.logger)
	return nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the scheduler, cancels running tasks and closes the
// connection pools.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()
	a.sched.Wait()
	err := a.tasks.Shutdown(ctx)
	if cerr := a.rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if sqlDB, derr := a.db.DB(); derr == nil {
		if cerr := sqlDB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

var processStart = time.Now()
