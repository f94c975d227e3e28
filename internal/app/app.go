package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/controller"
	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/repository"
	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/pkg/database"
	"xapi_sync_backend/pkg/logger"
	"xapi_sync_backend/pkg/monitoring"
	"xapi_sync_backend/pkg/network"
	"xapi_sync_backend/pkg/security"
	"xapi_sync_backend/pkg/tracing"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	services *services

	syncCancel context.CancelFunc
}

type services struct {
	lrs       *service.HTTPLRSService
	validator *service.StatementValidator
	queue     *service.StatementQueue
	resolver  *service.ConflictResolver
	processor *service.StatementProcessor
	manager   *service.SyncManager
	hub       *service.SyncHub
	netmon    *network.PollingMonitor
}

type repositories struct {
	statement *repository.StatementRepository
}

type controllers struct {
	statement *controller.StatementController
	sync      *controller.SyncController
	session   *controller.SessionController
	state     *controller.StateController
	health    *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		statement: repository.NewStatementRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.lrs = service.NewHTTPLRSService(cfg)
	s.validator = service.NewStatementValidator()
	s.queue = service.NewStatementQueue(cfg.Sync.QueueMaxSize)
	s.resolver = service.NewConflictResolver(model.StrategyLastWriteWins, cfg.Sync.ConflictLogSize)
	s.processor = service.NewStatementProcessor(s.lrs, s.validator, cfg.Sync.MaxRetryAttempts)
	s.netmon = network.NewPollingMonitor(cfg.Network.ProbeTarget, cfg.Network.ProbeInterval, cfg.Network.ProbeTimeout)
	s.manager = service.NewSyncManager(cfg, repos.statement, s.processor, s.resolver, s.netmon)
	s.manager.SetLowPowerMode(cfg.Sync.LowPower)

	s.hub = service.NewSyncHub()
	s.hub.Attach(s.manager, s.processor, s.queue)
	go s.hub.Run()

	return s
}

func (a *App) initControllers(s *services, repos *repositories) *controllers {
	return &controllers{
		statement: controller.NewStatementController(repos.statement, s.queue, s.validator, s.resolver),
		sync:      controller.NewSyncController(s.manager, s.hub),
		session:   controller.NewSessionController(s.lrs),
		state:     controller.NewStateController(s.lrs),
		health:    controller.NewHealthController(s.lrs, s.netmon),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(func(c *gin.Context) {
		c.Set("config", cfg)
		c.Next()
	})
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	ctx, cancel := context.WithCancel(context.Background())
	a.syncCancel = cancel

	s.netmon.Start(ctx)
	go s.manager.Run(ctx)
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, repos)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("xapi-sync-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.RegisterShutdownHook(func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
			}
		})
	}

	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services)

	return app
}

// ApplyConfig 配置热加载时生效的动态项
func (a *App) ApplyConfig(newCfg *config.Config) {
	if a.services == nil {
		return
	}
	a.services.manager.SetLowPowerMode(newCfg.Sync.LowPower)
	logger.Log.Info("applied reloaded sync settings",
		zap.Bool("lowPower", newCfg.Sync.LowPower),
	)
}

var shutdownHooks []func()

func (a *App) RegisterShutdownHook(fn func()) {
	shutdownHooks = append(shutdownHooks, fn)
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if a.syncCancel != nil {
		a.syncCancel()
	}
	if a.services != nil {
		a.services.manager.Stop()
		a.services.hub.Stop()
		a.services.netmon.Stop()
	}
	for _, fn := range shutdownHooks {
		fn()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
