package app

import (
	"context"
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/controller"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/service"
	"coursegen_backend/pkg/configwatcher"
	"coursegen_backend/pkg/database"
	"coursegen_backend/pkg/logger"
	"coursegen_backend/pkg/monitoring"
	"coursegen_backend/pkg/security"
	"coursegen_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []configwatcher.ConfigReloader
}

type repositories struct {
	user       *repository.UserRepository
	course     *repository.CourseRepository
	enrollment *repository.EnrollmentRepository
}

type services struct {
	auth        *service.AuthService
	storage     *service.StorageService
	ai          *service.AIService
	documents   *service.DocumentService
	progress    service.ProgressTracker
	enrollment  *service.EnrollmentService
	course      *service.CourseService
	assessment  *service.AssessmentService
	maintenance *service.MaintenanceService
}

type controllers struct {
	auth       *controller.AuthController
	course     *controller.CourseController
	assessment *controller.AssessmentController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:       repository.NewUserRepository(db),
		course:     repository.NewCourseRepository(db),
		enrollment: repository.NewEnrollmentRepository(db),
	}
}

// initServices generator 为 nil 时使用配置中的模型端点
func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client, generator service.ContentGenerator) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.documents = service.NewDocumentService()

	if generator == nil {
		s.ai = service.NewAIService(cfg.AI)
		generator = s.ai
		a.RegisterConfigCallback(func(newCfg *config.Config) {
			s.ai.UpdateConfig(newCfg.AI)
		})
	}

	if rdb != nil {
		lockTTL := time.Duration(cfg.Course.GenerationLockMinutes) * time.Minute
		s.progress = service.NewRedisProgressTracker(rdb, lockTTL)
	} else {
		s.progress = service.NewMemoryProgressTracker()
	}

	s.enrollment = service.NewEnrollmentService(db, repos.enrollment, repos.course)
	s.course = service.NewCourseService(
		db,
		repos.course,
		repos.enrollment,
		s.enrollment,
		generator,
		s.documents,
		s.storage,
		s.progress,
		cfg,
	)
	s.assessment = service.NewAssessmentService(
		db,
		repos.course,
		repos.enrollment,
		repos.user,
		s.enrollment,
		service.NewNotifier(cfg.Mail),
		cfg.Course.EnforceChapterLock,
	)
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.assessment.SetChapterLockEnforced(newCfg.Course.EnforceChapterLock)
	})

	s.maintenance = service.NewMaintenanceService(s.course)

	return s
}

func (a *App) initControllers(s *services, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		course:     controller.NewCourseController(s.course, s.enrollment, cfg),
		assessment: controller.NewAssessmentController(s.assessment),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute, security.ByClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	migrate := cfg.Server.Mode != "release" || cfg.ForceMigrate
	db, err := database.InitDB(&cfg.Database, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
	} else {
		logger.Log.Info("Redis disabled, using in-process generation progress")
	}

	app := build(cfg, db, rdb, nil)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("coursegen", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	if cfg.BackfillOnly {
		return app
	}
	if err := app.services.maintenance.Start(cfg.Course.BackfillCron); err != nil {
		logger.Log.Error("Failed to schedule quiz backfill", zap.Error(err))
	}

	return app
}

// Backfill 手动执行一次测验补建，不依赖定时任务
func (a *App) Backfill() {
	a.services.maintenance.RunBackfill()
}

// build 组装依赖与路由，不做任何外部连接
func build(cfg *config.Config, db *gorm.DB, rdb *redis.Client, generator service.ContentGenerator) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, db, rdb, generator)
	ctrls := app.initControllers(app.services, cfg, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.Mode != "release" {
		router.Use(gin.Logger())
	}
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, ctrls, cfg)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		dir := a.Config.ConfigDir
		if dir == "" {
			dir = "configs"
		}
		path := filepath.Join(dir, "config.yaml")
		if err := configwatcher.WatchConfig(watchCtx, path, a.configCallbacks...); err != nil {
			logger.Log.Warn("Config hot reload disabled", zap.String("path", path), zap.Error(err))
		}
	}()

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 生成请求可能持续数分钟，给足收尾时间
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	a.services.maintenance.Stop()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	log.Println("Server exiting")
}
