package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studio-ops-api/api/swagger"
	"github.com/noah-isme/studio-ops-api/internal/handler"
	internalmiddleware "github.com/noah-isme/studio-ops-api/internal/middleware"
	"github.com/noah-isme/studio-ops-api/internal/repository"
	"github.com/noah-isme/studio-ops-api/internal/service"
	"github.com/noah-isme/studio-ops-api/pkg/cache"
	"github.com/noah-isme/studio-ops-api/pkg/config"
	"github.com/noah-isme/studio-ops-api/pkg/database"
	"github.com/noah-isme/studio-ops-api/pkg/jobs"
	"github.com/noah-isme/studio-ops-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studio-ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studio-ops-api/pkg/middleware/requestid"
)

// @title Studio Ops API
// @version 1.0.0
// @description Class scheduling, rosters, attendance and drop-in bookings for studios.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Calendar.CacheEnabled || cfg.Notifications.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := service.NewValidator()

	classRepo := repository.NewClassInstanceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "studio-ops", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Calendar.CacheTTL, logr, cfg.Calendar.CacheEnabled && redisClient != nil)

	var notifications *service.NotificationService
	queue := jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		return notifications.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnDrop:     func(job jobs.Job, err error) { notifications.OnDrop(job, err) },
	})
	var publisher service.NotificationPublisher
	if redisClient != nil {
		publisher = repository.NewNotificationPublisher(redisClient, cfg.Notifications.Channel)
	}
	notifications = service.NewNotificationService(queue, publisher, metrics, logr, cfg.Notifications.Enabled)
	queue.Start(ctx)

	clock := service.StudioClock(cfg.Studio.Location())
	enrollmentSvc := service.NewEnrollmentService(classRepo, enrollmentRepo, notifications, auditRepo, metrics, validate, logr)
	scheduleSvc := service.NewClassScheduleService(classRepo, enrollmentSvc, cacheSvc, notifications, auditRepo, metrics,
		service.ClassScheduleConfig{Clock: clock, MaxRecurrenceWeeks: cfg.Studio.MaxRecurrenceWeeks}, validate, logr)
	attendanceSvc := service.NewAttendanceService(classRepo, attendanceRepo, classRepo, notifications, auditRepo,
		service.AttendanceConfig{Deadline: cfg.Attendance.Deadline, Clock: clock}, validate, logr)
	capacitySvc := service.NewCapacityService(classRepo, cacheSvc, notifications, metrics, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), tokenSvc, handler.Handlers{
		Classes:    handler.NewClassHandler(scheduleSvc),
		Roster:     handler.NewRosterHandler(enrollmentSvc),
		Attendance: handler.NewAttendanceHandler(attendanceSvc),
		Bookings:   handler.NewBookingHandler(capacitySvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	queue.Stop(shutdownCtx)
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
