// Command attendance-sweep reminds teachers about classes whose attendance was
// never taken. It runs once per invocation and is meant to be scheduled by cron.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-ops-api/internal/repository"
	"github.com/noah-isme/studio-ops-api/internal/service"
	"github.com/noah-isme/studio-ops-api/pkg/cache"
	"github.com/noah-isme/studio-ops-api/pkg/config"
	"github.com/noah-isme/studio-ops-api/pkg/database"
	"github.com/noah-isme/studio-ops-api/pkg/logger"
)

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
	logr = logr.With(zap.String("command", "attendance-sweep"))

	if !cfg.Notifications.Enabled {
		logr.Warn("notifications disabled, nothing to send")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	metrics := service.NewMetricsService()
	publisher := repository.NewNotificationPublisher(redisClient, cfg.Notifications.Channel)
	notifications := service.NewNotificationService(nil, publisher, metrics, logr, true)

	classRepo := repository.NewClassInstanceRepository(db)
	attendanceSvc := service.NewAttendanceService(
		classRepo,
		repository.NewAttendanceRepository(db),
		classRepo,
		notifications,
		nil,
		service.AttendanceConfig{Deadline: cfg.Attendance.Deadline, Clock: service.StudioClock(cfg.Studio.Location())},
		nil,
		logr,
	)

	reminded, err := attendanceSvc.SweepOverdue(ctx)
	if err != nil {
		logr.Fatal("attendance sweep failed", zap.Error(err))
	}
	logr.Info("attendance sweep finished", zap.Int("reminded", reminded), zap.Duration("deadline", cfg.Attendance.Deadline))
}
