package service

import (
	"context"
	"coursegen_backend/pkg/logger"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const backfillTimeout = 10 * time.Minute

// MaintenanceService 定时任务
type MaintenanceService struct {
	Courses *CourseService
	cron    *cron.Cron
}

func NewMaintenanceService(courses *CourseService) *MaintenanceService {
	return &MaintenanceService{
		Courses: courses,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start 注册补建测验任务；schedule 为空时不启用
func (s *MaintenanceService) Start(schedule string) error {
	if schedule == "" {
		logger.Log.Info("Quiz backfill sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, s.RunBackfill); err != nil {
		return err
	}
	s.cron.Start()
	logger.Log.Info("Quiz backfill sweep scheduled", zap.String("schedule", schedule))
	return nil
}

func (s *MaintenanceService) RunBackfill() {
	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.Courses.BackfillMissingQuizzes(ctx)
	if err != nil {
		logger.Log.Error("Quiz backfill sweep failed", zap.Int("created", n), zap.Error(err))
		return
	}
	logger.Log.Info("Quiz backfill sweep finished", zap.Int("created", n), zap.Duration("duration", time.Since(start)))
}

// Stop 等待运行中的任务结束
func (s *MaintenanceService) Stop() {
	<-s.cron.Stop().Done()
}
