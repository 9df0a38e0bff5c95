package service

import (
	"context"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/util"
	"coursegen_backend/pkg/logger"
	"coursegen_backend/pkg/monitoring"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	kindChapterQuiz = "chapter_quiz"
	kindFinalExam   = "final_exam"

	notifyTimeout = 30 * time.Second
)

// AssessmentService 评分并通过 EnrollmentService 记录结果
type AssessmentService struct {
	DB          *gorm.DB
	CourseRepo  *repository.CourseRepository
	EnrollRepo  *repository.EnrollmentRepository
	UserRepo    *repository.UserRepository
	Enrollments *EnrollmentService
	Notifier    Notifier

	enforceLock atomic.Bool
}

func NewAssessmentService(
	db *gorm.DB,
	courseRepo *repository.CourseRepository,
	enrollRepo *repository.EnrollmentRepository,
	userRepo *repository.UserRepository,
	enrollments *EnrollmentService,
	notifier Notifier,
	enforceChapterLock bool,
) *AssessmentService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	s := &AssessmentService{
		DB:          db,
		CourseRepo:  courseRepo,
		EnrollRepo:  enrollRepo,
		UserRepo:    userRepo,
		Enrollments: enrollments,
		Notifier:    notifier,
	}
	s.enforceLock.Store(enforceChapterLock)
	return s
}

// SetChapterLockEnforced 配置热更新时调用
func (s *AssessmentService) SetChapterLockEnforced(enforce bool) {
	s.enforceLock.Store(enforce)
}

func (s *AssessmentService) ChapterLockEnforced() bool {
	return s.enforceLock.Load()
}

func (s *AssessmentService) SubmitChapterQuiz(ctx context.Context, userID, chapterID uint, rawAnswers json.RawMessage) (*GradeResult, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	answers, err := ParseAnswers(rawAnswers)
	if err != nil {
		return nil, err
	}

	chapter, err := s.CourseRepo.FindChapterByID(chapterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundf("chapter %d", chapterID)
		}
		return nil, err
	}
	quiz, err := s.CourseRepo.FindQuizByChapter(chapter.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundf("quiz for chapter %d", chapterID)
		}
		return nil, err
	}

	result := Grade(quiz.Questions, answers)

	var completedNow bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollment, err := s.Enrollments.LockTx(tx, userID, chapter.CourseID)
		if err != nil {
			return err
		}

		if s.ChapterLockEnforced() {
			chapters, err := s.CourseRepo.WithTx(tx).FindChaptersByCourse(chapter.CourseID)
			if err != nil {
				return err
			}
			if !IsChapterUnlocked(chapters, enrollment.CompletedChapterIDs(), chapter.ID) {
				return util.ErrChapterLocked
			}
		}

		completedNow, err = s.Enrollments.RecordChapterResult(tx, enrollment, chapter.ID, result.Score, result.Passed)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.ObserveSubmission(kindChapterQuiz, result.Passed)
	logger.Log.Info("Chapter quiz graded",
		zap.Uint("user_id", userID),
		zap.Uint("chapter_id", chapter.ID),
		zap.Int("score", result.Score),
		zap.Bool("passed", result.Passed))

	if completedNow {
		s.notifyCompleted(userID, chapter.CourseID)
	}
	return &result, nil
}

type ExamView struct {
	ID        uint           `json:"id"`
	Questions []QuestionView `json:"questions"`
}

// GetExam 返回去掉答案的试题
func (s *AssessmentService) GetExam(userID, courseID uint) (*ExamView, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	if _, err := s.EnrollRepo.FindByUserAndCourse(userID, courseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotEnrolled
		}
		return nil, err
	}

	exam, err := s.CourseRepo.FindExamByCourse(courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundf("exam for course %d", courseID)
		}
		return nil, err
	}
	return &ExamView{ID: exam.ID, Questions: RedactQuestions(exam.Questions)}, nil
}

func (s *AssessmentService) SubmitFinalExam(ctx context.Context, userID, courseID uint, rawAnswers json.RawMessage) (*GradeResult, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	answers, err := ParseAnswers(rawAnswers)
	if err != nil {
		return nil, err
	}

	var (
		result       GradeResult
		completedNow bool
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollment, err := s.Enrollments.LockTx(tx, userID, courseID)
		if err != nil {
			return err
		}

		exam, err := s.CourseRepo.WithTx(tx).FindExamByCourse(courseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.NotFoundf("exam for course %d", courseID)
			}
			return err
		}

		result = Grade(exam.Questions, answers)
		completedNow, err = s.Enrollments.RecordExamResult(tx, enrollment, result.Score, result.Passed)
		return err
	})
	if err != nil {
		return nil, err
	}

	monitoring.ObserveSubmission(kindFinalExam, result.Passed)
	logger.Log.Info("Final exam graded",
		zap.Uint("user_id", userID),
		zap.Uint("course_id", courseID),
		zap.Int("score", result.Score),
		zap.Bool("passed", result.Passed))

	if completedNow {
		s.notifyCompleted(userID, courseID)
	}
	return &result, nil
}

// notifyCompleted 提交成功后异步发送，失败只记录
func (s *AssessmentService) notifyCompleted(userID, courseID uint) {
	user, err := s.UserRepo.FindByID(userID)
	if err != nil {
		logger.Log.Warn("Skip completion notice: user lookup failed", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	course, err := s.CourseRepo.FindCourseByID(courseID)
	if err != nil {
		logger.Log.Warn("Skip completion notice: course lookup failed", zap.Uint("course_id", courseID), zap.Error(err))
		return
	}

	go func(user *model.User, course *model.Course) {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.Notifier.CourseCompleted(ctx, user, course); err != nil {
			logger.Log.Error("Failed to send completion notice",
				zap.Uint("user_id", user.ID),
				zap.Uint("course_id", course.ID),
				zap.Error(err))
		}
	}(user, course)
}
