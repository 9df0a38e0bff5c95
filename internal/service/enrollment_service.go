package service

import (
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/util"
	"errors"
	"time"

	"gorm.io/gorm"
)

// EnrollmentService 是 Enrollment 记录的唯一写入方
type EnrollmentService struct {
	DB         *gorm.DB
	Repo       *repository.EnrollmentRepository
	CourseRepo *repository.CourseRepository
}

func NewEnrollmentService(db *gorm.DB, repo *repository.EnrollmentRepository, courseRepo *repository.CourseRepository) *EnrollmentService {
	return &EnrollmentService{DB: db, Repo: repo, CourseRepo: courseRepo}
}

func (s *EnrollmentService) Enroll(userID, courseID uint) (*model.Enrollment, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	if _, err := s.CourseRepo.FindCourseByID(courseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.NotFoundf("course %d", courseID)
		}
		return nil, err
	}

	var enrollment *model.Enrollment
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		enrollment, err = s.EnrollTx(tx, userID, courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// EnrollTx 在调用方事务内创建或复用报名；not_started 推进为 in_progress
func (s *EnrollmentService) EnrollTx(tx *gorm.DB, userID, courseID uint) (*model.Enrollment, error) {
	repo := s.Repo.WithTx(tx)

	enrollment := &model.Enrollment{
		UserID:   userID,
		CourseID: courseID,
		Status:   model.StatusInProgress,
	}
	inserted, err := repo.CreateIfAbsent(enrollment)
	if err != nil {
		return nil, err
	}
	if inserted {
		enrollment.ChapterResults = []model.ChapterQuizResult{}
		enrollment.ExamResults = []model.FinalExamResult{}
		enrollment.CompletedChapters = []uint{}
		return enrollment, nil
	}

	existing, err := repo.FindForUpdate(userID, courseID)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.StatusNotStarted {
		existing.Status = model.StatusInProgress
		if err := repo.UpdateState(existing); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// LockTx 行锁读取报名记录，不存在返回 ErrNotEnrolled
func (s *EnrollmentService) LockTx(tx *gorm.DB, userID, courseID uint) (*model.Enrollment, error) {
	enrollment, err := s.Repo.WithTx(tx).FindForUpdate(userID, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNotEnrolled
		}
		return nil, err
	}
	return enrollment, nil
}

// RecordChapterResult 覆盖该章节的最新成绩并重算状态，返回本次是否转为 completed
func (s *EnrollmentService) RecordChapterResult(tx *gorm.DB, enrollment *model.Enrollment, chapterID uint, score int, passed bool) (bool, error) {
	total, err := s.CourseRepo.WithTx(tx).CountChapters(enrollment.CourseID)
	if err != nil {
		return false, err
	}

	prev := enrollment.Status
	result, completedNow := applyChapterResult(enrollment, chapterID, score, passed, int(total), time.Now())

	repo := s.Repo.WithTx(tx)
	if err := repo.SaveChapterResult(result); err != nil {
		return false, err
	}
	if enrollment.Status != prev {
		if err := repo.UpdateState(enrollment); err != nil {
			return false, err
		}
	}
	return completedNow, nil
}

// RecordExamResult 追加一次考试记录，通过即 completed
func (s *EnrollmentService) RecordExamResult(tx *gorm.DB, enrollment *model.Enrollment, score int, passed bool) (bool, error) {
	prev := enrollment.Status
	result, completedNow := applyExamResult(enrollment, score, passed, time.Now())

	repo := s.Repo.WithTx(tx)
	if err := repo.CreateExamResult(result); err != nil {
		return false, err
	}
	if enrollment.Status != prev {
		if err := repo.UpdateState(enrollment); err != nil {
			return false, err
		}
	}
	return completedNow, nil
}

func applyChapterResult(e *model.Enrollment, chapterID uint, score int, passed bool, totalChapters int, now time.Time) (*model.ChapterQuizResult, bool) {
	idx := -1
	for i := range e.ChapterResults {
		if e.ChapterResults[i].ChapterID == chapterID {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.ChapterResults = append(e.ChapterResults, model.ChapterQuizResult{
			EnrollmentID: e.ID,
			ChapterID:    chapterID,
		})
		idx = len(e.ChapterResults) - 1
	}

	result := &e.ChapterResults[idx]
	result.Score = score
	result.Passed = passed
	result.Attempts++
	if passed {
		result.Completed = true
	}
	e.CompletedChapters = e.CompletedChapterIDs()

	if len(e.CompletedChapters) >= totalChapters {
		return result, markCompleted(e, now)
	}
	if e.Status == model.StatusNotStarted {
		e.Status = model.StatusInProgress
	}
	return result, false
}

func applyExamResult(e *model.Enrollment, score int, passed bool, now time.Time) (*model.FinalExamResult, bool) {
	e.ExamResults = append(e.ExamResults, model.FinalExamResult{
		EnrollmentID: e.ID,
		Attempt:      len(e.ExamResults) + 1,
		Score:        score,
		Passed:       passed,
	})
	result := &e.ExamResults[len(e.ExamResults)-1]

	if passed {
		return result, markCompleted(e, now)
	}
	if e.Status == model.StatusNotStarted {
		e.Status = model.StatusInProgress
	}
	return result, false
}

// markCompleted completed 为终态，重复调用不改写完成时间
func markCompleted(e *model.Enrollment, now time.Time) bool {
	if e.Status == model.StatusCompleted {
		return false
	}
	e.Status = model.StatusCompleted
	e.CompletedAt = &now
	return true
}
