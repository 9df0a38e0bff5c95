package repository

import (
	"coursegen_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentRepository struct {
	DB *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

func (r *EnrollmentRepository) WithTx(tx *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: tx}
}

func withProgress(db *gorm.DB) *gorm.DB {
	return db.
		Preload("ChapterResults", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("ExamResults", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt ASC")
		})
}

func (r *EnrollmentRepository) FindByUserAndCourse(userID, courseID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := withProgress(r.DB).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	return &enrollment, err
}

// FindForUpdate 行锁读取，需在事务中调用 (SQLite 忽略 FOR UPDATE，靠单连接串行)
func (r *EnrollmentRepository) FindForUpdate(userID, courseID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := withProgress(r.DB).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		First(&enrollment).Error
	return &enrollment, err
}

// CreateIfAbsent 依赖 (user_id, course_id) 唯一索引去重，返回是否新插入
func (r *EnrollmentRepository) CreateIfAbsent(enrollment *model.Enrollment) (bool, error) {
	res := r.DB.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).
		Create(enrollment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateState 只写状态字段，结果集由各自方法维护
func (r *EnrollmentRepository) UpdateState(enrollment *model.Enrollment) error {
	return r.DB.Model(enrollment).
		Updates(map[string]interface{}{
			"status":       enrollment.Status,
			"completed_at": enrollment.CompletedAt,
		}).Error
}

func (r *EnrollmentRepository) SaveChapterResult(result *model.ChapterQuizResult) error {
	return r.DB.Omit(clause.Associations).Save(result).Error
}

func (r *EnrollmentRepository) CreateExamResult(result *model.FinalExamResult) error {
	return r.DB.Create(result).Error
}

// ListByUser 附带课程与章节引用；章节引用不含正文
func (r *EnrollmentRepository) ListByUser(userID uint) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := withProgress(r.DB).
		Preload("Course").
		Preload("ChapterResults.Chapter", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "course_id", "chapter_number", "title")
		}).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&enrollments).Error
	return enrollments, err
}
