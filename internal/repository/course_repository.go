package repository

import (
	"coursegen_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

// WithTx 绑定到事务
func (r *CourseRepository) WithTx(tx *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: tx}
}

func (r *CourseRepository) CreateCourse(course *model.Course) error {
	return r.DB.Create(course).Error
}

func (r *CourseRepository) CreateChapter(chapter *model.Chapter) error {
	return r.DB.Create(chapter).Error
}

func (r *CourseRepository) CreateQuiz(quiz *model.Quiz) error {
	return r.DB.Create(quiz).Error
}

func (r *CourseRepository) CreateExam(exam *model.Exam) error {
	return r.DB.Create(exam).Error
}

func (r *CourseRepository) FindCourseByID(id uint) (*model.Course, error) {
	var course model.Course
	err := r.DB.First(&course, id).Error
	return &course, err
}

func (r *CourseRepository) FindChapterByID(id uint) (*model.Chapter, error) {
	var chapter model.Chapter
	err := r.DB.First(&chapter, id).Error
	return &chapter, err
}

// FindChaptersByCourse 按章节号升序
func (r *CourseRepository) FindChaptersByCourse(courseID uint) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := r.DB.Where("course_id = ?", courseID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, err
}

func (r *CourseRepository) CountChapters(courseID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Chapter{}).Where("course_id = ?", courseID).Count(&count).Error
	return count, err
}

func (r *CourseRepository) FindQuizByChapter(chapterID uint) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.Where("chapter_id = ?", chapterID).First(&quiz).Error
	return &quiz, err
}

func (r *CourseRepository) FindQuizzesByChapters(chapterIDs []uint) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	if len(chapterIDs) == 0 {
		return quizzes, nil
	}
	err := r.DB.Where("chapter_id IN ?", chapterIDs).Find(&quizzes).Error
	return quizzes, err
}

func (r *CourseRepository) FindExamByCourse(courseID uint) (*model.Exam, error) {
	var exam model.Exam
	err := r.DB.Where("course_id = ?", courseID).First(&exam).Error
	return &exam, err
}

// FindChaptersWithoutQuiz 返回尚无测验的章节
func (r *CourseRepository) FindChaptersWithoutQuiz(limit int) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := r.DB.
		Where("NOT EXISTS (SELECT 1 FROM quizzes WHERE quizzes.chapter_id = chapters.id AND quizzes.deleted_at IS NULL)").
		Order("id ASC").
		Limit(limit).
		Find(&chapters).Error
	return chapters, err
}

// BackfillQuizzes 为缺失测验的章节补建空测验，依赖 chapter_id 唯一索引跳过已存在(含并发补建)的，只返回本次新建的
func (r *CourseRepository) BackfillQuizzes(chapterIDs []uint) ([]model.Quiz, error) {
	created := make([]model.Quiz, 0, len(chapterIDs))
	for _, id := range chapterIDs {
		quiz := model.Quiz{ChapterID: id, Questions: []model.Question{}}
		res := r.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chapter_id"}},
			DoNothing: true,
		}).Create(&quiz)
		if res.Error != nil {
			return created, res.Error
		}
		if res.RowsAffected > 0 {
			created = append(created, quiz)
		}
	}
	return created, nil
}
