package model

import (
	"time"

	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	StatusNotStarted EnrollmentStatus = "not_started"
	StatusInProgress EnrollmentStatus = "in_progress"
	StatusCompleted  EnrollmentStatus = "completed"
)

// Enrollment 每个 (user, course) 唯一
type Enrollment struct {
	BaseModel
	UserID      uint             `gorm:"not null;uniqueIndex:idx_enrollment_user_course" json:"userId"`
	CourseID    uint             `gorm:"not null;uniqueIndex:idx_enrollment_user_course" json:"courseId"`
	Status      EnrollmentStatus `gorm:"size:20;not null;default:'not_started'" json:"status"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`

	// CompletedChapters 由 ChapterResults 派生，不落库
	CompletedChapters []uint `gorm:"-" json:"completedChapters"`

	Course         *Course             `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	ChapterResults []ChapterQuizResult `gorm:"foreignKey:EnrollmentID" json:"chapterQuizResults"`
	ExamResults    []FinalExamResult   `gorm:"foreignKey:EnrollmentID" json:"finalExamResults"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

func (e *Enrollment) AfterFind(tx *gorm.DB) error {
	e.CompletedChapters = e.CompletedChapterIDs()
	return nil
}

// CompletedChapterIDs 返回已完成章节，按结果记录顺序
func (e *Enrollment) CompletedChapterIDs() []uint {
	ids := make([]uint, 0, len(e.ChapterResults))
	for _, r := range e.ChapterResults {
		if r.Completed {
			ids = append(ids, r.ChapterID)
		}
	}
	return ids
}

// ChapterQuizResult keeps only the latest attempt's score; Completed is sticky.
type ChapterQuizResult struct {
	BaseModel
	EnrollmentID uint     `gorm:"not null;uniqueIndex:idx_result_enrollment_chapter" json:"-"`
	ChapterID    uint     `gorm:"not null;uniqueIndex:idx_result_enrollment_chapter" json:"chapterId"`
	Score        int      `json:"score"`
	Passed       bool     `json:"passed"`
	Completed    bool     `json:"completed"`
	Attempts     int      `gorm:"default:0" json:"attempts"`
	Chapter      *Chapter `gorm:"foreignKey:ChapterID" json:"chapter,omitempty"`
}

func (ChapterQuizResult) TableName() string {
	return "chapter_quiz_results"
}

type FinalExamResult struct {
	BaseModel
	EnrollmentID uint `gorm:"not null;index" json:"-"`
	Attempt      int  `json:"attempt"`
	Score        int  `json:"score"`
	Passed       bool `json:"passed"`
}

func (FinalExamResult) TableName() string {
	return "final_exam_results"
}
