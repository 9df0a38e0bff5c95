package model

import (
	"gorm.io/datatypes"
)

// Question 单选题，固定四个选项
type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// swagger:model Course
type Course struct {
	BaseModel
	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	SourceKey   string `gorm:"size:255" json:"-"`
}

func (Course) TableName() string {
	return "courses"
}

// swagger:model Chapter
type Chapter struct {
	BaseModel
	CourseID      uint   `gorm:"not null;uniqueIndex:idx_chapter_course_number" json:"courseId"`
	ChapterNumber int    `gorm:"not null;uniqueIndex:idx_chapter_course_number" json:"chapterNumber"`
	Title         string `gorm:"size:255;not null" json:"title"`
	ContentHTML   string `gorm:"type:text" json:"content,omitempty"`
}

func (Chapter) TableName() string {
	return "chapters"
}

type Quiz struct {
	BaseModel
	ChapterID uint                         `gorm:"not null;uniqueIndex" json:"chapterId"`
	Questions datatypes.JSONSlice[Question] `json:"questions"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

type Exam struct {
	BaseModel
	CourseID  uint                         `gorm:"not null;uniqueIndex" json:"courseId"`
	Questions datatypes.JSONSlice[Question] `json:"questions"`
}

func (Exam) TableName() string {
	return "exams"
}
