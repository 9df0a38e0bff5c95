package model

import "time"

type GenerationStage string

const (
	StageSummarizing GenerationStage = "summarizing"
	StageMetadata    GenerationStage = "metadata"
	StageChapters    GenerationStage = "chapters"
	StageQuizzes     GenerationStage = "quizzes"
	StageExam        GenerationStage = "exam"
	StagePersisting  GenerationStage = "persisting"
	StageCompleted   GenerationStage = "completed"
	StageFailed      GenerationStage = "failed"
)

// GenerationProgress 课程生成进度，存于 Redis
type GenerationProgress struct {
	Stage     GenerationStage `json:"stage"`
	Current   int             `json:"current,omitempty"`
	Total     int             `json:"total,omitempty"`
	CourseID  uint            `json:"courseId,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
