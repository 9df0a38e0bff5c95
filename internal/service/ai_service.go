package service

import (
	"context"
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/util"
	"coursegen_backend/pkg/logger"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	StepSummarize = "summarize"
	StepMetadata  = "metadata"
	StepChapters  = "chapters"
	StepQuiz      = "quiz"
	StepExam      = "exam"
)

type CourseMetadata struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type GeneratedChapter struct {
	ChapterNumber int    `json:"chapter_number" validate:"gt=0"`
	Title         string `json:"title" validate:"required"`
	Content       string `json:"content" validate:"required"`
}

// ContentGenerator 生成能力的边界；返回值均已通过结构校验，失败一律为 *util.GenerationError
type ContentGenerator interface {
	Summarize(ctx context.Context, rawText string) (string, error)
	GenerateMetadata(ctx context.Context, summary string) (*CourseMetadata, error)
	GenerateChapters(ctx context.Context, summary string) ([]GeneratedChapter, error)
	GenerateChapterQuiz(ctx context.Context, chapterContent string) ([]model.Question, error)
	GenerateFinalExam(ctx context.Context, summary string) ([]model.Question, error)
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []AIChatMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// 模型原始输出，校验通过后才转换为领域类型
type chaptersOutput struct {
	Chapters []GeneratedChapter `json:"chapters" validate:"required,min=1,dive"`
}

type questionOutput struct {
	Question     string   `json:"question" validate:"required"`
	Options      []string `json:"options" validate:"len=4"`
	CorrectIndex *int     `json:"correct_index" validate:"required,min=0,max=3"`
}

type questionsOutput struct {
	Questions []questionOutput `json:"questions" validate:"dive"`
}

// normalizer 在校验前去除首尾空白，纯空白字段因此无法通过 required
type normalizer interface {
	normalize()
}

func (m *CourseMetadata) normalize() {
	m.Title = strings.TrimSpace(m.Title)
	m.Description = strings.TrimSpace(m.Description)
}

func (o *chaptersOutput) normalize() {
	for i := range o.Chapters {
		o.Chapters[i].Title = strings.TrimSpace(o.Chapters[i].Title)
		o.Chapters[i].Content = strings.TrimSpace(o.Chapters[i].Content)
	}
}

func (o *questionsOutput) normalize() {
	for i := range o.Questions {
		o.Questions[i].Question = strings.TrimSpace(o.Questions[i].Question)
	}
}

// AIService 基于 OpenAI 兼容的 chat/completions 接口
type AIService struct {
	mu       sync.RWMutex
	config   config.AIConfig
	client   *resty.Client
	validate *validator.Validate
}

func NewAIService(cfg config.AIConfig) *AIService {
	s := &AIService{validate: validator.New()}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig 热更新模型端点与凭据
func (s *AIService) UpdateConfig(cfg config.AIConfig) {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	s.mu.Lock()
	s.config = cfg
	s.client = client
	s.mu.Unlock()
}

func (s *AIService) snapshot() (config.AIConfig, *resty.Client) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.client
}

func (s *AIService) Summarize(ctx context.Context, rawText string) (string, error) {
	cfg, _ := s.snapshot()
	text := truncateRunes(rawText, cfg.MaxInputChars)
	if strings.TrimSpace(text) == "" {
		return "", util.NewGenerationError(StepSummarize, errors.New("document contains no extractable text"))
	}

	content, err := s.chat(ctx, summarizePrompt+text, false)
	if err != nil {
		return "", util.NewGenerationError(StepSummarize, err)
	}
	summary := strings.TrimSpace(content)
	if summary == "" {
		return "", util.NewGenerationError(StepSummarize, errors.New("model returned an empty summary"))
	}
	return summary, nil
}

func (s *AIService) GenerateMetadata(ctx context.Context, summary string) (*CourseMetadata, error) {
	var out CourseMetadata
	if err := s.structured(ctx, metadataPrompt+summary, &out); err != nil {
		return nil, util.NewGenerationError(StepMetadata, err)
	}
	return &out, nil
}

func (s *AIService) GenerateChapters(ctx context.Context, summary string) ([]GeneratedChapter, error) {
	var out chaptersOutput
	if err := s.structured(ctx, chaptersPrompt+summary, &out); err != nil {
		return nil, util.NewGenerationError(StepChapters, err)
	}
	return out.Chapters, nil
}

func (s *AIService) GenerateChapterQuiz(ctx context.Context, chapterContent string) ([]model.Question, error) {
	var out questionsOutput
	if err := s.structured(ctx, quizPrompt+chapterContent, &out); err != nil {
		return nil, util.NewGenerationError(StepQuiz, err)
	}
	return out.toQuestions(), nil
}

func (s *AIService) GenerateFinalExam(ctx context.Context, summary string) ([]model.Question, error) {
	var out questionsOutput
	if err := s.structured(ctx, examPrompt+summary, &out); err != nil {
		return nil, util.NewGenerationError(StepExam, err)
	}
	return out.toQuestions(), nil
}

func (o questionsOutput) toQuestions() []model.Question {
	questions := make([]model.Question, 0, len(o.Questions))
	for _, q := range o.Questions {
		questions = append(questions, model.Question{
			Question:     q.Question,
			Options:      q.Options,
			CorrectIndex: *q.CorrectIndex,
		})
	}
	return questions
}

// structured 要求模型返回 JSON 对象，解析后按 validate 标签校验
func (s *AIService) structured(ctx context.Context, prompt string, out interface{}) error {
	content, err := s.chat(ctx, prompt, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), out); err != nil {
		return fmt.Errorf("unparsable model output: %w", err)
	}
	if n, ok := out.(normalizer); ok {
		n.normalize()
	}
	if err := s.validate.Struct(out); err != nil {
		return fmt.Errorf("model output failed validation: %w", err)
	}
	return nil
}

func (s *AIService) chat(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	cfg, client := s.snapshot()

	reqBody := ChatCompletionRequest{
		Model: cfg.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: cfg.Temperature,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var result ChatCompletionResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&result).
		SetError(&result).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		msg := resp.String()
		if result.Error != nil && result.Error.Message != "" {
			msg = result.Error.Message
		}
		logger.Log.Warn("AI API error", zap.Int("status", resp.StatusCode()), zap.String("model", cfg.Model))
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode(), msg)
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("AI returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// truncateRunes 按字符截断，避免切断多字节字符
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
