package service

import (
	"context"
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/util"
	"coursegen_backend/pkg/logger"
	"coursegen_backend/pkg/monitoring"
	"coursegen_backend/pkg/tracing"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CourseService struct {
	DB          *gorm.DB
	CourseRepo  *repository.CourseRepository
	EnrollRepo  *repository.EnrollmentRepository
	Enrollments *EnrollmentService
	Generator   ContentGenerator
	Documents   *DocumentService
	Storage     *StorageService
	Progress    ProgressTracker
	Cfg         *config.Config
}

func NewCourseService(
	db *gorm.DB,
	courseRepo *repository.CourseRepository,
	enrollRepo *repository.EnrollmentRepository,
	enrollments *EnrollmentService,
	generator ContentGenerator,
	documents *DocumentService,
	storage *StorageService,
	progress ProgressTracker,
	cfg *config.Config,
) *CourseService {
	return &CourseService{
		DB:          db,
		CourseRepo:  courseRepo,
		EnrollRepo:  enrollRepo,
		Enrollments: enrollments,
		Generator:   generator,
		Documents:   documents,
		Storage:     storage,
		Progress:    progress,
		Cfg:         cfg,
	}
}

type GeneratedCourse struct {
	Course     *model.Course     `json:"course"`
	Chapters   []ChapterView     `json:"chapters"`
	Enrollment *model.Enrollment `json:"enrollment"`
}

// courseDraft 全部生成结果，提交前只存在于内存
type courseDraft struct {
	meta     *CourseMetadata
	chapters []GeneratedChapter
	quizzes  [][]model.Question
	exam     []model.Question
}

// GenerateFromPDF 上传入口：抽取文本后执行生成流水线。
// 同一用户同时只允许一次生成，第二个请求返回 ErrGenerationInProgress (409)；
// 这是限流策略，不是数据一致性要求，报名去重由唯一索引保证。
func (s *CourseService) GenerateFromPDF(ctx context.Context, userID uint, data []byte) (*GeneratedCourse, error) {
	text, err := s.Documents.ExtractText(data, s.Cfg.Course.MaxPages)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("PDF text extracted", zap.Uint("user_id", userID), zap.Int("length", len(text)))

	if userID != 0 && s.Progress != nil {
		release, err := s.Progress.Acquire(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	return s.GenerateCourse(ctx, text, userID, data)
}

// GenerateCourse 先完成全部生成，再鉴权，最后在单个事务内落库。
// source 非空时先存入对象存储，提交失败会删除。
func (s *CourseService) GenerateCourse(ctx context.Context, extractedText string, userID uint, source []byte) (*GeneratedCourse, error) {
	started := time.Now()
	progress := model.GenerationProgress{StartedAt: started}

	draft, err := s.generate(ctx, extractedText, userID, &progress)
	if err != nil {
		monitoring.GenerationTotal.WithLabelValues("generation_error").Inc()
		s.fail(ctx, userID, &progress, err)
		return nil, err
	}

	if userID == 0 {
		monitoring.GenerationTotal.WithLabelValues("auth_required").Inc()
		logger.Log.Warn("Generated course discarded: no authenticated requester")
		return nil, util.ErrAuthRequired
	}

	s.stage(ctx, userID, &progress, model.StagePersisting)

	var sourceKey string
	if len(source) > 0 && s.Storage != nil {
		sourceKey, err = s.Storage.PutSource(ctx, source)
		if err != nil {
			perr := util.NewPersistenceError("store source document", err)
			monitoring.GenerationTotal.WithLabelValues("persistence_error").Inc()
			s.fail(ctx, userID, &progress, perr)
			return nil, perr
		}
	}

	result, err := s.persist(ctx, userID, draft, sourceKey)
	if err != nil {
		if sourceKey != "" {
			if derr := s.Storage.Delete(context.Background(), sourceKey); derr != nil {
				logger.Log.Error("Failed to remove orphaned source document", zap.String("key", sourceKey), zap.Error(derr))
			}
		}
		monitoring.GenerationTotal.WithLabelValues("persistence_error").Inc()
		s.fail(ctx, userID, &progress, err)
		return nil, err
	}

	monitoring.GenerationTotal.WithLabelValues("success").Inc()
	monitoring.GenerationDuration.Observe(time.Since(started).Seconds())
	progress.CourseID = result.Course.ID
	s.stage(ctx, userID, &progress, model.StageCompleted)

	logger.Log.Info("Course generated",
		zap.Uint("course_id", result.Course.ID),
		zap.Uint("user_id", userID),
		zap.Int("chapters", len(result.Chapters)),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// generate 严格按顺序调用模型；章节测验逐个生成，首个失败即中止
func (s *CourseService) generate(ctx context.Context, text string, userID uint, progress *model.GenerationProgress) (*courseDraft, error) {
	draft := &courseDraft{}

	s.stage(ctx, userID, progress, model.StageSummarizing)
	var summary string
	err := s.step(ctx, StepSummarize, func(ctx context.Context) (err error) {
		summary, err = s.Generator.Summarize(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.stage(ctx, userID, progress, model.StageMetadata)
	err = s.step(ctx, StepMetadata, func(ctx context.Context) (err error) {
		draft.meta, err = s.Generator.GenerateMetadata(ctx, summary)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.stage(ctx, userID, progress, model.StageChapters)
	err = s.step(ctx, StepChapters, func(ctx context.Context) (err error) {
		draft.chapters, err = s.Generator.GenerateChapters(ctx, summary)
		if err != nil {
			return err
		}
		return validateChapterNumbers(draft.chapters)
	})
	if err != nil {
		return nil, err
	}

	draft.quizzes = make([][]model.Question, len(draft.chapters))
	progress.Total = len(draft.chapters)
	for i, ch := range draft.chapters {
		progress.Current = i + 1
		s.stage(ctx, userID, progress, model.StageQuizzes)

		err = s.step(ctx, StepQuiz, func(ctx context.Context) error {
			questions, err := s.Generator.GenerateChapterQuiz(ctx, ch.Content)
			if err != nil {
				return err
			}
			if len(questions) != util.ChapterQuizTargetSize {
				logger.Log.Warn("Quiz size differs from target",
					zap.Int("chapter_number", ch.ChapterNumber),
					zap.Int("questions", len(questions)))
			}
			draft.quizzes[i] = nonNilQuestions(questions)
			return nil
		}, attribute.Int("chapter_number", ch.ChapterNumber))
		if err != nil {
			return nil, err
		}
	}
	progress.Current, progress.Total = 0, 0

	s.stage(ctx, userID, progress, model.StageExam)
	err = s.step(ctx, StepExam, func(ctx context.Context) error {
		questions, err := s.Generator.GenerateFinalExam(ctx, summary)
		if err != nil {
			return err
		}
		if len(questions) != util.FinalExamTargetSize {
			logger.Log.Warn("Exam size differs from target", zap.Int("questions", len(questions)))
		}
		draft.exam = nonNilQuestions(questions)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return draft, nil
}

// step 计时、打点并把非 GenerationError 包装为 GenerationError
func (s *CourseService) step(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	start := time.Now()
	ctx, end := tracing.StartStep(ctx, name, attrs...)
	err := fn(ctx)
	end(err)
	monitoring.ObserveStep(name, start)

	if err == nil {
		logger.Log.Debug("Generation step finished", zap.String("step", name), zap.Duration("duration", time.Since(start)))
		return nil
	}
	logger.Log.Error("Generation step failed", zap.String("step", name), zap.Error(err))

	var genErr *util.GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return util.NewGenerationError(name, err)
}

// persist 课程、章节、测验、考试与报名在同一事务中写入
func (s *CourseService) persist(ctx context.Context, userID uint, draft *courseDraft, sourceKey string) (*GeneratedCourse, error) {
	result := &GeneratedCourse{}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.CourseRepo.WithTx(tx)

		course := &model.Course{
			Title:       draft.meta.Title,
			Description: draft.meta.Description,
			SourceKey:   sourceKey,
		}
		if err := repo.CreateCourse(course); err != nil {
			return fmt.Errorf("create course: %w", err)
		}

		chapters := make([]model.Chapter, 0, len(draft.chapters))
		quizByChapter := make(map[uint]model.Quiz, len(draft.chapters))
		for i, gen := range draft.chapters {
			chapter := model.Chapter{
				CourseID:      course.ID,
				ChapterNumber: gen.ChapterNumber,
				Title:         gen.Title,
				ContentHTML:   gen.Content,
			}
			if err := repo.CreateChapter(&chapter); err != nil {
				return fmt.Errorf("create chapter %d: %w", gen.ChapterNumber, err)
			}
			quiz := model.Quiz{ChapterID: chapter.ID, Questions: draft.quizzes[i]}
			if err := repo.CreateQuiz(&quiz); err != nil {
				return fmt.Errorf("create quiz for chapter %d: %w", gen.ChapterNumber, err)
			}
			chapters = append(chapters, chapter)
			quizByChapter[chapter.ID] = quiz
		}

		if err := repo.CreateExam(&model.Exam{CourseID: course.ID, Questions: draft.exam}); err != nil {
			return fmt.Errorf("create exam: %w", err)
		}

		enrollment, err := s.Enrollments.EnrollTx(tx, userID, course.ID)
		if err != nil {
			return fmt.Errorf("enroll: %w", err)
		}

		sort.SliceStable(chapters, func(i, j int) bool {
			return chapters[i].ChapterNumber < chapters[j].ChapterNumber
		})
		result.Course = course
		result.Chapters = chapterViews(chapters, quizByChapter, enrollment.CompletedChapterIDs())
		result.Enrollment = enrollment
		return nil
	})
	if err != nil {
		return nil, util.NewPersistenceError("commit course", err)
	}
	return result, nil
}

func (s *CourseService) stage(ctx context.Context, userID uint, progress *model.GenerationProgress, stage model.GenerationStage) {
	if userID == 0 || s.Progress == nil {
		return
	}
	progress.Stage = stage
	s.Progress.Update(ctx, userID, *progress)
}

func (s *CourseService) fail(ctx context.Context, userID uint, progress *model.GenerationProgress, err error) {
	if userID == 0 || s.Progress == nil {
		return
	}
	progress.Stage = model.StageFailed
	progress.Error = err.Error()
	s.Progress.Update(context.Background(), userID, *progress)
}

// validateChapterNumbers 章节号需恰好为 1..n，顺序不限
func validateChapterNumbers(chapters []GeneratedChapter) error {
	seen := make(map[int]bool, len(chapters))
	for _, ch := range chapters {
		if seen[ch.ChapterNumber] {
			return fmt.Errorf("duplicate chapter number %d", ch.ChapterNumber)
		}
		seen[ch.ChapterNumber] = true
	}
	for n := 1; n <= len(chapters); n++ {
		if !seen[n] {
			return fmt.Errorf("chapter numbers must be contiguous from 1, missing %d", n)
		}
	}
	return nil
}

func nonNilQuestions(qs []model.Question) []model.Question {
	if qs == nil {
		return []model.Question{}
	}
	return qs
}

func (s *CourseService) GenerationStatus(ctx context.Context, userID uint) (*model.GenerationProgress, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	if s.Progress == nil {
		return nil, util.ErrProgressNotFound
	}
	return s.Progress.Get(ctx, userID)
}

func (s *CourseService) ListMyCourses(userID uint) ([]model.Enrollment, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}
	return s.EnrollRepo.ListByUser(userID)
}

type QuestionView struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type QuizView struct {
	ID        uint           `json:"id"`
	Questions []QuestionView `json:"questions"`
}

type ChapterView struct {
	ID            uint     `json:"id"`
	ChapterNumber int      `json:"chapterNumber"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Locked        bool     `json:"locked"`
	Completed     bool     `json:"completed"`
	Quiz          QuizView `json:"quiz"`
}

// RedactQuestions 去掉答案
func RedactQuestions(questions []model.Question) []QuestionView {
	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		views[i] = QuestionView{Question: q.Question, Options: q.Options}
	}
	return views
}

// ListChapters 按章节号返回，缺失的测验补建为空测验
func (s *CourseService) ListChapters(courseID, userID uint) ([]ChapterView, error) {
	if userID == 0 {
		return nil, util.ErrAuthRequired
	}

	chapters, err := s.CourseRepo.FindChaptersByCourse(courseID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(chapters))
	for i, ch := range chapters {
		ids[i] = ch.ID
	}

	quizzes, err := s.CourseRepo.FindQuizzesByChapters(ids)
	if err != nil {
		return nil, err
	}
	quizByChapter := make(map[uint]model.Quiz, len(quizzes))
	for _, q := range quizzes {
		quizByChapter[q.ChapterID] = q
	}

	var missing []uint
	for _, id := range ids {
		if _, ok := quizByChapter[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		created, err := s.CourseRepo.BackfillQuizzes(missing)
		if err != nil {
			return nil, err
		}
		// 并发请求可能抢先补建，重新读取而不是只用本次新建的
		filled, err := s.CourseRepo.FindQuizzesByChapters(missing)
		if err != nil {
			return nil, err
		}
		for _, q := range filled {
			quizByChapter[q.ChapterID] = q
		}
		logger.Log.Info("Backfilled empty quizzes", zap.Uint("course_id", courseID), zap.Int("count", len(created)))
	}

	var completed []uint
	enrollment, err := s.EnrollRepo.FindByUserAndCourse(userID, courseID)
	if err == nil {
		completed = enrollment.CompletedChapterIDs()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return chapterViews(chapters, quizByChapter, completed), nil
}

// chapterViews 章节内容经过清洗、测验去掉答案，所有返回章节的接口都走这里
func chapterViews(chapters []model.Chapter, quizByChapter map[uint]model.Quiz, completed []uint) []ChapterView {
	done := make(map[uint]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	locks := ChapterLocks(chapters, completed)
	views := make([]ChapterView, len(chapters))
	for i, ch := range chapters {
		q := quizByChapter[ch.ID]
		views[i] = ChapterView{
			ID:            ch.ID,
			ChapterNumber: ch.ChapterNumber,
			Title:         ch.Title,
			Content:       util.SanitizeHTML(ch.ContentHTML),
			Locked:        locks[i],
			Completed:     done[ch.ID],
			Quiz: QuizView{
				ID:        q.ID,
				Questions: RedactQuestions(q.Questions),
			},
		}
	}
	return views
}

// BackfillMissingQuizzes 全库扫描缺测验的章节，分批补建
func (s *CourseService) BackfillMissingQuizzes(ctx context.Context) (int, error) {
	const batch = 200
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		chapters, err := s.CourseRepo.FindChaptersWithoutQuiz(batch)
		if err != nil {
			return total, err
		}
		if len(chapters) == 0 {
			return total, nil
		}
		ids := make([]uint, len(chapters))
		for i, ch := range chapters {
			ids[i] = ch.ID
		}
		created, err := s.CourseRepo.BackfillQuizzes(ids)
		if err != nil {
			return total, err
		}
		total += len(created)
		if len(created) == 0 {
			return total, nil
		}
	}
}
