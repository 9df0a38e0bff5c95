package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"coursegen_backend/internal/config"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/testutil"
	"coursegen_backend/internal/util"

	"gorm.io/gorm"
)

type fakeGenerator struct {
	mu       sync.Mutex
	chapters []GeneratedChapter
	quizErr  map[int]error // 按调用序号(从 1 开始)注入失败
	examErr  error
	calls    []string
}

func newFakeGenerator(numbers ...int) *fakeGenerator {
	g := &fakeGenerator{quizErr: map[int]error{}}
	for _, n := range numbers {
		g.chapters = append(g.chapters, GeneratedChapter{
			ChapterNumber: n,
			Title:         fmt.Sprintf("Chapter %d", n),
			Content:       fmt.Sprintf("<p>content %d</p>", n),
		})
	}
	return g
}

func (g *fakeGenerator) record(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	n := 0
	for _, c := range g.calls {
		if c == StepQuiz {
			n++
		}
	}
	return n
}

func (g *fakeGenerator) Summarize(ctx context.Context, rawText string) (string, error) {
	g.record(StepSummarize)
	return "summary of " + rawText, nil
}

func (g *fakeGenerator) GenerateMetadata(ctx context.Context, summary string) (*CourseMetadata, error) {
	g.record(StepMetadata)
	return &CourseMetadata{Title: "Generated", Description: "From a PDF"}, nil
}

func (g *fakeGenerator) GenerateChapters(ctx context.Context, summary string) ([]GeneratedChapter, error) {
	g.record(StepChapters)
	return g.chapters, nil
}

func (g *fakeGenerator) GenerateChapterQuiz(ctx context.Context, chapterContent string) ([]model.Question, error) {
	n := g.record(StepQuiz)
	if err := g.quizErr[n]; err != nil {
		return nil, err
	}
	return testutil.Questions(0, 1, 2), nil
}

func (g *fakeGenerator) GenerateFinalExam(ctx context.Context, summary string) ([]model.Question, error) {
	g.record(StepExam)
	if g.examErr != nil {
		return nil, g.examErr
	}
	return testutil.Questions(0, 1, 2, 3, 0, 1, 2, 3, 0, 1), nil
}

func (g *fakeGenerator) callCount(step string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == step {
			n++
		}
	}
	return n
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func (m *memoryStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type courseFixture struct {
	db       *gorm.DB
	svc      *CourseService
	gen      *fakeGenerator
	storage  *memoryStorage
	progress *MemoryProgressTracker
}

func newCourseFixture(t *testing.T, gen *fakeGenerator) *courseFixture {
	t.Helper()
	db := testutil.DB(t)
	courseRepo := repository.NewCourseRepository(db)
	enrollRepo := repository.NewEnrollmentRepository(db)
	store := &memoryStorage{}
	progress := NewMemoryProgressTracker()
	cfg := &config.Config{Course: config.CourseConfig{MaxPages: 50}}

	svc := NewCourseService(
		db,
		courseRepo,
		enrollRepo,
		NewEnrollmentService(db, enrollRepo, courseRepo),
		gen,
		NewDocumentService(),
		&StorageService{Provider: store},
		progress,
		cfg,
	)
	return &courseFixture{db: db, svc: svc, gen: gen, storage: store, progress: progress}
}

func (f *courseFixture) assertEmpty(t *testing.T) {
	t.Helper()
	for _, m := range []interface{}{&model.Course{}, &model.Chapter{}, &model.Quiz{}, &model.Exam{}, &model.Enrollment{}} {
		if n := testutil.Count(t, f.db, m); n != 0 {
			t.Fatalf("%T rows = %d, want 0", m, n)
		}
	}
}

func TestGenerateCoursePersistsEverything(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator(2, 1, 3))
	user := testutil.SeedUser(t, f.db, "alice")

	res, err := f.svc.GenerateCourse(context.Background(), "raw text", user.ID, []byte("%PDF-1.4 source"))
	if err != nil {
		t.Fatalf("GenerateCourse: %v", err)
	}

	if res.Course.Title != "Generated" || res.Course.SourceKey == "" {
		t.Fatalf("unexpected course: %+v", res.Course)
	}
	for i, ch := range res.Chapters {
		if ch.ChapterNumber != i+1 {
			t.Fatalf("chapters not ordered by number: %+v", res.Chapters)
		}
	}
	if res.Enrollment == nil || res.Enrollment.Status != model.StatusInProgress || res.Enrollment.UserID != user.ID {
		t.Fatalf("unexpected enrollment: %+v", res.Enrollment)
	}

	if n := testutil.Count(t, f.db, &model.Chapter{}); n != 3 {
		t.Fatalf("chapters = %d, want 3", n)
	}
	if n := testutil.Count(t, f.db, &model.Quiz{}); n != 3 {
		t.Fatalf("quizzes = %d, want 3", n)
	}
	if n := testutil.Count(t, f.db, &model.Exam{}); n != 1 {
		t.Fatalf("exams = %d, want 1", n)
	}
	if _, ok := f.storage.objects[res.Course.SourceKey]; !ok {
		t.Fatalf("source document %q not stored", res.Course.SourceKey)
	}

	want := []string{StepSummarize, StepMetadata, StepChapters, StepQuiz, StepQuiz, StepQuiz, StepExam}
	if strings.Join(f.gen.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", f.gen.calls, want)
	}

	p, err := f.progress.Get(context.Background(), user.ID)
	if err != nil || p.Stage != model.StageCompleted || p.CourseID != res.Course.ID {
		t.Fatalf("progress = %+v, err = %v", p, err)
	}
}

func TestGenerateCourseReturnsSanitizedChapters(t *testing.T) {
	gen := newFakeGenerator(1, 2)
	gen.chapters[0].Content = `<p onclick="steal()">intro</p><script>alert(1)</script>`
	f := newCourseFixture(t, gen)
	user := testutil.SeedUser(t, f.db, "mallory")

	res, err := f.svc.GenerateCourse(context.Background(), "raw", user.ID, nil)
	if err != nil {
		t.Fatalf("GenerateCourse: %v", err)
	}
	if len(res.Chapters) != 2 || res.Chapters[0].Locked || !res.Chapters[1].Locked {
		t.Fatalf("chapters = %+v", res.Chapters)
	}
	if res.Chapters[0].Quiz.ID == 0 || len(res.Chapters[0].Quiz.Questions) != 3 {
		t.Fatalf("quiz view = %+v", res.Chapters[0].Quiz)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, bad := range []string{"script", "alert", "onclick", "correct_index"} {
		if strings.Contains(string(data), bad) {
			t.Fatalf("response leaks %q: %s", bad, data)
		}
	}
	if !strings.Contains(res.Chapters[0].Content, "intro") {
		t.Fatalf("content = %q", res.Chapters[0].Content)
	}

	// 存储保留原文，清洗只发生在返回时
	var stored model.Chapter
	if err := f.db.First(&stored, res.Chapters[0].ID).Error; err != nil {
		t.Fatalf("load chapter: %v", err)
	}
	if !strings.Contains(stored.ContentHTML, "<script>") {
		t.Fatalf("stored content = %q", stored.ContentHTML)
	}
}

func TestGenerateCourseQuizFailureWritesNothing(t *testing.T) {
	gen := newFakeGenerator(1, 2, 3)
	gen.quizErr[2] = errors.New("model timeout")
	f := newCourseFixture(t, gen)
	user := testutil.SeedUser(t, f.db, "bob")

	_, err := f.svc.GenerateCourse(context.Background(), "raw", user.ID, []byte("pdf"))

	var genErr *util.GenerationError
	if !errors.As(err, &genErr) || genErr.Step != StepQuiz {
		t.Fatalf("err = %v, want GenerationError at quiz step", err)
	}
	if gen.callCount(StepQuiz) != 2 || gen.callCount(StepExam) != 0 {
		t.Fatalf("pipeline should stop at first failure, calls = %v", gen.calls)
	}
	f.assertEmpty(t)
	if len(f.storage.objects) != 0 {
		t.Fatalf("source stored despite failed generation")
	}

	p, _ := f.progress.Get(context.Background(), user.ID)
	if p == nil || p.Stage != model.StageFailed || p.Error == "" {
		t.Fatalf("progress = %+v, want failed", p)
	}
}

func TestGenerateCourseExamFailureWritesNothing(t *testing.T) {
	gen := newFakeGenerator(1)
	gen.examErr = util.NewGenerationError(StepExam, errors.New("bad shape"))
	f := newCourseFixture(t, gen)
	user := testutil.SeedUser(t, f.db, "carol")

	_, err := f.svc.GenerateCourse(context.Background(), "raw", user.ID, nil)
	var genErr *util.GenerationError
	if !errors.As(err, &genErr) || genErr.Step != StepExam {
		t.Fatalf("err = %v, want GenerationError at exam step", err)
	}
	f.assertEmpty(t)
}

func TestGenerateCoursePersistenceFailureRollsBack(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator(1, 2))
	user := testutil.SeedUser(t, f.db, "dave")

	err := f.db.Callback().Create().Before("gorm:create").Register("test:fail_exam", func(tx *gorm.DB) {
		if tx.Statement.Table == "exams" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = f.svc.GenerateCourse(context.Background(), "raw", user.ID, []byte("%PDF-1.4"))
	var perr *util.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	f.assertEmpty(t)
	if len(f.storage.objects) != 0 || len(f.storage.deleted) != 1 {
		t.Fatalf("orphaned source not removed: objects=%v deleted=%v", f.storage.objects, f.storage.deleted)
	}
}

func TestGenerateCourseRequiresUser(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator(1, 2))

	_, err := f.svc.GenerateCourse(context.Background(), "raw", 0, []byte("pdf"))
	if !errors.Is(err, util.ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
	// 鉴权在生成之后
	if f.gen.callCount(StepExam) != 1 {
		t.Fatalf("generation should complete before the auth check, calls = %v", f.gen.calls)
	}
	f.assertEmpty(t)
	if len(f.storage.objects) != 0 {
		t.Fatalf("source stored for anonymous request")
	}
}

func TestGenerateCourseRejectsBadChapterNumbers(t *testing.T) {
	for _, numbers := range [][]int{{1, 3}, {1, 1}, {2, 3}} {
		f := newCourseFixture(t, newFakeGenerator(numbers...))
		user := testutil.SeedUser(t, f.db, "erin")

		_, err := f.svc.GenerateCourse(context.Background(), "raw", user.ID, nil)
		var genErr *util.GenerationError
		if !errors.As(err, &genErr) || genErr.Step != StepChapters {
			t.Fatalf("numbers %v: err = %v, want GenerationError at chapters", numbers, err)
		}
		if f.gen.callCount(StepQuiz) != 0 {
			t.Fatalf("numbers %v: quizzes generated for invalid chapters", numbers)
		}
		f.assertEmpty(t)
	}
}

func TestGenerateFromPDFRejectsNonPDF(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator(1))

	_, err := f.svc.GenerateFromPDF(context.Background(), 1, []byte("just some text"))
	if !errors.Is(err, util.ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
	if len(f.gen.calls) != 0 {
		t.Fatalf("generator called for invalid upload: %v", f.gen.calls)
	}
}

func TestListChaptersLocksAndRedacts(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	user := testutil.SeedUser(t, f.db, "frank")
	course, chs := testutil.SeedCourse(t, f.db, 3, testutil.Questions(2, 1, 0), nil)

	enrollments := f.svc.Enrollments
	if _, err := enrollments.Enroll(user.ID, course.ID); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		e, err := enrollments.LockTx(tx, user.ID, course.ID)
		if err != nil {
			return err
		}
		_, err = enrollments.RecordChapterResult(tx, e, chs[0].ID, 100, true)
		return err
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	views, err := f.svc.ListChapters(course.ID, user.ID)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("views = %d, want 3", len(views))
	}
	wantLocked := []bool{false, false, true}
	for i, v := range views {
		if v.ChapterNumber != i+1 || v.Locked != wantLocked[i] {
			t.Fatalf("chapter %d: number=%d locked=%v", i, v.ChapterNumber, v.Locked)
		}
		if len(v.Quiz.Questions) != 3 {
			t.Fatalf("chapter %d quiz questions = %d", i, len(v.Quiz.Questions))
		}
	}
	if !views[0].Completed || views[1].Completed {
		t.Fatalf("unexpected completion flags: %+v", views)
	}

	body, _ := json.Marshal(views)
	if strings.Contains(string(body), "correct") {
		t.Fatalf("chapter listing leaks answers: %s", body)
	}

	// 未报名用户只看到首章解锁
	other := testutil.SeedUser(t, f.db, "grace")
	views, err = f.svc.ListChapters(course.ID, other.ID)
	if err != nil {
		t.Fatalf("ListChapters other: %v", err)
	}
	if views[0].Locked || !views[1].Locked || views[0].Completed {
		t.Fatalf("fresh user locks wrong: %+v", views)
	}
}

func TestListChaptersBackfillsMissingQuizzes(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	user := testutil.SeedUser(t, f.db, "heidi")
	course, _ := testutil.SeedCourse(t, f.db, 2, nil, nil)

	views, err := f.svc.ListChapters(course.ID, user.ID)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	for _, v := range views {
		if v.Quiz.ID == 0 || v.Quiz.Questions == nil || len(v.Quiz.Questions) != 0 {
			t.Fatalf("expected empty backfilled quiz, got %+v", v.Quiz)
		}
	}
	if n := testutil.Count(t, f.db, &model.Quiz{}); n != 2 {
		t.Fatalf("quizzes = %d, want 2", n)
	}

	// 再次读取不重复创建
	if _, err := f.svc.ListChapters(course.ID, user.ID); err != nil {
		t.Fatalf("second ListChapters: %v", err)
	}
	if n := testutil.Count(t, f.db, &model.Quiz{}); n != 2 {
		t.Fatalf("quizzes after reread = %d, want 2", n)
	}
}

func TestListChaptersConcurrentBackfill(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	course, chs := testutil.SeedCourse(t, f.db, 3, nil, nil)

	const readers = 8
	users := make([]*model.User, readers)
	for i := range users {
		users[i] = testutil.SeedUser(t, f.db, fmt.Sprintf("reader%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			views, err := f.svc.ListChapters(course.ID, userID)
			if err != nil {
				errs <- err
				return
			}
			for _, v := range views {
				if v.Quiz.ID == 0 {
					errs <- fmt.Errorf("chapter %d has no quiz", v.ID)
					return
				}
			}
		}(users[i].ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent ListChapters: %v", err)
	}
	if n := testutil.Count(t, f.db, &model.Quiz{}); n != 3 {
		t.Fatalf("quizzes = %d, want 3", n)
	}

	// 已存在的章节不会冲突报错
	created, err := f.svc.CourseRepo.BackfillQuizzes([]uint{chs[0].ID, chs[1].ID})
	if err != nil || len(created) != 0 {
		t.Fatalf("backfill existing: created=%v err=%v", created, err)
	}
}

func TestListChaptersUnknownCourse(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())

	views, err := f.svc.ListChapters(999, 1)
	if err != nil || len(views) != 0 {
		t.Fatalf("views = %v, err = %v", views, err)
	}
	if _, err := f.svc.ListChapters(1, 0); !errors.Is(err, util.ErrAuthRequired) {
		t.Fatalf("anonymous err = %v", err)
	}
}

func TestBackfillMissingQuizzes(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	testutil.SeedCourse(t, f.db, 3, nil, nil)
	testutil.SeedCourse(t, f.db, 1, testutil.Questions(0), nil)

	n, err := f.svc.BackfillMissingQuizzes(context.Background())
	if err != nil {
		t.Fatalf("BackfillMissingQuizzes: %v", err)
	}
	if n != 3 {
		t.Fatalf("backfilled = %d, want 3", n)
	}
	if n, _ := f.svc.BackfillMissingQuizzes(context.Background()); n != 0 {
		t.Fatalf("second sweep backfilled %d", n)
	}
}

func TestListMyCourses(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator(1))
	user := testutil.SeedUser(t, f.db, "ivan")

	res, err := f.svc.GenerateCourse(context.Background(), "raw", user.ID, nil)
	if err != nil {
		t.Fatalf("GenerateCourse: %v", err)
	}

	list, err := f.svc.ListMyCourses(user.ID)
	if err != nil {
		t.Fatalf("ListMyCourses: %v", err)
	}
	if len(list) != 1 || list[0].Course == nil || list[0].Course.ID != res.Course.ID {
		t.Fatalf("unexpected enrollments: %+v", list)
	}

	e, err := f.svc.Enrollments.Enroll(user.ID, res.Course.ID)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := f.svc.Enrollments.RecordChapterResult(f.db, e, res.Chapters[0].ID, 100, true); err != nil {
		t.Fatalf("RecordChapterResult: %v", err)
	}
	list, err = f.svc.ListMyCourses(user.ID)
	if err != nil {
		t.Fatalf("ListMyCourses: %v", err)
	}
	if len(list[0].ChapterResults) != 1 {
		t.Fatalf("chapter results = %+v", list[0].ChapterResults)
	}
	ref := list[0].ChapterResults[0].Chapter
	if ref == nil || ref.Title == "" || ref.ContentHTML != "" {
		t.Fatalf("chapter ref = %+v, want title without content", ref)
	}
	if _, err := f.svc.ListMyCourses(0); !errors.Is(err, util.ErrAuthRequired) {
		t.Fatalf("anonymous err = %v", err)
	}
}
