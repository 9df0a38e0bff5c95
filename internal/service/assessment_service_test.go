package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"coursegen_backend/internal/model"
	"coursegen_backend/internal/repository"
	"coursegen_backend/internal/testutil"
	"coursegen_backend/internal/util"

	"gorm.io/gorm"
)

type recordingNotifier struct {
	sent chan uint
}

func (n *recordingNotifier) CourseCompleted(ctx context.Context, user *model.User, course *model.Course) error {
	n.sent <- course.ID
	return nil
}

type assessmentFixture struct {
	db       *gorm.DB
	svc      *AssessmentService
	notifier *recordingNotifier
	user     *model.User
	course   *model.Course
	chapters []model.Chapter
}

// newAssessmentFixture 两章课程，每章测验答案为 [0,1,2]，考试答案为 [3,2,1,0]
func newAssessmentFixture(t *testing.T, enroll bool) *assessmentFixture {
	t.Helper()
	db := testutil.DB(t)
	courseRepo := repository.NewCourseRepository(db)
	enrollRepo := repository.NewEnrollmentRepository(db)
	enrollments := NewEnrollmentService(db, enrollRepo, courseRepo)
	notifier := &recordingNotifier{sent: make(chan uint, 4)}

	svc := NewAssessmentService(db, courseRepo, enrollRepo, repository.NewUserRepository(db), enrollments, notifier, true)

	user := testutil.SeedUser(t, db, "student")
	course, chs := testutil.SeedCourse(t, db, 2, testutil.Questions(0, 1, 2), testutil.Questions(3, 2, 1, 0))
	if enroll {
		if _, err := enrollments.Enroll(user.ID, course.ID); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
	}
	return &assessmentFixture{db: db, svc: svc, notifier: notifier, user: user, course: course, chapters: chs}
}

func (f *assessmentFixture) enrollment(t *testing.T) *model.Enrollment {
	t.Helper()
	e, err := f.svc.EnrollRepo.FindByUserAndCourse(f.user.ID, f.course.ID)
	if err != nil {
		t.Fatalf("load enrollment: %v", err)
	}
	return e
}

func (f *assessmentFixture) expectNotice(t *testing.T) {
	t.Helper()
	select {
	case id := <-f.notifier.sent:
		if id != f.course.ID {
			t.Fatalf("notice for course %d, want %d", id, f.course.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion notice not sent")
	}
}

func TestSubmitChapterQuizCompletesCourse(t *testing.T) {
	f := newAssessmentFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.SubmitChapterQuiz(ctx, f.user.ID, f.chapters[0].ID, json.RawMessage(`[0,1,0]`))
	if err != nil {
		t.Fatalf("submit chapter 1: %v", err)
	}
	if res.Score != 67 || res.Passed {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := f.svc.SubmitChapterQuiz(ctx, f.user.ID, f.chapters[1].ID, json.RawMessage(`[0,1,2]`)); !errors.Is(err, util.ErrChapterLocked) {
		t.Fatalf("chapter 2 before passing chapter 1: err = %v", err)
	}

	if res, err = f.svc.SubmitChapterQuiz(ctx, f.user.ID, f.chapters[0].ID, json.RawMessage(`[0,1,2]`)); err != nil || !res.Passed {
		t.Fatalf("retry chapter 1: %+v %v", res, err)
	}
	if res, err = f.svc.SubmitChapterQuiz(ctx, f.user.ID, f.chapters[1].ID, json.RawMessage(`[0,1,2]`)); err != nil || res.Score != 100 {
		t.Fatalf("submit chapter 2: %+v %v", res, err)
	}

	e := f.enrollment(t)
	if e.Status != model.StatusCompleted || len(e.CompletedChapters) != 2 {
		t.Fatalf("enrollment = %s %v", e.Status, e.CompletedChapters)
	}
	f.expectNotice(t)
}

func TestSubmitChapterQuizLockCanBeDisabled(t *testing.T) {
	f := newAssessmentFixture(t, true)
	f.svc.SetChapterLockEnforced(false)

	res, err := f.svc.SubmitChapterQuiz(context.Background(), f.user.ID, f.chapters[1].ID, json.RawMessage(`[0,1,2]`))
	if err != nil || !res.Passed {
		t.Fatalf("submit out of order: %+v %v", res, err)
	}
	if e := f.enrollment(t); e.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", e.Status)
	}
}

func TestSubmitChapterQuizErrors(t *testing.T) {
	f := newAssessmentFixture(t, false)
	ctx := context.Background()
	valid := json.RawMessage(`[0,1,2]`)

	cases := []struct {
		name    string
		userID  uint
		chapter uint
		raw     json.RawMessage
		want    error
	}{
		{"anonymous", 0, f.chapters[0].ID, valid, util.ErrAuthRequired},
		{"anonymous with bad body", 0, f.chapters[0].ID, nil, util.ErrAuthRequired},
		{"not array", f.user.ID, f.chapters[0].ID, json.RawMessage(`{"a":1}`), util.ErrInvalidInput},
		{"missing chapter", f.user.ID, 9999, valid, util.ErrNotFound},
		{"not enrolled", f.user.ID, f.chapters[0].ID, valid, util.ErrNotEnrolled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.SubmitChapterQuiz(ctx, tc.userID, tc.chapter, tc.raw); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if n := testutil.Count(t, f.db, &model.ChapterQuizResult{}); n != 0 {
		t.Fatalf("results written for rejected submissions: %d", n)
	}
}

func TestSubmitChapterQuizMissingQuiz(t *testing.T) {
	f := newAssessmentFixture(t, true)
	if err := f.db.Where("chapter_id = ?", f.chapters[0].ID).Delete(&model.Quiz{}).Error; err != nil {
		t.Fatalf("delete quiz: %v", err)
	}

	_, err := f.svc.SubmitChapterQuiz(context.Background(), f.user.ID, f.chapters[0].ID, json.RawMessage(`[0]`))
	if !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetExamRedactsAnswers(t *testing.T) {
	f := newAssessmentFixture(t, true)

	exam, err := f.svc.GetExam(f.user.ID, f.course.ID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if len(exam.Questions) != 4 || len(exam.Questions[0].Options) != 4 {
		t.Fatalf("unexpected exam: %+v", exam)
	}
	body, _ := json.Marshal(exam)
	if strings.Contains(string(body), "correct") {
		t.Fatalf("exam leaks answers: %s", body)
	}
}

func TestGetExamErrors(t *testing.T) {
	f := newAssessmentFixture(t, false)

	if _, err := f.svc.GetExam(0, f.course.ID); !errors.Is(err, util.ErrAuthRequired) {
		t.Fatalf("anonymous err = %v", err)
	}
	if _, err := f.svc.GetExam(f.user.ID, f.course.ID); !errors.Is(err, util.ErrNotEnrolled) {
		t.Fatalf("not enrolled err = %v", err)
	}

	if _, err := f.svc.Enrollments.Enroll(f.user.ID, f.course.ID); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := f.db.Where("course_id = ?", f.course.ID).Delete(&model.Exam{}).Error; err != nil {
		t.Fatalf("delete exam: %v", err)
	}
	if _, err := f.svc.GetExam(f.user.ID, f.course.ID); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("missing exam err = %v", err)
	}
}

func TestSubmitFinalExam(t *testing.T) {
	f := newAssessmentFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.SubmitFinalExam(ctx, f.user.ID, f.course.ID, json.RawMessage(`[3,2,0,1]`))
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if res.Score != 50 || res.Passed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if e := f.enrollment(t); e.Status != model.StatusInProgress {
		t.Fatalf("status after failed exam = %s", e.Status)
	}

	res, err = f.svc.SubmitFinalExam(ctx, f.user.ID, f.course.ID, json.RawMessage(`[3,2,1,null]`))
	if err != nil || res.Score != 75 || !res.Passed {
		t.Fatalf("second attempt: %+v %v", res, err)
	}

	e := f.enrollment(t)
	if e.Status != model.StatusCompleted || e.CompletedAt == nil {
		t.Fatalf("status = %s completedAt = %v", e.Status, e.CompletedAt)
	}
	if len(e.ExamResults) != 2 || e.ExamResults[1].Attempt != 2 {
		t.Fatalf("exam results = %+v", e.ExamResults)
	}
	f.expectNotice(t)

	// 已完成后再考不重复通知
	if _, err := f.svc.SubmitFinalExam(ctx, f.user.ID, f.course.ID, json.RawMessage(`[3,2,1,0]`)); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	select {
	case <-f.notifier.sent:
		t.Fatalf("notice sent twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitFinalExamErrors(t *testing.T) {
	f := newAssessmentFixture(t, false)
	ctx := context.Background()

	if _, err := f.svc.SubmitFinalExam(ctx, 0, f.course.ID, json.RawMessage(`[]`)); !errors.Is(err, util.ErrAuthRequired) {
		t.Fatalf("anonymous err = %v", err)
	}
	if _, err := f.svc.SubmitFinalExam(ctx, f.user.ID, f.course.ID, json.RawMessage(`"0,1"`)); !errors.Is(err, util.ErrInvalidInput) {
		t.Fatalf("invalid body err = %v", err)
	}
	if _, err := f.svc.SubmitFinalExam(ctx, f.user.ID, f.course.ID, json.RawMessage(`[0]`)); !errors.Is(err, util.ErrNotEnrolled) {
		t.Fatalf("not enrolled err = %v", err)
	}
	if n := testutil.Count(t, f.db, &model.FinalExamResult{}); n != 0 {
		t.Fatalf("results written for rejected submissions: %d", n)
	}
}
