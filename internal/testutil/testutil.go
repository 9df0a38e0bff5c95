package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"coursegen_backend/internal/config"
	"coursegen_backend/internal/model"
	"coursegen_backend/pkg/database"

	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// DB 返回一个独立的内存 SQLite 库，已完成迁移
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)),
	}
	db, err := database.Open(cfg, gormLogger.Silent)
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func SeedUser(tb testing.TB, db *gorm.DB, username string) *model.User {
	tb.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	if err := db.WithContext(context.Background()).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedCourse 创建课程、章节(每章一份测验)和期末考试
func SeedCourse(tb testing.TB, db *gorm.DB, chapters int, quiz []model.Question, exam []model.Question) (*model.Course, []model.Chapter) {
	tb.Helper()
	course := &model.Course{Title: "Seeded course", Description: "seed"}
	if err := db.Create(course).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	out := make([]model.Chapter, 0, chapters)
	for i := 1; i <= chapters; i++ {
		ch := model.Chapter{CourseID: course.ID, ChapterNumber: i, Title: fmt.Sprintf("Chapter %d", i), ContentHTML: "<p>content</p>"}
		if err := db.Create(&ch).Error; err != nil {
			tb.Fatalf("seed chapter: %v", err)
		}
		if quiz != nil {
			if err := db.Create(&model.Quiz{ChapterID: ch.ID, Questions: quiz}).Error; err != nil {
				tb.Fatalf("seed quiz: %v", err)
			}
		}
		out = append(out, ch)
	}
	if exam != nil {
		if err := db.Create(&model.Exam{CourseID: course.ID, Questions: exam}).Error; err != nil {
			tb.Fatalf("seed exam: %v", err)
		}
	}
	return course, out
}

// Questions 生成 n 道题，正确答案依次为 correct[i]
func Questions(correct ...int) []model.Question {
	qs := make([]model.Question, len(correct))
	for i, c := range correct {
		qs[i] = model.Question{
			Question:     fmt.Sprintf("Q%d", i+1),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: c,
		}
	}
	return qs
}

func Count(tb testing.TB, db *gorm.DB, m interface{}) int64 {
	tb.Helper()
	var n int64
	if err := db.Model(m).Count(&n).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	return n
}
