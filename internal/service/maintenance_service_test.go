package service

import (
	"testing"

	"coursegen_backend/internal/model"
	"coursegen_backend/internal/testutil"
)

func TestMaintenanceStart(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	m := NewMaintenanceService(f.svc)
	defer m.Stop()

	if err := m.Start(""); err != nil {
		t.Fatalf("empty schedule should disable the sweep: %v", err)
	}
	if err := m.Start("not a cron expression"); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
	if err := m.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestMaintenanceRunBackfill(t *testing.T) {
	f := newCourseFixture(t, newFakeGenerator())
	testutil.SeedCourse(t, f.db, 2, nil, nil)

	NewMaintenanceService(f.svc).RunBackfill()

	if n := testutil.Count(t, f.db, &model.Quiz{}); n != 2 {
		t.Fatalf("quizzes = %d, want 2", n)
	}
}
