package jobs

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker(testLogger())

	job := tr.Create("moby.epub")
	if job.ID == "" {
		t.Fatal("Create() returned empty job ID")
	}
	if job.Status != StatusQueued || job.Progress != 0 {
		t.Errorf("new job = %+v, want queued at 0%%", job)
	}

	if err := tr.Update(job.ID, 40, "extracting"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := tr.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusProcessing || got.Progress != 40 || got.Stage != "extracting" {
		t.Errorf("after update = %+v, want processing/40/extracting", got)
	}

	if err := tr.Complete(job.ID, "book-1"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, _ = tr.Get(job.ID)
	if got.Status != StatusCompleted || got.Progress != 100 || got.BookID != "book-1" {
		t.Errorf("after complete = %+v, want completed/100/book-1", got)
	}
}

func TestTracker_ProgressNeverDecreases(t *testing.T) {
	tr := NewTracker(testLogger())
	job := tr.Create("a.pdf")

	steps := []struct{ set, want int }{
		{30, 30},
		{10, 30},  // regression ignored
		{75, 75},
		{250, 100}, // clamped
		{90, 100},
	}
	for _, s := range steps {
		if err := tr.Update(job.ID, s.set, ""); err != nil {
			t.Fatalf("Update(%d) error = %v", s.set, err)
		}
		got, _ := tr.Get(job.ID)
		if got.Progress != s.want {
			t.Errorf("Update(%d): progress = %d, want %d", s.set, got.Progress, s.want)
		}
	}
}

func TestTracker_TerminalJobsImmutable(t *testing.T) {
	tr := NewTracker(testLogger())

	t.Run("completed", func(t *testing.T) {
		job := tr.Create("a.epub")
		if err := tr.Complete(job.ID, "book-1"); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if err := tr.Update(job.ID, 50, "late"); !errors.Is(err, ErrJobTerminal) {
			t.Errorf("Update() error = %v, want ErrJobTerminal", err)
		}
		if err := tr.Fail(job.ID, "late failure"); !errors.Is(err, ErrJobTerminal) {
			t.Errorf("Fail() error = %v, want ErrJobTerminal", err)
		}
	})

	t.Run("failed", func(t *testing.T) {
		job := tr.Create("b.epub")
		if err := tr.Fail(job.ID, "boom"); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		got, _ := tr.Get(job.ID)
		if got.Status != StatusFailed || got.Error != "boom" {
			t.Errorf("failed job = %+v", got)
		}
		if err := tr.Complete(job.ID, "book-2"); !errors.Is(err, ErrJobTerminal) {
			t.Errorf("Complete() error = %v, want ErrJobTerminal", err)
		}
	})
}

func TestTracker_GetReturnsCopy(t *testing.T) {
	tr := NewTracker(testLogger())
	job := tr.Create("a.epub")

	got, _ := tr.Get(job.ID)
	got.Progress = 99
	got.Status = StatusFailed

	fresh, _ := tr.Get(job.ID)
	if fresh.Progress != 0 || fresh.Status != StatusQueued {
		t.Errorf("mutating a returned record changed tracker state: %+v", fresh)
	}
}

func TestTracker_Get_Unknown(t *testing.T) {
	tr := NewTracker(testLogger())
	if _, err := tr.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
	if err := tr.Update("nope", 10, ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Update() error = %v, want ErrJobNotFound", err)
	}
}

func TestTracker_ListNewestFirst(t *testing.T) {
	tr := NewTracker(testLogger())
	first := tr.Create("one.epub")
	time.Sleep(2 * time.Millisecond)
	second := tr.Create("two.epub")

	list := tr.List()
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("List() order = [%s %s], want newest first", list[0].Filename, list[1].Filename)
	}
}

func TestTracker_Sweep(t *testing.T) {
	tr := NewTracker(testLogger())

	done := tr.Create("done.epub")
	if err := tr.Complete(done.ID, "book-1"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	active := tr.Create("active.epub")
	if err := tr.Update(active.ID, 20, "extracting"); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// Terminal job is younger than the retention window: kept.
	if removed := tr.Sweep(time.Hour); removed != 0 {
		t.Errorf("Sweep(1h) removed = %d, want 0", removed)
	}

	// Zero retention expires any terminal job updated in the past.
	time.Sleep(2 * time.Millisecond)
	if removed := tr.Sweep(0); removed != 1 {
		t.Errorf("Sweep(0) removed = %d, want 1", removed)
	}
	if _, err := tr.Get(done.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Get(done) error = %v, want ErrJobNotFound", err)
	}

	// Non-terminal jobs are never swept.
	if _, err := tr.Get(active.ID); err != nil {
		t.Errorf("Get(active) error = %v, want job retained", err)
	}
}
