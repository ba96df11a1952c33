package failure

import (
	"path/filepath"
	"testing"
	"time"
)

func testCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "failures.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCounter_WindowAndThreshold(t *testing.T) {
	c := testCounter(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	n, err := c.RecordFailure(now)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if IsCritical(n) {
		t.Error("1 failure should not be critical")
	}

	n, _ = c.RecordFailure(now.Add(time.Minute))
	n, _ = c.RecordFailure(now.Add(2 * time.Minute))
	if n != 3 {
		t.Fatalf("expected 3 in window, got %d", n)
	}
	if !IsCritical(n) {
		t.Error("3 failures in 10 minutes must be critical")
	}
}

func TestCounter_SlidesOldEntriesOut(t *testing.T) {
	c := testCounter(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	c.RecordFailure(now)
	c.RecordFailure(now.Add(time.Minute))

	// 12 minutes later only the new failure remains.
	n, err := c.RecordFailure(now.Add(12 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 after window slide, got %d", n)
	}
}

func TestCounter_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "failures.db")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	c.RecordFailure(now)
	c.RecordFailure(now.Add(time.Second))
	c.Close()

	c2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	n, err := c2.Count(now.Add(2 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 after reopen, got %d", n)
	}
}
