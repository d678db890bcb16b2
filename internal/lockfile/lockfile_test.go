package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquire_WritesOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, FileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if got := parsePID(string(content)); got != os.Getpid() {
		t.Errorf("expected our pid in lock file, got %d (%q)", got, content)
	}
	if !strings.Contains(string(content), "started=") {
		t.Errorf("expected start time in lock file, got %q", content)
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("expected the second acquisition to fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder != "pid "+strconv.Itoa(os.Getpid()) {
		t.Errorf("expected holder to name our pid, got %q", lockErr.Holder)
	}
	if !strings.Contains(err.Error(), lockErr.Path) {
		t.Errorf("expected lock path in message: %s", err)
	}

	// The failed attempt must not have clobbered the holder's record.
	content, _ := os.ReadFile(first.Path())
	if parsePID(string(content)) != os.Getpid() {
		t.Errorf("lock file rewritten by the losing process: %q", content)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed, stat err %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected reacquisition after release: %v", err)
	}
	again.Release()
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"pid=12345\n", 12345},
		{"pid=678\nstarted=2025-06-15T10:00:00Z\n", 678},
		{"started=now\npid=42", 42},
		{"other=info", 0},
		{"", 0},
		{"pid=abc", 0},
		{"pid12345", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.content); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("expected our own process to be alive")
	}
}
