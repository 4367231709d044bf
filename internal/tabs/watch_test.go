package tabs

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tabs.json")
	var calls int32
	w := NewFileWatcher(path, func() { atomic.AddInt32(&calls, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("onChange called %d times, want 1", got)
	}
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	w := NewFileWatcher(filepath.Join(t.TempDir(), "tabs.json"), nil)
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	w := NewFileWatcher(filepath.Join(t.TempDir(), "nope", "tabs.json"), nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Error("expected error for missing directory")
	}
}
