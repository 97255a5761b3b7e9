package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestEnableHotReloadRecyclesPool makes sure a write to a watched file
// eventually swaps in a pool sized by the callback.
func TestEnableHotReloadRecyclesPool(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "httpcore.json")
	if err := os.WriteFile(cfgPath, []byte(`{"workers": 1}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s := newTestServer(t, Config{Workers: 1})
	if err := s.EnableHotReload([]string{cfgPath}, func() int { return 3 }); err != nil {
		t.Fatalf("EnableHotReload returned error: %v", err)
	}

	// unrelated files in the same directory are ignored
	if err := os.WriteFile(filepath.Join(tmp, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write other file: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := s.Health().Pool.Workers; got != 1 {
		t.Fatalf("unrelated change recycled the pool: workers=%d", got)
	}

	if err := os.WriteFile(cfgPath, []byte(`{"workers": 3}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Health().Pool.Workers == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected pool to be recycled to 3 workers, have %d", s.Health().Pool.Workers)
}

func TestEnableHotReloadMissingDirs(t *testing.T) {
	tmp := t.TempDir()
	s := newTestServer(t, Config{Workers: 1})

	// hot reload should succeed even if the watched directory is missing
	missing := filepath.Join(tmp, "nope", "httpcore.json")
	if err := s.EnableHotReload([]string{missing}, func() int { return 1 }); err != nil {
		t.Fatalf("expected no error for missing directory, got %v", err)
	}
}
