package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
}

func TestNewProvider_EagerLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "dedup_window: 7m\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if got := p.Current().DedupWindow; got != 7*time.Minute {
		t.Errorf("dedup window = %v, want 7m", got)
	}
}

func TestNewProvider_MissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing rules file")
	}
}

func TestNewProvider_InvalidFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "dedup_window: -5m\n")

	_, err := NewProvider(path, nil)
	if err == nil {
		t.Fatal("expected error for invalid rules file at startup")
	}
}

func TestProvider_ReloadKeepsSnapshotOnBrokenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "dedup_window: 7m\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	// Break the file, then force a reload directly instead of waiting out
	// the TTL or plumbing fsnotify through the test.
	writeRules(t, path, "dedup_window: [broken\n")
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	p.mu.Lock()
	p.reloadLocked(fi.ModTime(), fi.Size())
	p.mu.Unlock()

	if got := p.Current().DedupWindow; got != 7*time.Minute {
		t.Errorf("dedup window = %v after broken reload, want previous 7m", got)
	}

	// Fix the file; the next reload picks it up.
	writeRules(t, path, "dedup_window: 9m\n")
	fi, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	p.mu.Lock()
	p.reloadLocked(fi.ModTime(), fi.Size())
	p.mu.Unlock()

	if got := p.Current().DedupWindow; got != 9*time.Minute {
		t.Errorf("dedup window = %v after fixed reload, want 9m", got)
	}
}

func TestProvider_CurrentHonorsTTL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "dedup_window: 7m\n")

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	// A change inside the TTL is not picked up by Current alone. The new
	// content has a different length so the size check alone would notice
	// it once the TTL lapses.
	writeRules(t, path, "dedup_window: 12m\n")
	if got := p.Current().DedupWindow; got != 7*time.Minute {
		t.Errorf("dedup window = %v inside TTL, want stale 7m", got)
	}

	// Expire the TTL; the stat-based check notices the new mtime/size.
	p.mu.Lock()
	p.lastCheck = time.Now().Add(-2 * checkTTL)
	p.mu.Unlock()
	if got := p.Current().DedupWindow; got != 12*time.Minute {
		t.Errorf("dedup window = %v after TTL, want reloaded 12m", got)
	}
}
