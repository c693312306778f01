package rules

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/klaxon/internal/incident"
)

// checkTTL bounds how stale a snapshot can get when fsnotify misses an event
// (editors that replace files, NFS). Current re-stats the file at most this
// often.
const checkTTL = 10 * time.Second

// Provider serves the current rules snapshot and reloads it when the file
// changes. Implements incident.RuleSource.
type Provider struct {
	path   string
	logger log.Logger

	snap atomic.Pointer[incident.RuleSet]

	mu        sync.Mutex
	mtime     time.Time
	size      int64
	lastCheck time.Time
}

// NewProvider loads the rules file eagerly. A missing or invalid file is a
// configuration error and fails startup.
func NewProvider(path string, logger log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Nop()
	}
	p := &Provider{
		path:   path,
		logger: logger.With("component", "rules", "path", path),
	}

	rs, err := Load(path)
	if err != nil {
		return nil, err
	}
	p.snap.Store(rs)

	if fi, err := os.Stat(path); err == nil {
		p.mtime = fi.ModTime()
		p.size = fi.Size()
	}
	p.lastCheck = time.Now()
	return p, nil
}

// Current returns the active snapshot, re-checking the file's mtime when the
// TTL has lapsed. Never returns nil once NewProvider succeeded.
func (p *Provider) Current() *incident.RuleSet {
	p.maybeReload()
	return p.snap.Load()
}

func (p *Provider) maybeReload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastCheck) < checkTTL {
		return
	}
	p.lastCheck = now

	fi, err := os.Stat(p.path)
	if err != nil {
		// File temporarily missing (atomic replace in flight); keep the
		// current snapshot.
		return
	}
	if fi.ModTime().Equal(p.mtime) && fi.Size() == p.size {
		return
	}
	p.reloadLocked(fi.ModTime(), fi.Size())
}

func (p *Provider) reloadLocked(mtime time.Time, size int64) {
	ctx := context.Background()

	rs, err := Load(p.path)
	if err != nil {
		// Never replace a good snapshot with a broken one.
		p.logger.Error(ctx, err, "rules reload failed, keeping previous snapshot")
		p.mtime, p.size = mtime, size
		return
	}

	p.snap.Store(rs)
	p.mtime, p.size = mtime, size
	p.logger.Info(ctx, "rules reloaded",
		"severity_rules", rs.Classifier.Len(),
		"maintenance_windows", len(rs.Windows),
		"dedup_window", rs.DedupWindow.String(),
		"escalation_timeout", rs.EscalationTimeout.String(),
		"max_escalation_level", rs.MaxEscalationLevel,
	)
}

// Watch reloads the snapshot on filesystem events until ctx is cancelled.
// The containing directory is watched, not the file itself, so atomic
// rename-into-place saves are seen. Watch blocks; run it in a goroutine.
func (p *Provider) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(p.path)); err != nil {
		return err
	}

	target := filepath.Clean(p.path)
	for {
		select {
		case ev := <-w.Events:
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.mu.Lock()
			if fi, err := os.Stat(p.path); err == nil {
				p.reloadLocked(fi.ModTime(), fi.Size())
				p.lastCheck = time.Now()
			}
			p.mu.Unlock()
		case err := <-w.Errors:
			p.logger.Warn(ctx, "rules watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
