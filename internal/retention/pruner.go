// Package retention deletes messages and files older than the realm's
// retention windows.
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/thereayou/concord/internal/files"
	"github.com/thereayou/concord/internal/services"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 24 * time.Hour

// orphanGrace protects blobs whose attachment row is still being written.
const orphanGrace = time.Hour

// BlobStore is the physical side of attachments. *files.Store implements it.
type BlobStore interface {
	RemoveLater(names []string)
	List() ([]files.Blob, error)
}

type Pruner struct {
	store services.RetentionStore
	blobs BlobStore
	now   func() time.Time
	wg    sync.WaitGroup
}

func NewPruner(store services.RetentionStore, blobs BlobStore) *Pruner {
	return &Pruner{store: store, blobs: blobs, now: time.Now}
}

// Cutoff returns the creation time before which rows expire for a window of
// days.
func Cutoff(now time.Time, days int) int64 {
	return now.UnixMilli() - int64(days)*dayMillis
}

// PruneMessages deletes messages older than the realm's message window and
// schedules deletion of their attachment blobs.
func (p *Pruner) PruneMessages() (int64, error) {
	realm, err := p.store.GetRealm()
	if err != nil {
		return 0, err
	}
	if realm.RetentionDays == nil || *realm.RetentionDays <= 0 {
		return 0, nil
	}
	deleted, paths, err := p.store.DeleteMessagesBefore(Cutoff(p.now(), *realm.RetentionDays))
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	p.blobs.RemoveLater(paths)
	return deleted, nil
}

// PruneFiles deletes attachments older than the realm's file window.
func (p *Pruner) PruneFiles() (int, error) {
	realm, err := p.store.GetRealm()
	if err != nil {
		return 0, err
	}
	if realm.FileRetentionDays == nil || *realm.FileRetentionDays <= 0 {
		return 0, nil
	}
	paths, err := p.store.DeleteAttachmentsBefore(Cutoff(p.now(), *realm.FileRetentionDays))
	if err != nil {
		return 0, fmt.Errorf("prune files: %w", err)
	}
	p.blobs.RemoveLater(paths)
	return len(paths), nil
}

// PruneOrphans removes blobs no attachment row refers to.
func (p *Pruner) PruneOrphans() (int, error) {
	blobs, err := p.blobs.List()
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	known, err := p.store.KnownStoragePaths()
	if err != nil {
		return 0, err
	}
	threshold := p.now().Add(-orphanGrace)
	var orphans []string
	for _, b := range blobs {
		if _, ok := known[b.Name]; ok || b.ModTime.After(threshold) {
			continue
		}
		orphans = append(orphans, b.Name)
	}
	p.blobs.RemoveLater(orphans)
	return len(orphans), nil
}

// RunOnce runs every pass and logs what it removed. A failing pass does not
// stop the others.
func (p *Pruner) RunOnce() {
	if n, err := p.PruneMessages(); err != nil {
		log.Printf("[retention] %v", err)
	} else if n > 0 {
		log.Printf("[retention] pruned %d old messages", n)
	}
	if n, err := p.PruneFiles(); err != nil {
		log.Printf("[retention] %v", err)
	} else if n > 0 {
		log.Printf("[retention] pruned %d old file attachments", n)
	}
	if n, err := p.PruneOrphans(); err != nil {
		log.Printf("[retention] %v", err)
	} else if n > 0 {
		log.Printf("[retention] cleaned up %d orphaned files", n)
	}
}

// Start runs a pass now and then every interval until ctx is done.
func (p *Pruner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Printf("[retention] invalid interval %s, using %s", interval, DefaultInterval)
		interval = DefaultInterval
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce()
			}
		}
	}()
}

// Wait blocks until the scheduler started by Start has returned.
func (p *Pruner) Wait() {
	p.wg.Wait()
}
