package tether

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	// tombstoneRetention is how long a tombstone is kept after the delete
	// it records. Remote replicas carry the deleted flag long-term.
	tombstoneRetention = 90 * 24 * time.Hour

	// tombstoneCap bounds the ledger size; oldest entries go first.
	tombstoneCap = 1000
)

const tombstoneDoc = "tombstones"

// Ledger is the durable tombstone log: one entry per deleted (kind,id)
// pair, keyed by kind:id, max-wins on lastModified. Storage degrades the
// same way the fallback store does (durable file, else volatile, one
// warning).
type Ledger struct {
	mu    sync.Mutex
	tiers *twoTier
	now   func() time.Time
}

// NewLedger creates a tombstone ledger persisted under dir.
func NewLedger(dir string, logger *DebugLogger) *Ledger {
	return &Ledger{
		tiers: newTwoTier(&fileMedium{dir: dir}, logger, "tombstone ledger"),
		now:   time.Now,
	}
}

// Upsert records a deletion. With no timestamp the current time is used.
// If an existing tombstone for the key is equal or newer it is returned
// unchanged, making the operation idempotent and monotonic.
func (l *Ledger) Upsert(kind Kind, id string, lastModified ...int64) Tombstone {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UnixMilli()
	if len(lastModified) > 0 {
		ts = lastModified[0]
	}

	entries := l.loadUnlocked()
	key := string(kind) + ":" + id
	for i, existing := range entries {
		if existing.Key() != key {
			continue
		}
		if existing.LastModified >= ts {
			return existing
		}
		entries[i].LastModified = ts
		l.saveUnlocked(entries)
		return entries[i]
	}

	tomb := Tombstone{Kind: kind, ID: id, LastModified: ts}
	entries = append(entries, tomb)
	l.saveUnlocked(entries)
	return tomb
}

// Get returns the tombstone for a key, or nil.
func (l *Ledger) Get(kind Kind, id string) *Tombstone {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(kind) + ":" + id
	for _, t := range l.loadUnlocked() {
		if t.Key() == key {
			tomb := t
			return &tomb
		}
	}
	return nil
}

// Remove drops the tombstone for a key, if any. Used when a strictly newer
// live update supersedes the deletion.
func (l *Ledger) Remove(kind Kind, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := string(kind) + ":" + id
	entries := l.loadUnlocked()
	kept := entries[:0]
	for _, t := range entries {
		if t.Key() != key {
			kept = append(kept, t)
		}
	}
	if len(kept) != len(entries) {
		l.saveUnlocked(kept)
	}
}

// ListAll returns all tombstones, pruned first.
func (l *Ledger) ListAll() []Tombstone {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.pruneUnlocked()
	return entries
}

// ListKind returns pruned tombstones for one kind.
func (l *Ledger) ListKind(kind Kind) []Tombstone {
	var out []Tombstone
	for _, t := range l.ListAll() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of stored tombstones without pruning.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loadUnlocked())
}

// Prune deduplicates by key keeping the max lastModified, drops entries
// older than the retention window, and caps the total count dropping oldest
// first.
func (l *Ledger) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneUnlocked()
}

func (l *Ledger) pruneUnlocked() []Tombstone {
	entries := l.loadUnlocked()

	byKey := make(map[string]Tombstone, len(entries))
	for _, t := range entries {
		if existing, ok := byKey[t.Key()]; !ok || t.LastModified > existing.LastModified {
			byKey[t.Key()] = t
		}
	}

	cutoff := l.now().Add(-tombstoneRetention).UnixMilli()
	pruned := make([]Tombstone, 0, len(byKey))
	for _, t := range byKey {
		if t.LastModified >= cutoff {
			pruned = append(pruned, t)
		}
	}

	// newest first so the cap drops the oldest entries
	sort.Slice(pruned, func(i, j int) bool {
		return pruned[i].LastModified > pruned[j].LastModified
	})
	if len(pruned) > tombstoneCap {
		pruned = pruned[:tombstoneCap]
	}

	l.saveUnlocked(pruned)
	return pruned
}

// Degraded reports whether the ledger dropped to the volatile tier.
func (l *Ledger) Degraded() bool {
	return l.tiers.Degraded()
}

func (l *Ledger) loadUnlocked() []Tombstone {
	data := l.tiers.load(tombstoneDoc)
	if len(data) == 0 {
		return nil
	}
	var entries []Tombstone
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (l *Ledger) saveUnlocked(entries []Tombstone) {
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	l.tiers.save(tombstoneDoc, data)
}
