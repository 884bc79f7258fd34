package tether

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// medium persists JSON documents keyed by collection name. It is the
// degradation strategy point: a durable file-backed implementation and a
// volatile in-process one share it, and twoTier switches between them.
type medium interface {
	load(name string) ([]byte, error)
	save(name string, data []byte) error
	clear() error
}

// fileMedium stores one JSON document per collection under a directory.
type fileMedium struct {
	dir string
}

func (m *fileMedium) docPath(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func (m *fileMedium) load(name string) ([]byte, error) {
	data, err := os.ReadFile(m.docPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fallback: read %s: %w", name, err)
	}
	return data, nil
}

func (m *fileMedium) save(name string, data []byte) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("fallback: create dir: %w", err)
	}
	// write-then-rename so a crash never leaves a torn document
	tmp := m.docPath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("fallback: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, m.docPath(name)); err != nil {
		return fmt.Errorf("fallback: rename %s: %w", name, err)
	}
	return nil
}

func (m *fileMedium) clear() error {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fallback: read dir: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
			return fmt.Errorf("fallback: remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// memoryMedium is the terminal degradation tier; it cannot fail.
type memoryMedium struct {
	docs map[string][]byte
}

func newMemoryMedium() *memoryMedium {
	return &memoryMedium{docs: make(map[string][]byte)}
}

func (m *memoryMedium) load(name string) ([]byte, error) {
	return m.docs[name], nil
}

func (m *memoryMedium) save(name string, data []byte) error {
	m.docs[name] = data
	return nil
}

func (m *memoryMedium) clear() error {
	m.docs = make(map[string][]byte)
	return nil
}

// twoTier wraps a durable medium and switches permanently to a volatile one
// on the first failure, logging the downgrade exactly once. Its operations
// never return errors to callers.
type twoTier struct {
	mu       sync.Mutex
	durable  medium
	volatile *memoryMedium
	degraded bool
	logger   *DebugLogger
	label    string
}

func newTwoTier(durable medium, logger *DebugLogger, label string) *twoTier {
	return &twoTier{
		durable:  durable,
		volatile: newMemoryMedium(),
		logger:   logger,
		label:    label,
	}
}

func (t *twoTier) active() medium {
	if t.degraded {
		return t.volatile
	}
	return t.durable
}

func (t *twoTier) degrade(err error) {
	t.degraded = true
	t.logger.Warn("%s storage degraded to in-memory tier: %v", t.label, err)
}

func (t *twoTier) load(name string) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := t.active().load(name)
	if err != nil && !t.degraded {
		t.degrade(err)
		data, _ = t.volatile.load(name)
	}
	return data
}

func (t *twoTier) save(name string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.active().save(name, data); err != nil && !t.degraded {
		t.degrade(err)
		_ = t.volatile.save(name, data)
	}
}

func (t *twoTier) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.active().clear(); err != nil && !t.degraded {
		t.degrade(err)
	}
	_ = t.volatile.clear()
}

// Degraded reports whether the durable tier has been abandoned.
func (t *twoTier) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// Fallback is the degraded, best-effort persistence used when the primary
// store cannot be opened. It is not relationally indexed: each kind is one
// JSON document. Load, Save and Clear never fail; if even the file medium
// throws, records live in process memory for the session.
type Fallback struct {
	mu    sync.Mutex
	tiers *twoTier
}

// NewFallback creates a fallback store rooted at dir.
func NewFallback(dir string, logger *DebugLogger) *Fallback {
	return &Fallback{
		tiers: newTwoTier(&fileMedium{dir: dir}, logger, "fallback"),
	}
}

// Load returns all records of a kind held by the fallback store.
func (f *Fallback) Load(kind Kind) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadUnlocked(kind)
}

func (f *Fallback) loadUnlocked(kind Kind) []Record {
	data := f.tiers.load(string(kind))
	if len(data) == 0 {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// a torn or foreign document is treated as empty, not fatal
		return nil
	}
	return records
}

// Save upserts a record into the fallback store.
func (f *Fallback) Save(kind Kind, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := f.loadUnlocked(kind)
	replaced := false
	for i, existing := range records {
		if existing.ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastModified < records[j].LastModified
	})

	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	f.tiers.save(string(kind), data)
}

// Delete removes a record from the fallback store.
func (f *Fallback) Delete(kind Kind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := f.loadUnlocked(kind)
	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return
	}
	f.tiers.save(string(kind), data)
}

// Clear drops all fallback contents.
func (f *Fallback) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiers.clear()
}

// Empty reports whether no recoverable kind holds any records.
func (f *Fallback) Empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, kind := range RecoverableKinds() {
		if len(f.loadUnlocked(kind)) > 0 {
			return false
		}
	}
	return true
}

// Degraded reports whether the fallback has dropped to the volatile tier.
func (f *Fallback) Degraded() bool {
	return f.tiers.Degraded()
}
