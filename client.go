package tether

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hyperengineering/tether/internal/remote"
)

// Client is the main interface to the local replica: it owns the primary
// store handle, the fallback strategy, the tombstone ledger, recovery, and
// cloud sync.
type Client struct {
	config   Config
	settings *Settings
	logger   *DebugLogger
	fallback *Fallback
	ledger   *Ledger
	recovery *Recovery

	// Notice, when set before the first operation, receives transient
	// user-visible messages (e.g. after a recovery merge).
	Notice func(msg string)

	// single-flight store initialization; duplicate concurrent opens are
	// collapsed into one attempt
	storeOnce sync.Once
	store     *Store
	storeErr  error
	syncer    *Syncer
}

// New creates a new Tether client. The primary store is opened lazily on
// first use; an unrecoverable open degrades the client onto the fallback
// store instead of failing construction.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c := &Client{
		config:   cfg,
		settings: settings,
		logger:   logger,
		fallback: NewFallback(cfg.FallbackDir, logger),
		ledger:   NewLedger(cfg.LedgerDir, logger),
	}
	c.recovery = NewRecovery(c.fallback, c.ledger, logger)

	return c, nil
}

// Settings returns the persisted user settings.
func (c *Client) Settings() *Settings { return c.settings }

// openStore opens the primary store once. On success it runs the recovery
// merge; on unrecoverable failure the client keeps operating off the
// fallback store.
func (c *Client) openStore() (*Store, error) {
	c.storeOnce.Do(func() {
		store, err := OpenStore(c.config.LocalPath)
		if err != nil {
			c.storeErr = err
			c.logger.Warn("primary store unavailable, continuing on fallback: %v", err)
			return
		}
		c.store = store
		c.syncer = c.newSyncer(store)

		c.recovery.Notice = c.Notice
		if _, err := c.recovery.MaybeRecover(store); err != nil {
			// fallback left intact; the app keeps running degraded
			c.logger.Warn("recovery failed, fallback retained: %v", err)
		}
	})
	return c.store, c.storeErr
}

func (c *Client) newSyncer(store *Store) *Syncer {
	url := c.config.RemoteURL
	if url == "" {
		url = c.settings.RemoteURL()
	}

	auth := &settingsAuth{cfg: c.config, settings: c.settings}
	var client remote.Client
	if url != "" {
		client = remote.NewHTTPClient(url, auth.Token)
	}
	return NewSyncer(store, c.ledger, client, auth, c.settings, c.logger)
}

// Put writes a record, stamping lastModified with the current time. The
// write lands in the primary store, or in the fallback store when the
// primary is unavailable, and schedules a debounced auto-sync.
func (c *Client) Put(kind Kind, rec Record) error {
	if !kind.IsValid() {
		return ErrInvalidKind
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	rec.LastModified = time.Now().UnixMilli()

	if err := NormalizeRecord(kind, &rec); err != nil {
		return err
	}

	store, err := c.openStore()
	if err == nil {
		if err := store.PutRecord(kind, rec); err != nil {
			return err
		}
	} else {
		c.fallback.Save(kind, rec)
	}

	// a strictly newer write supersedes any tombstone for the key
	if tomb := c.ledger.Get(kind, rec.ID); tomb != nil && tomb.LastModified < rec.LastModified {
		c.ledger.Remove(kind, rec.ID)
	}

	c.scheduleAuto()
	return nil
}

// Delete removes a record and records a tombstone so the deletion is
// durable and propagable. The tombstone is written first; reconciliation
// treats it as authoritative if a crash interleaves.
func (c *Client) Delete(kind Kind, id string) error {
	if !kind.IsValid() {
		return ErrInvalidKind
	}

	c.ledger.Upsert(kind, id)

	store, err := c.openStore()
	if err == nil {
		if err := store.DeleteRecord(kind, id); err != nil {
			return err
		}
	} else {
		c.fallback.Delete(kind, id)
	}

	c.scheduleAuto()
	return nil
}

// Get retrieves a record by kind and id.
func (c *Client) Get(kind Kind, id string) (*Record, error) {
	store, err := c.openStore()
	if err != nil {
		for _, rec := range c.fallback.Load(kind) {
			if rec.ID == id {
				found := rec
				return &found, nil
			}
		}
		return nil, ErrNotFound
	}
	return store.Get(kind, id)
}

// List returns all records of a kind from whichever store is active.
func (c *Client) List(kind Kind) ([]Record, error) {
	store, err := c.openStore()
	if err != nil {
		return c.fallback.Load(kind), nil
	}
	return store.GetAll(kind)
}

// SyncNow triggers one sync cycle and returns its result.
func (c *Client) SyncNow(ctx context.Context) *SyncResult {
	if _, err := c.openStore(); err != nil {
		return &SyncResult{OK: false, Message: "local storage unavailable, sync requires the primary store"}
	}
	return c.syncer.SyncNow(ctx)
}

// Export builds a backup document covering both stores.
func (c *Client) Export() (*BackupDocument, error) {
	store, err := c.openStore()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return NewBackup(store, c.fallback, c.config.AppVersion).ExportAll()
}

// Import restores a backup document into the primary store.
func (c *Client) Import(doc *BackupDocument) (*ImportResult, error) {
	store, err := c.openStore()
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	result, err := NewBackup(store, c.fallback, c.config.AppVersion).ImportAll(doc)
	if err != nil {
		return result, err
	}
	c.scheduleAuto()
	return result, nil
}

// Status returns the local replica state.
func (c *Client) Status() (*Stats, error) {
	stats := &Stats{
		Counts:     make(map[Kind]int),
		Tombstones: c.ledger.Count(),
		Degraded:   c.fallback.Degraded() || c.ledger.Degraded(),
	}

	store, err := c.openStore()
	if err != nil {
		for _, kind := range Kinds() {
			stats.Counts[kind] = len(c.fallback.Load(kind))
		}
		stats.Degraded = true
		return stats, nil
	}

	for _, kind := range Kinds() {
		count, err := store.Count(kind)
		if err != nil {
			return nil, err
		}
		stats.Counts[kind] = count
	}
	stats.SchemaVersion = store.Version()

	if ms := metaInt(store, metaLastSync); ms > 0 {
		stats.LastSync = time.UnixMilli(ms)
	}
	stats.ConsecutiveFailures = int(metaInt(store, metaSyncFailures))
	if ms := metaInt(store, metaCooldownUntil); ms > 0 {
		stats.CooldownUntil = time.UnixMilli(ms)
	}

	return stats, nil
}

// metaInt reads an integer metadata value, defaulting to zero.
func metaInt(store *Store, key string) int64 {
	v, err := store.GetMeta(key)
	if err != nil || v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (c *Client) scheduleAuto() {
	if c.syncer != nil {
		c.syncer.ScheduleAuto()
	}
}

// Close releases the client: pending auto-sync triggers are cancelled and
// the store handle is closed.
func (c *Client) Close() error {
	if c.syncer != nil {
		c.syncer.Stop()
	}
	var err error
	if c.store != nil {
		err = c.store.Close()
	}
	_ = c.logger.Close()
	return err
}
