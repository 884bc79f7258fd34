package tether

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hyperengineering/tether/internal/remote"
	"github.com/sethvargo/go-retry"
)

// AuthProvider exposes the authenticated session to the sync manager. The
// session token is owned and refreshed by the auth collaborator; the
// manager only reads it.
type AuthProvider interface {
	// CurrentUserID returns the authenticated user id, or "" when signed
	// out.
	CurrentUserID() string

	// Token returns the current session token.
	Token() string
}

// Sync tuning constants.
const (
	syncRetryDelay   = 2 * time.Second
	syncCooldownBase = 30 * time.Second
	syncCooldownMax  = 30 * time.Minute
	autoSyncDebounce = 3 * time.Second
)

// Metadata keys used by the sync manager.
const (
	metaLastSync      = "last_sync"
	metaSyncFailures  = "sync_failures"
	metaCooldownUntil = "sync_cooldown_until"
)

func pullCursorKey(kind Kind) string { return "pull_cursor:" + string(kind) }
func pushCursorKey(kind Kind) string { return "push_cursor:" + string(kind) }

// Syncer reconciles local state against the remote replica service: it
// pulls remote changes since the per-kind cursor, applies last-writer-wins
// merge consulting the tombstone ledger, pushes local changes, and manages
// retry, backoff and cooldown.
//
// At most one cycle runs at a time; triggers while a cycle is running are
// dropped, not queued.
type Syncer struct {
	store    *Store
	ledger   *Ledger
	remote   remote.Client
	auth     AuthProvider
	settings *Settings
	logger   *DebugLogger

	mu      sync.Mutex
	running bool

	timerMu sync.Mutex
	timer   *time.Timer

	now func() time.Time
}

// NewSyncer creates a sync manager.
func NewSyncer(store *Store, ledger *Ledger, client remote.Client, auth AuthProvider, settings *Settings, logger *DebugLogger) *Syncer {
	return &Syncer{
		store:    store,
		ledger:   ledger,
		remote:   client,
		auth:     auth,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncNow runs one sync cycle and returns its observable result. It never
// returns an error: every outcome, including refusal to run, is a result.
func (s *Syncer) SyncNow(ctx context.Context) *SyncResult {
	if s.settings != nil && !s.settings.CloudSyncEnabled() {
		return &SyncResult{OK: false, Message: "cloud sync is disabled"}
	}

	if s.remote == nil {
		return &SyncResult{OK: false, Message: ErrOffline.Error()}
	}

	if s.auth == nil || s.auth.CurrentUserID() == "" {
		return &SyncResult{
			OK:          false,
			FailureCode: FailureAuth,
			Message:     "no authenticated user",
		}
	}

	// Cooldown gate: no network calls while paused.
	if remaining := s.cooldownRemaining(); remaining > 0 {
		return &SyncResult{
			OK:         false,
			Paused:     true,
			RetryAfter: remaining,
			Message:    fmt.Sprintf("sync temporarily paused, retry in %s", remaining.Round(time.Second)),
		}
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &SyncResult{OK: false, Message: ErrSyncRunning.Error()}
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	result := &SyncResult{OK: true}

	for _, kind := range Kinds() {
		// pull fully resolves before push begins, per kind
		if err := s.pullKind(ctx, kind, result); err != nil {
			return s.failCycle(result, kind, "pull", err)
		}
		if err := s.pushKind(ctx, kind, result); err != nil {
			return s.failCycle(result, kind, "push", err)
		}
	}

	s.recordSuccess()
	result.Message = fmt.Sprintf("applied %d remote, pushed %d local", result.AppliedRemote, result.PushedLocal)
	return result
}

// pullKind fetches remote rows since the pull cursor and applies them with
// last-writer-wins, consulting the tombstone ledger. The cursor advances to
// the max remote lastModified observed, but only after the whole pull for
// the kind succeeded.
func (s *Syncer) pullKind(ctx context.Context, kind Kind, result *SyncResult) error {
	cursor := s.readCursor(pullCursorKey(kind))

	var rows []remote.Row
	err := s.withRetry(ctx, result, func() error {
		var err error
		rows, err = s.remote.Select(ctx, string(kind), cursor)
		return err
	})
	if err != nil {
		return err
	}

	maxSeen := cursor
	for _, row := range rows {
		applied, err := s.applyRemoteRow(kind, row)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				// malformed pulled record: skipped, never fatal
				s.logger.LogSync("pull", "skipping invalid %s row %s: %v", kind, row.ID, verr)
				continue
			}
			return err
		}
		if applied {
			result.AppliedRemote++
		}
		if row.LastModified > maxSeen {
			maxSeen = row.LastModified
		}
	}

	if maxSeen > cursor {
		if err := s.writeCursor(pullCursorKey(kind), maxSeen); err != nil {
			return err
		}
	}

	s.logger.LogSync("pull", "%s: %d rows, cursor %d", kind, len(rows), maxSeen)
	return nil
}

// applyRemoteRow reconciles one remote row against local state. Returns
// true when local state changed.
func (s *Syncer) applyRemoteRow(kind Kind, row remote.Row) (bool, error) {
	local, err := s.store.Get(kind, row.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	if row.Deleted {
		// remote deletion wins unless the local record is strictly newer
		if local != nil && local.LastModified > row.LastModified {
			return false, nil
		}
		if local != nil {
			if err := s.store.DeleteRecord(kind, row.ID); err != nil {
				return false, err
			}
		}
		s.ledger.Upsert(kind, row.ID, row.LastModified)
		return local != nil, nil
	}

	// an equal-or-newer local tombstone suppresses resurrection
	if tomb := s.ledger.Get(kind, row.ID); tomb != nil && tomb.LastModified >= row.LastModified {
		return false, nil
	}
	if local != nil && local.LastModified >= row.LastModified {
		return false, nil
	}

	rec := Record{ID: row.ID, LastModified: row.LastModified, Fields: map[string]any{}}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &rec.Fields); err != nil {
			return false, &ValidationError{Field: "payload", Message: err.Error()}
		}
	}
	if err := NormalizeRecord(kind, &rec); err != nil {
		return false, err
	}

	if err := s.store.PutRecord(kind, rec); err != nil {
		return false, err
	}
	// the live update is strictly newer than any tombstone here, so the
	// tombstone is cleared rather than left to shadow the record
	s.ledger.Remove(kind, row.ID)
	return true, nil
}

// pushKind uploads local records and tombstones newer than the push cursor
// as remote rows. The cursor advances only after the upsert succeeded.
func (s *Syncer) pushKind(ctx context.Context, kind Kind, result *SyncResult) error {
	cursor := s.readCursor(pushCursorKey(kind))
	userID := s.auth.CurrentUserID()

	records, err := s.store.GetSince(kind, cursor)
	if err != nil {
		return err
	}

	tombsByID := make(map[string]Tombstone)
	for _, tomb := range s.ledger.ListKind(kind) {
		tombsByID[tomb.ID] = tomb
	}

	var rows []remote.Row
	maxPushed := cursor

	for _, rec := range records {
		// a crash can leave a live record alongside its tombstone; the
		// tombstone is authoritative when at or after the record
		if tomb, ok := tombsByID[rec.ID]; ok && tomb.LastModified >= rec.LastModified {
			continue
		}
		payload, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("sync: encode %s %s: %w", kind, rec.ID, err)
		}
		rows = append(rows, remote.Row{
			UserID:       userID,
			Kind:         string(kind),
			ID:           rec.ID,
			Payload:      payload,
			LastModified: rec.LastModified,
		})
		if rec.LastModified > maxPushed {
			maxPushed = rec.LastModified
		}
	}

	for _, tomb := range tombsByID {
		if tomb.LastModified <= cursor {
			continue
		}
		rows = append(rows, remote.Row{
			UserID:       userID,
			Kind:         string(kind),
			ID:           tomb.ID,
			LastModified: tomb.LastModified,
			Deleted:      true,
		})
		if tomb.LastModified > maxPushed {
			maxPushed = tomb.LastModified
		}
	}

	if len(rows) == 0 {
		return nil
	}

	err = s.withRetry(ctx, result, func() error {
		_, err := s.remote.Upsert(ctx, rows)
		return err
	})
	if err != nil {
		return err
	}

	result.PushedLocal += len(rows)
	if maxPushed > cursor {
		if err := s.writeCursor(pushCursorKey(kind), maxPushed); err != nil {
			return err
		}
	}

	s.logger.LogSync("push", "%s: %d rows, cursor %d", kind, len(rows), maxPushed)
	return nil
}

// withRetry runs a remote call, retrying exactly once after a short fixed
// delay when the failure is transient. Auth and server failures are never
// retried.
func (s *Syncer) withRetry(ctx context.Context, result *SyncResult, op func() error) error {
	attempts := 0
	backoff := retry.WithMaxRetries(1, retry.NewConstant(syncRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if classifyFailure(err) == FailureNetwork {
			return retry.RetryableError(err)
		}
		return err
	})
	if attempts > 1 {
		result.Retries += attempts - 1
	}
	return err
}

// failCycle finalizes a failed cycle: classifies the error, bumps the
// consecutive-failure counter, and sets the cooldown deadline. Cursors for
// the failed kind were not advanced; committed progress of earlier kinds is
// kept. Auth failures do not escalate the cooldown.
func (s *Syncer) failCycle(result *SyncResult, kind Kind, phase string, err error) *SyncResult {
	code := classifyFailure(err)
	result.OK = false
	result.FailureCode = code
	result.Message = fmt.Sprintf("%s %s: %v", phase, kind, err)
	s.logger.LogError("sync "+phase, err)

	if code == FailureAuth {
		return result
	}

	failures := s.readInt(metaSyncFailures) + 1
	_ = s.store.SetMeta(metaSyncFailures, strconv.FormatInt(failures, 10))

	delay := cooldownDelay(int(failures))
	deadline := s.now().Add(delay).UnixMilli()
	_ = s.store.SetMeta(metaCooldownUntil, strconv.FormatInt(deadline, 10))

	return result
}

// cooldownDelay computes the exponential backoff delay for the given
// consecutive-failure count, seeded from the base delay and capped.
func cooldownDelay(failures int) time.Duration {
	delay := syncCooldownBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= syncCooldownMax {
			return syncCooldownMax
		}
	}
	if delay > syncCooldownMax {
		delay = syncCooldownMax
	}
	return delay
}

func (s *Syncer) recordSuccess() {
	_ = s.store.SetMeta(metaSyncFailures, "0")
	_ = s.store.SetMeta(metaCooldownUntil, "0")
	_ = s.store.SetMeta(metaLastSync, strconv.FormatInt(s.now().UnixMilli(), 10))
}

func (s *Syncer) cooldownRemaining() time.Duration {
	deadline := s.readInt(metaCooldownUntil)
	if deadline == 0 {
		return 0
	}
	remaining := time.UnixMilli(deadline).Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ScheduleAuto schedules a debounced sync trigger after a local mutation,
// so rapid edits batch into one cycle. No-op when auto-sync is disabled.
func (s *Syncer) ScheduleAuto() {
	if s.settings == nil || !s.settings.AutoSyncEnabled() || !s.settings.CloudSyncEnabled() {
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(autoSyncDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.SyncNow(ctx)
	})
}

// Stop cancels any pending auto-sync trigger.
func (s *Syncer) Stop() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Syncer) readCursor(key string) int64 {
	return s.readInt(key)
}

func (s *Syncer) writeCursor(key string, value int64) error {
	return s.store.SetMeta(key, strconv.FormatInt(value, 10))
}

func (s *Syncer) readInt(key string) int64 {
	value, err := s.store.GetMeta(key)
	if err != nil || value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// classifyFailure maps an error from the remote client to a failure code.
func classifyFailure(err error) FailureCode {
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		syncErr := &SyncError{Operation: rerr.Operation, StatusCode: rerr.StatusCode, Err: rerr.Err}
		return syncErr.Classify()
	}
	return FailureNetwork
}
