package tether

import (
	"fmt"
	"sync"
)

// Recovery migrates fallback-store contents into the primary store exactly
// once per process, consulting the tombstone ledger so deleted items are not
// resurrected.
type Recovery struct {
	fallback *Fallback
	ledger   *Ledger
	logger   *DebugLogger

	mu        sync.Mutex
	attempted bool
	inFlight  bool

	// Notice, when set, receives a transient user-visible message after a
	// successful recovery.
	Notice func(msg string)
}

// NewRecovery creates a recovery coordinator.
func NewRecovery(fallback *Fallback, ledger *Ledger, logger *DebugLogger) *Recovery {
	return &Recovery{fallback: fallback, ledger: ledger, logger: logger}
}

// MaybeRecover migrates any fallback records into the store. Returns true if
// a recovery merge was committed. On transaction failure the fallback store
// is left intact and the error is returned so the caller keeps operating
// degraded.
func (r *Recovery) MaybeRecover(store *Store) (bool, error) {
	r.mu.Lock()
	if r.attempted || r.inFlight {
		r.mu.Unlock()
		return false, nil
	}
	r.inFlight = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.attempted = true
		r.inFlight = false
		r.mu.Unlock()
	}()

	if r.fallback.Empty() {
		return false, nil
	}

	batch := make(map[Kind][]Record)
	total := 0
	for _, kind := range RecoverableKinds() {
		for _, rec := range r.fallback.Load(kind) {
			if tomb := r.ledger.Get(kind, rec.ID); tomb != nil && tomb.LastModified >= rec.LastModified {
				continue
			}
			batch[kind] = append(batch[kind], rec)
			total++
		}
	}

	if err := store.PutRecords(batch); err != nil {
		r.logger.LogError("recovery", err)
		return false, fmt.Errorf("recovery: merge fallback records: %w", err)
	}

	r.fallback.Clear()
	r.logger.Log("recovery: migrated %d fallback records", total)
	if r.Notice != nil {
		r.Notice(fmt.Sprintf("Recovered %d records from fallback storage", total))
	}
	return true, nil
}
