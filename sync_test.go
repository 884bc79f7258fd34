package tether

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/tether/internal/remote"
)

// staticAuth is a fixed AuthProvider for tests.
type staticAuth struct {
	userID string
	token  string
}

func (a *staticAuth) CurrentUserID() string { return a.userID }
func (a *staticAuth) Token() string         { return a.token }

// fakeReplica is an in-memory replica service behind httptest.
type fakeReplica struct {
	mu        sync.Mutex
	rows      []remote.Row
	upserts   [][]remote.Row
	calls     int
	status    int  // non-zero: every request fails with this status
	dropFirst bool // drop the first connection to simulate a network error
}

func (f *fakeReplica) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls++
		call := f.calls
		status := f.status
		drop := f.dropFirst && call == 1
		f.mu.Unlock()

		if drop {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("response writer does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}

		if status != 0 {
			http.Error(w, "replica error", status)
			return
		}

		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/records/"):
			kind := strings.TrimPrefix(r.URL.Path, "/api/v1/records/")
			since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

			f.mu.Lock()
			var out []remote.Row
			for _, row := range f.rows {
				if row.Kind == kind && row.LastModified > since {
					out = append(out, row)
				}
			}
			f.mu.Unlock()

			_ = json.NewEncoder(w).Encode(remote.SelectResponse{Rows: out})

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/records":
			var req remote.UpsertRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.upserts = append(f.upserts, req.Rows)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(remote.UpsertResponse{Upserted: len(req.Rows)})

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeReplica) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeReplica) pushedRows() []remote.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []remote.Row
	for _, batch := range f.upserts {
		all = append(all, batch...)
	}
	return all
}

type syncHarness struct {
	store   *Store
	ledger  *Ledger
	replica *fakeReplica
	syncer  *Syncer
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()

	store := newTestStore(t)
	logger := newTestLogger(t)
	ledger := NewLedger(t.TempDir(), logger)

	settings, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if err := settings.SetCloudSyncEnabled(true); err != nil {
		t.Fatalf("SetCloudSyncEnabled failed: %v", err)
	}

	replica := &fakeReplica{}
	server := httptest.NewServer(replica.handler())
	t.Cleanup(server.Close)

	client := remote.NewHTTPClient(server.URL, func() string { return "test-token" })
	auth := &staticAuth{userID: "user-1", token: "test-token"}
	syncer := NewSyncer(store, ledger, client, auth, settings, logger)

	return &syncHarness{store: store, ledger: ledger, replica: replica, syncer: syncer}
}

// TestSyncer_DisabledSettings verifies a cycle refuses to run when cloud sync
// is off.
func TestSyncer_DisabledSettings(t *testing.T) {
	h := newSyncHarness(t)
	if err := h.syncer.settings.SetCloudSyncEnabled(false); err != nil {
		t.Fatalf("SetCloudSyncEnabled failed: %v", err)
	}

	result := h.syncer.SyncNow(context.Background())
	if result.OK {
		t.Error("OK = true with cloud sync disabled")
	}
	if h.replica.callCount() != 0 {
		t.Errorf("replica saw %d calls, want 0", h.replica.callCount())
	}
}

// TestSyncer_OfflineWithoutRemote verifies the result when no remote client
// is configured.
func TestSyncer_OfflineWithoutRemote(t *testing.T) {
	h := newSyncHarness(t)
	h.syncer.remote = nil

	result := h.syncer.SyncNow(context.Background())
	if result.OK {
		t.Error("OK = true without a remote")
	}
	if result.Message != ErrOffline.Error() {
		t.Errorf("Message = %q, want %q", result.Message, ErrOffline.Error())
	}
}

// TestSyncer_NoAuthenticatedUser verifies the auth failure code without a
// signed-in user.
func TestSyncer_NoAuthenticatedUser(t *testing.T) {
	h := newSyncHarness(t)
	h.syncer.auth = &staticAuth{}

	result := h.syncer.SyncNow(context.Background())
	if result.OK || result.FailureCode != FailureAuth {
		t.Errorf("result = %+v, want auth failure", result)
	}
	if h.replica.callCount() != 0 {
		t.Errorf("replica saw %d calls, want 0", h.replica.callCount())
	}
}

// TestSyncer_ConcurrentTriggerDropped verifies a trigger while a cycle is in
// flight is dropped, not queued.
func TestSyncer_ConcurrentTriggerDropped(t *testing.T) {
	h := newSyncHarness(t)
	h.syncer.running = true

	result := h.syncer.SyncNow(context.Background())
	if result.OK || result.Message != ErrSyncRunning.Error() {
		t.Errorf("result = %+v, want dropped trigger", result)
	}
}

// TestSyncer_PullAppliesNewerRemote verifies a remote row newer than the
// local record replaces it whole.
func TestSyncer_PullAppliesNewerRemote(t *testing.T) {
	h := newSyncHarness(t)

	local := Record{ID: "e1", LastModified: 100, Fields: map[string]any{"content": "stale", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, local); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.replica.rows = []remote.Row{{
		UserID: "user-1", Kind: "journal", ID: "e1", LastModified: 200,
		Payload: json.RawMessage(`{"content":"fresh","timestamp":150}`),
	}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.AppliedRemote != 1 {
		t.Errorf("AppliedRemote = %d, want 1", result.AppliedRemote)
	}

	got, err := h.store.Get(KindJournal, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Fields["content"] != "fresh" || got.LastModified != 200 {
		t.Errorf("record = %+v, want the remote version", got)
	}
	if cursor := h.syncer.readCursor(pullCursorKey(KindJournal)); cursor != 200 {
		t.Errorf("pull cursor = %d, want 200", cursor)
	}
}

// TestSyncer_PullLocalNewerWins verifies the local record survives when it is
// strictly newer than the remote row.
func TestSyncer_PullLocalNewerWins(t *testing.T) {
	h := newSyncHarness(t)

	local := Record{ID: "e1", LastModified: 150, Fields: map[string]any{"content": "mine", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, local); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.replica.rows = []remote.Row{{
		Kind: "journal", ID: "e1", LastModified: 100,
		Payload: json.RawMessage(`{"content":"theirs","timestamp":90}`),
	}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.AppliedRemote != 0 {
		t.Errorf("AppliedRemote = %d, want 0", result.AppliedRemote)
	}

	got, err := h.store.Get(KindJournal, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Fields["content"] != "mine" {
		t.Errorf("content = %v, local record lost", got.Fields["content"])
	}
}

// TestSyncer_RemoteDeletionApplied verifies a remote deletion at or after the
// local timestamp removes the record and leaves a tombstone.
func TestSyncer_RemoteDeletionApplied(t *testing.T) {
	h := newSyncHarness(t)

	local := Record{ID: "e1", LastModified: 200, Fields: map[string]any{"content": "doomed", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, local); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.replica.rows = []remote.Row{{Kind: "journal", ID: "e1", LastModified: 250, Deleted: true}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}

	if _, err := h.store.Get(KindJournal, "e1"); err == nil {
		t.Error("deleted record still present")
	}
	tomb := h.ledger.Get(KindJournal, "e1")
	if tomb == nil || tomb.LastModified != 250 {
		t.Errorf("tombstone = %+v, want lastModified 250", tomb)
	}
}

// TestSyncer_RemoteDeletionLosesToNewerLocal verifies a strictly newer local
// record survives a stale remote deletion.
func TestSyncer_RemoteDeletionLosesToNewerLocal(t *testing.T) {
	h := newSyncHarness(t)

	local := Record{ID: "e1", LastModified: 200, Fields: map[string]any{"content": "survivor", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, local); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.replica.rows = []remote.Row{{Kind: "journal", ID: "e1", LastModified: 150, Deleted: true}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}

	if _, err := h.store.Get(KindJournal, "e1"); err != nil {
		t.Errorf("newer local record was deleted: %v", err)
	}
	if tomb := h.ledger.Get(KindJournal, "e1"); tomb != nil {
		t.Errorf("stale deletion left a tombstone: %+v", tomb)
	}
}

// TestSyncer_TombstoneSuppressesPulledRow verifies a local deletion at or
// after the remote row's timestamp blocks resurrection.
func TestSyncer_TombstoneSuppressesPulledRow(t *testing.T) {
	h := newSyncHarness(t)

	h.ledger.Upsert(KindJournal, "e1", 300)
	h.replica.rows = []remote.Row{{
		Kind: "journal", ID: "e1", LastModified: 250,
		Payload: json.RawMessage(`{"content":"zombie","timestamp":1}`),
	}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.AppliedRemote != 0 {
		t.Errorf("AppliedRemote = %d, want 0", result.AppliedRemote)
	}
	if _, err := h.store.Get(KindJournal, "e1"); err == nil {
		t.Error("deleted record was resurrected by a stale remote row")
	}
}

// TestSyncer_NewerPulledRowClearsTombstone verifies a remote update strictly
// newer than the local tombstone resurrects the record and drops the
// tombstone.
func TestSyncer_NewerPulledRowClearsTombstone(t *testing.T) {
	h := newSyncHarness(t)

	h.ledger.Upsert(KindJournal, "e1", 200)
	h.replica.rows = []remote.Row{{
		Kind: "journal", ID: "e1", LastModified: 300,
		Payload: json.RawMessage(`{"content":"reborn","timestamp":1}`),
	}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}

	if _, err := h.store.Get(KindJournal, "e1"); err != nil {
		t.Errorf("newer remote update was suppressed: %v", err)
	}
	if tomb := h.ledger.Get(KindJournal, "e1"); tomb != nil {
		t.Errorf("tombstone survived a newer live update: %+v", tomb)
	}
}

// TestSyncer_InvalidPulledRowSkipped verifies a malformed pulled record is
// skipped without failing the cycle.
func TestSyncer_InvalidPulledRowSkipped(t *testing.T) {
	h := newSyncHarness(t)

	h.replica.rows = []remote.Row{{
		Kind: "journal", ID: "bad", LastModified: 100,
		Payload: json.RawMessage(`{"timestamp":1}`), // no content
	}}

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed on an invalid row: %s", result.Message)
	}
	if result.AppliedRemote != 0 {
		t.Errorf("AppliedRemote = %d, want 0", result.AppliedRemote)
	}
}

// TestSyncer_PushSendsRecordsAndTombstones verifies local changes and
// deletions both reach the replica and advance the push cursor.
func TestSyncer_PushSendsRecordsAndTombstones(t *testing.T) {
	h := newSyncHarness(t)

	rec := Record{ID: "e1", LastModified: 100, Fields: map[string]any{"content": "out", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.ledger.Upsert(KindJournal, "gone", 200)

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.PushedLocal != 2 {
		t.Errorf("PushedLocal = %d, want 2", result.PushedLocal)
	}

	rows := h.replica.pushedRows()
	byID := make(map[string]remote.Row, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	if row, ok := byID["e1"]; !ok || row.Deleted || row.UserID != "user-1" {
		t.Errorf("pushed record row = %+v", row)
	}
	if row, ok := byID["gone"]; !ok || !row.Deleted || row.LastModified != 200 {
		t.Errorf("pushed tombstone row = %+v", row)
	}
	if cursor := h.syncer.readCursor(pushCursorKey(KindJournal)); cursor != 200 {
		t.Errorf("push cursor = %d, want 200", cursor)
	}
}

// TestSyncer_TombstoneShadowsLocalRecordOnPush verifies a live record left
// behind by a crash is not pushed when its tombstone is at or after it.
func TestSyncer_TombstoneShadowsLocalRecordOnPush(t *testing.T) {
	h := newSyncHarness(t)

	rec := Record{ID: "e1", LastModified: 100, Fields: map[string]any{"content": "orphan", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	h.ledger.Upsert(KindJournal, "e1", 150)

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}

	for _, row := range h.replica.pushedRows() {
		if row.ID == "e1" && !row.Deleted {
			t.Error("shadowed live record was pushed")
		}
	}
}

// TestSyncer_SecondCycleSkipsCleanState verifies a repeat cycle with nothing
// new makes no upsert calls.
func TestSyncer_SecondCycleSkipsCleanState(t *testing.T) {
	h := newSyncHarness(t)

	rec := Record{ID: "e1", LastModified: 100, Fields: map[string]any{"content": "once", "timestamp": float64(1)}}
	if err := h.store.PutRecord(KindJournal, rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	if result := h.syncer.SyncNow(context.Background()); !result.OK {
		t.Fatalf("first sync failed: %s", result.Message)
	}

	h.replica.mu.Lock()
	upsertsAfterFirst := len(h.replica.upserts)
	h.replica.mu.Unlock()

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("second sync failed: %s", result.Message)
	}
	if result.PushedLocal != 0 {
		t.Errorf("second cycle pushed %d rows, want 0", result.PushedLocal)
	}

	h.replica.mu.Lock()
	upsertsAfterSecond := len(h.replica.upserts)
	h.replica.mu.Unlock()
	if upsertsAfterSecond != upsertsAfterFirst {
		t.Errorf("second cycle made %d upsert calls", upsertsAfterSecond-upsertsAfterFirst)
	}
}

// TestSyncer_RetriesOnceOnNetworkError verifies a dropped connection is
// retried once and the retry is counted.
func TestSyncer_RetriesOnceOnNetworkError(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the retry delay")
	}
	h := newSyncHarness(t)
	h.replica.dropFirst = true

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed despite the retry: %s", result.Message)
	}
	if result.Retries != 1 {
		t.Errorf("Retries = %d, want 1", result.Retries)
	}
}

// TestSyncer_ServerErrorSetsCooldown verifies a failed cycle escalates the
// failure counter and the next trigger is paused with no network calls.
func TestSyncer_ServerErrorSetsCooldown(t *testing.T) {
	h := newSyncHarness(t)
	h.replica.status = http.StatusInternalServerError

	result := h.syncer.SyncNow(context.Background())
	if result.OK {
		t.Fatal("OK = true despite server errors")
	}
	if result.FailureCode != FailureServer {
		t.Errorf("FailureCode = %q, want %q", result.FailureCode, FailureServer)
	}
	if failures := h.syncer.readInt(metaSyncFailures); failures != 1 {
		t.Errorf("failure counter = %d, want 1", failures)
	}

	callsAfterFailure := h.replica.callCount()
	paused := h.syncer.SyncNow(context.Background())
	if !paused.Paused {
		t.Errorf("second trigger = %+v, want paused", paused)
	}
	if paused.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, want positive", paused.RetryAfter)
	}
	if h.replica.callCount() != callsAfterFailure {
		t.Error("paused trigger still reached the network")
	}
}

// TestSyncer_AuthFailureDoesNotEscalate verifies rejected credentials never
// bump the failure counter or set a cooldown.
func TestSyncer_AuthFailureDoesNotEscalate(t *testing.T) {
	h := newSyncHarness(t)
	h.replica.status = http.StatusUnauthorized

	result := h.syncer.SyncNow(context.Background())
	if result.OK || result.FailureCode != FailureAuth {
		t.Errorf("result = %+v, want auth failure", result)
	}
	if failures := h.syncer.readInt(metaSyncFailures); failures != 0 {
		t.Errorf("failure counter = %d, want 0", failures)
	}
	if remaining := h.syncer.cooldownRemaining(); remaining != 0 {
		t.Errorf("cooldown = %s, want none", remaining)
	}
}

// TestSyncer_SuccessResetsCooldown verifies a clean cycle clears the failure
// counter and records the sync time.
func TestSyncer_SuccessResetsCooldown(t *testing.T) {
	h := newSyncHarness(t)

	// seed a prior failure state but with an expired deadline
	_ = h.store.SetMeta(metaSyncFailures, "3")
	_ = h.store.SetMeta(metaCooldownUntil, strconv.FormatInt(time.Now().Add(-time.Minute).UnixMilli(), 10))

	result := h.syncer.SyncNow(context.Background())
	if !result.OK {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if failures := h.syncer.readInt(metaSyncFailures); failures != 0 {
		t.Errorf("failure counter = %d, want 0", failures)
	}
	if lastSync := h.syncer.readInt(metaLastSync); lastSync == 0 {
		t.Error("last sync time not recorded")
	}
}

// TestCooldownDelay_Escalation verifies the doubling schedule and its cap.
func TestCooldownDelay_Escalation(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 16 * time.Minute},
		{7, 30 * time.Minute},
		{100, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := cooldownDelay(tc.failures); got != tc.want {
			t.Errorf("cooldownDelay(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}
