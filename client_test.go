package tether

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testClientConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		LocalPath:    filepath.Join(dir, "tether.db"),
		FallbackDir:  filepath.Join(dir, "fallback"),
		LedgerDir:    filepath.Join(dir, "ledger"),
		SettingsPath: filepath.Join(dir, "settings.yaml"),
	}
}

// TestNew_ValidConfig verifies a client opens against explicit paths.
func TestNew_ValidConfig(t *testing.T) {
	client, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()
}

// TestNew_InvalidProfile verifies profile validation runs at construction.
func TestNew_InvalidProfile(t *testing.T) {
	cfg := testClientConfig(t)
	cfg.Profile = "Bad Profile Name"

	_, err := New(cfg)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// TestClient_PutGetDelete verifies the basic record lifecycle.
func TestClient_PutGetDelete(t *testing.T) {
	client, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	rec := Record{ID: "e1", Fields: map[string]any{"content": "hello", "timestamp": float64(1)}}
	if err := client.Put(KindJournal, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := client.Get(KindJournal, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastModified == 0 {
		t.Error("Put did not stamp lastModified")
	}
	if got.Fields["content"] != "hello" {
		t.Errorf("content = %v", got.Fields["content"])
	}

	records, err := client.List(KindJournal)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List = %d records, want 1", len(records))
	}

	if err := client.Delete(KindJournal, "e1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := client.Get(KindJournal, "e1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v, want ErrNotFound", err)
	}
	if tomb := client.ledger.Get(KindJournal, "e1"); tomb == nil {
		t.Error("Delete left no tombstone")
	}
}

// TestClient_Put_RejectsInvalidJournal verifies validation runs before any
// write.
func TestClient_Put_RejectsInvalidJournal(t *testing.T) {
	client, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	err = client.Put(KindJournal, Record{ID: "e1", Fields: map[string]any{"timestamp": float64(1)}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if _, err := client.Get(KindJournal, "e1"); !errors.Is(err, ErrNotFound) {
		t.Error("invalid record was written anyway")
	}
}

// TestClient_Put_ClearsOlderTombstone verifies a fresh write supersedes a
// prior deletion of the same id.
func TestClient_Put_ClearsOlderTombstone(t *testing.T) {
	client, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	if err := client.Delete(KindJournal, "e1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	rec := Record{ID: "e1", Fields: map[string]any{"content": "back", "timestamp": float64(1)}}
	if err := client.Put(KindJournal, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if tomb := client.ledger.Get(KindJournal, "e1"); tomb != nil {
		t.Errorf("tombstone survived a newer write: %+v", tomb)
	}
	if _, err := client.Get(KindJournal, "e1"); err != nil {
		t.Errorf("rewritten record missing: %v", err)
	}
}

// TestClient_DegradesToFallback verifies operations keep working when the
// primary store cannot be opened.
func TestClient_DegradesToFallback(t *testing.T) {
	cfg := testClientConfig(t)
	// a regular file where the database directory should be
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	cfg.LocalPath = filepath.Join(blocked, "sub", "tether.db")

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	rec := Record{ID: "e1", Fields: map[string]any{"content": "degraded", "timestamp": float64(1)}}
	if err := client.Put(KindJournal, rec); err != nil {
		t.Fatalf("Put on degraded client failed: %v", err)
	}

	got, err := client.Get(KindJournal, "e1")
	if err != nil {
		t.Fatalf("Get on degraded client failed: %v", err)
	}
	if got.Fields["content"] != "degraded" {
		t.Errorf("content = %v", got.Fields["content"])
	}

	stats, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !stats.Degraded {
		t.Error("Status does not report degradation")
	}

	result := client.SyncNow(context.Background())
	if result.OK {
		t.Error("sync succeeded without a primary store")
	}
}

// TestClient_RecoveryOnOpen verifies fallback records written by a previous
// degraded session merge into the store on the next clean open.
func TestClient_RecoveryOnOpen(t *testing.T) {
	cfg := testClientConfig(t)
	logger := newTestLogger(t)

	// a previous session left records in the fallback store
	fb := NewFallback(cfg.FallbackDir, logger)
	fb.Save(KindJournal, Record{ID: "e1", LastModified: 100, Fields: map[string]any{"content": "left behind", "timestamp": float64(1)}})

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	got, err := client.Get(KindJournal, "e1")
	if err != nil {
		t.Fatalf("recovered record missing: %v", err)
	}
	if got.Fields["content"] != "left behind" {
		t.Errorf("content = %v", got.Fields["content"])
	}
	if !client.fallback.Empty() {
		t.Error("fallback not cleared after recovery")
	}
}

// TestClient_Status_Counts verifies per-kind counts and the schema version.
func TestClient_Status_Counts(t *testing.T) {
	client, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	if err := client.Put(KindJournal, Record{ID: "e1", Fields: map[string]any{"content": "a", "timestamp": float64(1)}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := client.Put(KindSkills, Record{ID: "s1", Fields: map[string]any{"name": "b"}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stats, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if stats.Counts[KindJournal] != 1 || stats.Counts[KindSkills] != 1 || stats.Counts[KindSolutions] != 0 {
		t.Errorf("Counts = %v", stats.Counts)
	}
	if stats.SchemaVersion == 0 {
		t.Error("SchemaVersion not reported")
	}
	if stats.Degraded {
		t.Error("healthy client reports degradation")
	}
}

// TestClient_ExportImport verifies the backup path through the client facade.
func TestClient_ExportImport(t *testing.T) {
	source, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer source.Close()

	rec := Record{
		ID:     "0f4cdd1c-9d71-4b9e-9f1a-b9f6f7a38a20",
		Fields: map[string]any{"content": "exported", "timestamp": float64(1)},
	}
	if err := source.Put(KindJournal, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	doc, err := source.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	target, err := New(testClientConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer target.Close()

	result, err := target.Import(doc)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if _, err := target.Get(KindJournal, rec.ID); err != nil {
		t.Errorf("imported record missing: %v", err)
	}
}
