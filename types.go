package tether

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies one of the four replicated record collections.
type Kind string

const (
	KindJournal   Kind = "journal"
	KindSkills    Kind = "skills"
	KindSolutions Kind = "solutions"
	KindInsights  Kind = "insights"
)

// Kinds returns all replicated record kinds in sync order.
func Kinds() []Kind {
	return []Kind{KindJournal, KindSkills, KindSolutions, KindInsights}
}

// RecoverableKinds returns the kinds the recovery coordinator migrates out
// of the fallback store.
func RecoverableKinds() []Kind {
	return []Kind{KindJournal, KindSkills, KindInsights}
}

// IsValid checks if the kind is one of the four record collections.
func (k Kind) IsValid() bool {
	switch k {
	case KindJournal, KindSkills, KindSolutions, KindInsights:
		return true
	}
	return false
}

// Record is a single replicated record of any kind. ID is caller-generated
// and stable across devices; LastModified is milliseconds since epoch and is
// the sole conflict tie-breaker. Fields holds the kind-specific payload,
// which the core treats opaquely beyond normalization.
type Record struct {
	ID           string
	LastModified int64
	Fields       map[string]any
}

// MarshalJSON encodes the record as a flat object: id and lastModified
// alongside the payload fields, matching the on-disk and wire shape.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["id"] = r.ID
	flat["lastModified"] = r.LastModified
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a flat record object, splitting id and lastModified
// out of the payload fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if id, ok := flat["id"].(string); ok {
		r.ID = id
	}
	if lm, ok := asMillis(flat["lastModified"]); ok {
		r.LastModified = lm
	}
	delete(flat, "id")
	delete(flat, "lastModified")
	r.Fields = flat
	return nil
}

// Clone returns a deep-enough copy for safe mutation of top-level fields.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, LastModified: r.LastModified, Fields: fields}
}

// Tombstone records that a (kind,id) pair was deleted at a given time.
type Tombstone struct {
	Kind         Kind   `json:"kind"`
	ID           string `json:"id"`
	LastModified int64  `json:"lastModified"`
}

// Key returns the ledger key for this tombstone.
func (t Tombstone) Key() string {
	return string(t.Kind) + ":" + t.ID
}

// FailureCode classifies why a sync cycle failed.
type FailureCode string

const (
	FailureAuth    FailureCode = "auth"
	FailureNetwork FailureCode = "network"
	FailureServer  FailureCode = "server"
)

// SyncResult is the observable outcome of a single SyncNow trigger.
type SyncResult struct {
	OK            bool          `json:"ok"`
	AppliedRemote int           `json:"applied_remote"`
	PushedLocal   int           `json:"pushed_local"`
	Retries       int           `json:"retries"`
	Paused        bool          `json:"paused,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
	Message       string        `json:"message,omitempty"`
	FailureCode   FailureCode   `json:"failure_code,omitempty"`
}

// Stats describes the local replica state.
type Stats struct {
	Counts              map[Kind]int `json:"counts"`
	Tombstones          int          `json:"tombstones"`
	SchemaVersion       int64        `json:"schema_version"`
	LastSync            time.Time    `json:"last_sync"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CooldownUntil       time.Time    `json:"cooldown_until"`
	Degraded            bool         `json:"degraded"`
}

// NormalizeRecord validates and normalizes a record's payload for its kind.
// Journal records are rejected (ValidationError) when content is empty or no
// usable timestamp is present; the other kinds only receive schema defaults
// and timestamp coercion and never fail.
func NormalizeRecord(kind Kind, rec *Record) error {
	fn, ok := normalizers[kind]
	if !ok {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", kind)}
	}
	return fn(rec)
}

type normalizeFunc func(*Record) error

var normalizers = map[Kind]normalizeFunc{
	KindJournal:   normalizeJournal,
	KindSkills:    normalizeSkills,
	KindSolutions: normalizeSolutions,
	KindInsights:  normalizeInsights,
}

func normalizeJournal(rec *Record) error {
	content, _ := rec.Fields["content"].(string)
	if content == "" {
		return &ValidationError{Field: "content", Message: "journal entry requires non-empty content"}
	}
	ts, ok := asMillis(rec.Fields["timestamp"])
	if !ok {
		return &ValidationError{Field: "timestamp", Message: "journal entry requires a numeric or parseable timestamp"}
	}
	rec.Fields["timestamp"] = ts
	return nil
}

func normalizeSkills(rec *Record) error {
	defaultList(rec, "sourceEntryIds")
	coerceMillis(rec, "createdAt")
	return nil
}

func normalizeSolutions(rec *Record) error {
	defaultList(rec, "sourceEntryIds")
	defaultList(rec, "steps")
	coerceMillis(rec, "timestamp")
	coerceMillis(rec, "createdAt")
	return nil
}

func normalizeInsights(rec *Record) error {
	defaultList(rec, "sourceEntryIds")
	coerceMillis(rec, "timestamp")
	coerceMillis(rec, "createdAt")
	return nil
}

func defaultList(rec *Record, field string) {
	if _, ok := rec.Fields[field].([]any); !ok {
		rec.Fields[field] = []any{}
	}
}

// coerceMillis rewrites a timestamp-like field into numeric form when it can
// be parsed; unparseable values are left alone (defaults never reject).
func coerceMillis(rec *Record, field string) {
	v, present := rec.Fields[field]
	if !present {
		return
	}
	if ms, ok := asMillis(v); ok {
		rec.Fields[field] = ms
	}
}

// asMillis converts a JSON-decoded timestamp value to epoch milliseconds.
// Accepts numeric values as-is and date strings in RFC 3339 or date-only
// form.
func asMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, n); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	}
	return 0, false
}
