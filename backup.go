package tether

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// BackupVersion is the current backup document schema version.
const BackupVersion = 2

// BackupMeta describes a backup document. Only Version gates import;
// AppVersion and DBVersion are informational.
type BackupMeta struct {
	Version    int    `json:"version"`
	ExportedAt int64  `json:"exportedAt"`
	AppVersion string `json:"appVersion,omitempty"`
	DBVersion  int64  `json:"dbVersion,omitempty"`
}

// BackupCollections holds one snapshot of the four record collections.
// Entries is a legacy alias for Journal accepted on import; exports always
// write Journal.
type BackupCollections struct {
	Journal   []Record `json:"journal,omitempty"`
	Entries   []Record `json:"entries,omitempty"`
	Skills    []Record `json:"skills,omitempty"`
	Solutions []Record `json:"solutions,omitempty"`
	Insights  []Record `json:"insights,omitempty"`
}

// journalOrAlias returns the journal collection, honoring the legacy
// `entries` field name when `journal` is absent.
func (c *BackupCollections) journalOrAlias() []Record {
	if c.Journal != nil {
		return c.Journal
	}
	return c.Entries
}

func (c *BackupCollections) byKind(kind Kind) []Record {
	switch kind {
	case KindJournal:
		return c.journalOrAlias()
	case KindSkills:
		return c.Skills
	case KindSolutions:
		return c.Solutions
	case KindInsights:
		return c.Insights
	}
	return nil
}

// BackupDocument is the portable export/import file format.
type BackupDocument struct {
	Meta      BackupMeta         `json:"meta"`
	Journal   []Record           `json:"journal"`
	Entries   []Record           `json:"entries,omitempty"`
	Skills    []Record           `json:"skills"`
	Solutions []Record           `json:"solutions"`
	Insights  []Record           `json:"insights"`
	Fallback  *BackupCollections `json:"fallback,omitempty"`
}

func (d *BackupDocument) primary() BackupCollections {
	return BackupCollections{
		Journal:   d.Journal,
		Entries:   d.Entries,
		Skills:    d.Skills,
		Solutions: d.Solutions,
		Insights:  d.Insights,
	}
}

// ImportResult summarizes an import: skipped records failed validation and
// were counted, never fatal.
type ImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Backup serializes and restores the full record set of both stores.
type Backup struct {
	store      *Store
	fallback   *Fallback
	appVersion string
}

// NewBackup creates a backup codec over the primary and fallback stores.
func NewBackup(store *Store, fallback *Fallback, appVersion string) *Backup {
	return &Backup{store: store, fallback: fallback, appVersion: appVersion}
}

// ExportAll builds a versioned backup document from the primary store,
// including a fallback section when the fallback store holds records.
func (b *Backup) ExportAll() (*BackupDocument, error) {
	doc := &BackupDocument{
		Meta: BackupMeta{
			Version:    BackupVersion,
			ExportedAt: time.Now().UnixMilli(),
			AppVersion: b.appVersion,
			DBVersion:  b.store.Version(),
		},
	}

	for _, kind := range Kinds() {
		records, err := b.store.GetAll(kind)
		if err != nil {
			return nil, fmt.Errorf("backup: export %s: %w", kind, err)
		}
		doc.setPrimary(kind, records)
	}

	var fb BackupCollections
	hasFallback := false
	for _, kind := range Kinds() {
		records := b.fallback.Load(kind)
		if len(records) == 0 {
			continue
		}
		hasFallback = true
		fb.set(kind, records)
	}
	if hasFallback {
		doc.Fallback = &fb
	}

	return doc, nil
}

func (d *BackupDocument) setPrimary(kind Kind, records []Record) {
	switch kind {
	case KindJournal:
		d.Journal = records
	case KindSkills:
		d.Skills = records
	case KindSolutions:
		d.Solutions = records
	case KindInsights:
		d.Insights = records
	}
}

func (c *BackupCollections) set(kind Kind, records []Record) {
	switch kind {
	case KindJournal:
		c.Journal = records
	case KindSkills:
		c.Skills = records
	case KindSolutions:
		c.Solutions = records
	case KindInsights:
		c.Insights = records
	}
}

// ImportAll validates and writes a backup document into the primary store.
// The primary and fallback collections of each kind are merged by id with
// later entries winning, independent of lastModified: both come from the
// same device snapshot, so insertion order is the tie-breaker.
func (b *Backup) ImportAll(doc *BackupDocument) (*ImportResult, error) {
	if doc.Meta.Version != BackupVersion {
		return nil, &ValidationError{
			Field:   "meta.version",
			Message: fmt.Sprintf("unsupported backup version %d (expected %d)", doc.Meta.Version, BackupVersion),
		}
	}

	result := &ImportResult{}
	primary := doc.primary()
	batch := make(map[Kind][]Record)

	for _, kind := range Kinds() {
		merged := make(map[string]Record)
		order := make([]string, 0)

		sections := [][]Record{primary.byKind(kind)}
		if doc.Fallback != nil {
			sections = append(sections, doc.Fallback.byKind(kind))
		}

		for _, section := range sections {
			for _, rec := range section {
				result.Total++
				rec := rec.Clone()
				if rec.Fields == nil {
					rec.Fields = map[string]any{}
				}
				if !validRecordID(rec.ID) {
					result.Skipped++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: malformed id %q", kind, rec.ID))
					continue
				}
				if err := NormalizeRecord(kind, &rec); err != nil {
					result.Skipped++
					result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", kind, rec.ID, err))
					continue
				}
				if _, seen := merged[rec.ID]; !seen {
					order = append(order, rec.ID)
				}
				merged[rec.ID] = rec
			}
		}

		for _, id := range order {
			batch[kind] = append(batch[kind], merged[id])
		}
	}

	if err := b.store.PutRecords(batch); err != nil {
		return result, fmt.Errorf("backup: import records: %w", err)
	}
	for _, records := range batch {
		result.Imported += len(records)
	}

	return result, nil
}

// validRecordID reports whether an id parses as a well-formed unique
// identifier. Both UUIDs and ULIDs appear in the wild, so either is
// accepted.
func validRecordID(id string) bool {
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	if _, err := ulid.ParseStrict(id); err == nil {
		return true
	}
	return false
}
