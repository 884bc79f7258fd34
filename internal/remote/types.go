package remote

import "encoding/json"

// Row is one record row in the remote replica table, primary key
// (userId, kind, id). Deletion is represented as deleted=true with an
// updated lastModified, never row removal, so the remote acts as its own
// tombstone source during pull.
type Row struct {
	UserID       string          `json:"userId"`
	Kind         string          `json:"kind"`
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	LastModified int64           `json:"lastModified"`
	Deleted      bool            `json:"deleted"`
}

// SelectResponse from GET /api/v1/records/{kind}
type SelectResponse struct {
	Rows []Row `json:"rows"`
}

// UpsertRequest for POST /api/v1/records
type UpsertRequest struct {
	Rows []Row `json:"rows"`
}

// UpsertResponse from POST /api/v1/records
type UpsertResponse struct {
	Upserted int      `json:"upserted"`
	Errors   []string `json:"errors,omitempty"`
}
