package etl

import (
	"context"
	"time"
)

// Record is one raw upstream record. Numbers are kept as json.Number.
type Record = map[string]interface{}

// Row is one normalized output row, ordered like the resource's fields. nil is NULL.
type Row []interface{}

// PageRequest asks the upstream API for one page of a resource.
type PageRequest struct {
	Endpoint string
	Start    int
	Limit    int
	Params   map[string]string
}

// RawPage is one upstream response. Total is -1 when the API did not report it;
// it is informational only and never used to decide exhaustion.
type RawPage struct {
	Records []Record
	Total   int
}

// PageFetcher fetches a single page. Implementations classify failures with the
// failure package: auth failures are fatal, transport failures may be retried.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (*RawPage, error)
}

// RowWriter persists normalized rows.
type RowWriter interface {
	WriteBatch(rows []Row) error
	Flush() error
	Close() error
	Rows() int
}

// Checkpoint records how far an extraction got. Cursor is the offset of the next page to fetch.
type Checkpoint struct {
	Resource  string    `json:"resource" bson:"_id"`
	Cursor    int       `json:"cursor" bson:"cursor"`
	Pages     int       `json:"pages" bson:"pages"`
	Rows      int       `json:"rows" bson:"rows"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// CheckpointStore persists extraction progress between runs.
type CheckpointStore interface {
	// Load returns (nil, nil) when no checkpoint exists.
	Load(ctx context.Context, resource string) (*Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context, resource string) error
}
