package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound indicates the record does not exist.
var ErrNotFound = errors.New("record not found")

var recordsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sitebackup_records_stored_total",
	Help: "Total number of records written by result",
}, []string{"task", "result"})

// PutResult reports what Put did.
type PutResult string

const (
	Created   PutResult = "created"
	Updated   PutResult = "updated"
	Unchanged PutResult = "unchanged"
)

// Record is one stored item.
type Record struct {
	Task        string
	ItemID      string
	Payload     []byte
	ContentHash string
	FetchedAt   time.Time
}

// RecordStore stores raw item payloads keyed by task and item id.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// hashContent computes the xxHash of payload as a hex string.
func hashContent(payload []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// Put upserts a record. A payload identical to the stored one is not
// rewritten and reports Unchanged.
func (s *RecordStore) Put(ctx context.Context, task, itemID string, payload []byte) (PutResult, error) {
	hash := hashContent(payload)

	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM records WHERE task = ? AND item_id = ?
	`, task, itemID).Scan(&existing)

	result := Updated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result = Created
	case err != nil:
		return "", fmt.Errorf("lookup record %s/%s: %w", task, itemID, err)
	case existing == hash:
		recordsStoredTotal.WithLabelValues(task, string(Unchanged)).Inc()
		return Unchanged, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (task, item_id, payload, content_hash, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task, item_id) DO UPDATE SET
			payload = excluded.payload,
			content_hash = excluded.content_hash,
			fetched_at = excluded.fetched_at
	`, task, itemID, string(payload), hash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("store record %s/%s: %w", task, itemID, err)
	}

	recordsStoredTotal.WithLabelValues(task, string(result)).Inc()
	return result, nil
}

// Get retrieves a record.
func (s *RecordStore) Get(ctx context.Context, task, itemID string) (*Record, error) {
	var rec Record
	var payload, fetchedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT task, item_id, payload, content_hash, fetched_at
		FROM records
		WHERE task = ? AND item_id = ?
	`, task, itemID).Scan(&rec.Task, &rec.ItemID, &payload, &rec.ContentHash, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Payload = []byte(payload)
	rec.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fetched_at: %w", err)
	}
	return &rec, nil
}

// Count returns the number of records stored for task.
func (s *RecordStore) Count(ctx context.Context, task string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE task = ?`, task).Scan(&n)
	return n, err
}

// ItemIDs returns the stored item ids of task in insertion order.
func (s *RecordStore) ItemIDs(ctx context.Context, task string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM records WHERE task = ? ORDER BY rowid`, task)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
