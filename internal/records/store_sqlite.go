package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gachavault/internal/core"
)

// SQLite has a default limit of 999 bindable parameters per query. With 12
// columns per record that allows 83 records per insert statement.
const (
	maxSQLiteParams    = 999
	columnsPerRecord   = 12
	maxRecordsPerBatch = maxSQLiteParams / columnsPerRecord
)

// SQLiteStore implements core.RecordStore on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the records table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gacha_records (
			facet TEXT NOT NULL,
			uid TEXT NOT NULL,
			id TEXT NOT NULL,
			gacha_type TEXT NOT NULL,
			gacha_id TEXT NOT NULL DEFAULT '',
			item_id TEXT NOT NULL DEFAULT '',
			count TEXT NOT NULL DEFAULT '',
			time TEXT NOT NULL,
			name TEXT NOT NULL,
			lang TEXT NOT NULL,
			item_type TEXT NOT NULL,
			rank_type TEXT NOT NULL,
			PRIMARY KEY (facet, uid, id)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create gacha_records table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_gacha_records_type ON gacha_records(facet, uid, gacha_type)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Save inserts records, skipping ids already present, chunked to stay within
// SQLite's parameter limit. Returns the number actually inserted.
func (s *SQLiteStore) Save(ctx context.Context, facet core.Facet, records []core.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var inserted int64
	for i := 0; i < len(records); i += maxRecordsPerBatch {
		end := i + maxRecordsPerBatch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerRecord)
		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values, string(facet), r.UID, r.ID, r.GachaType, r.GachaID,
				r.ItemID, r.Count, r.Time, r.Name, r.Lang, r.ItemType, r.RankType)
		}

		query := "INSERT OR IGNORE INTO gacha_records (facet, uid, id, gacha_type, gacha_id, item_id, count, time, name, lang, item_type, rank_type) VALUES " +
			strings.Join(placeholders, ", ")
		result, err := s.db.ExecContext(ctx, query, values...)
		if err != nil {
			return inserted, fmt.Errorf("insert gacha records: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("count inserted records: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

// Find returns an account's records ordered by id ascending.
func (s *SQLiteStore) Find(ctx context.Context, facet core.Facet, uid string, filter core.FindFilter) ([]core.Record, error) {
	query := `SELECT uid, id, gacha_type, gacha_id, item_id, count, time, name, lang, item_type, rank_type
		FROM gacha_records WHERE facet = ? AND uid = ?`
	args := []any{string(facet), uid}
	if filter.GachaType != "" {
		query += " AND gacha_type = ?"
		args = append(args, filter.GachaType)
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gacha records: %w", err)
	}
	defer rows.Close()

	var result []core.Record
	for rows.Next() {
		var r core.Record
		if err := rows.Scan(&r.UID, &r.ID, &r.GachaType, &r.GachaID, &r.ItemID,
			&r.Count, &r.Time, &r.Name, &r.Lang, &r.ItemType, &r.RankType); err != nil {
			return nil, fmt.Errorf("scan gacha record: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// DeleteNewerThan removes records of one gacha type with id > endID.
func (s *SQLiteStore) DeleteNewerThan(ctx context.Context, facet core.Facet, uid, gachaType, endID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM gacha_records WHERE facet = ? AND uid = ? AND gacha_type = ? AND id > ?`,
		string(facet), uid, gachaType, endID)
	if err != nil {
		return 0, fmt.Errorf("delete gacha records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted records: %w", err)
	}
	return n, nil
}

// Close is a no-op; the connection belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
