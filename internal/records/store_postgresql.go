package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"gachavault/internal/core"
)

// PostgreSQLStore implements core.RecordStore on PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the records table if needed.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(context.Background(), `
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

	_, err = pool.Exec(context.Background(),
		`CREATE INDEX IF NOT EXISTS idx_gacha_records_type ON gacha_records(facet, uid, gacha_type)`)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Save inserts records with ON CONFLICT DO NOTHING and returns the number
// actually inserted.
func (s *PostgreSQLStore) Save(ctx context.Context, facet core.Facet, records []core.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(records))
	values := make([]any, 0, len(records)*columnsPerRecord)
	for i, r := range records {
		base := i * columnsPerRecord
		nums := make([]string, columnsPerRecord)
		for j := range nums {
			nums[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders[i] = "(" + strings.Join(nums, ", ") + ")"
		values = append(values, string(facet), r.UID, r.ID, r.GachaType, r.GachaID,
			r.ItemID, r.Count, r.Time, r.Name, r.Lang, r.ItemType, r.RankType)
	}

	query := "INSERT INTO gacha_records (facet, uid, id, gacha_type, gacha_id, item_id, count, time, name, lang, item_type, rank_type) VALUES " +
		strings.Join(placeholders, ", ") + " ON CONFLICT DO NOTHING"
	tag, err := s.pool.Exec(ctx, query, values...)
	if err != nil {
		return 0, fmt.Errorf("insert gacha records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Find returns an account's records ordered by id ascending.
func (s *PostgreSQLStore) Find(ctx context.Context, facet core.Facet, uid string, filter core.FindFilter) ([]core.Record, error) {
	query := `SELECT uid, id, gacha_type, gacha_id, item_id, count, time, name, lang, item_type, rank_type
		FROM gacha_records WHERE facet = $1 AND uid = $2`
	args := []any{string(facet), uid}
	if filter.GachaType != "" {
		query += fmt.Sprintf(" AND gacha_type = $%d", len(args)+1)
		args = append(args, filter.GachaType)
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgreSQLStore) DeleteNewerThan(ctx context.Context, facet core.Facet, uid, gachaType, endID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM gacha_records WHERE facet = $1 AND uid = $2 AND gacha_type = $3 AND id > $4`,
		string(facet), uid, gachaType, endID)
	if err != nil {
		return 0, fmt.Errorf("delete gacha records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
