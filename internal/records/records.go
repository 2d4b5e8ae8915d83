// Package records persists fetched gacha records. One store implementation
// per storage backend, all satisfying core.RecordStore: duplicate-tolerant
// batch insert, ordered lookup, and the delete-newer-than repair used by
// full resyncs.
package records

import (
	"fmt"

	"gachavault/internal/core"
	"gachavault/internal/storage"
)

// New creates the record store matching the storage backend. The store does
// not own the connection; closing the store is a no-op and the caller closes
// the storage.
func New(st storage.Storage) (core.RecordStore, error) {
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(st.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(st.PostgresPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(st.MongoDatabase())
	default:
		return nil, fmt.Errorf("unsupported storage type %q", st.Type())
	}
}
