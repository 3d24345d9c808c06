package kv

import (
	"context"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/sqlinline"
)

// PostgresStore keeps records in the kv_entries table created by cmd/migrate.
type PostgresStore struct {
	sql    infra.SQLExecutor
	prefix string
}

func NewPostgresStore(sql infra.SQLExecutor, prefix string) *PostgresStore {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	return &PostgresStore{sql: sql, prefix: prefix}
}

func (s *PostgresStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectKVEntry, s.key(key)).Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertKVEntry, s.key(key), value)
	return err
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QInsertKVEntryIfAbsent, s.key(key), value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteKVEntry, s.key(key))
	return err
}

var _ Store = (*PostgresStore)(nil)
