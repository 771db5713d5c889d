package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/lib/pq"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/postgres"
)

// PostgresStore keeps every item as one row of a single table:
//
//	CREATE TABLE catalog_items (
//	    pk         TEXT NOT NULL,
//	    sk         TEXT NOT NULL,
//	    data       JSONB NOT NULL DEFAULT '{}'::jsonb,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (pk, sk)
//	);
//
// Merge uses the JSONB concatenation operator so concurrent writers that
// touch disjoint attributes never overwrite each other. Prefix lookups are
// LIKE 'prefix%' queries served by a text_pattern_ops index on pk.
type PostgresStore struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func NewPostgresStore(db *postgres.Client, table string) *PostgresStore {
	return &PostgresStore{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: slog.Default().With("component", "kvstore-postgres", "table", table),
	}
}

// Migrate creates the table and its prefix index if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			pk         TEXT NOT NULL,
			sk         TEXT NOT NULL,
			data       JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (pk, sk)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (pk text_pattern_ops)`,
			pq.QuoteIdentifier(unquoted(s.table)+"_pk_prefix"), s.table),
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return unavailable("migrating", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Item, error) {
	query, args, err := s.getQuery(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.DB.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get "+key.String(), err)
	}
	attrs, err := decodeAttrs(data)
	if err != nil {
		return nil, err
	}
	return &Item{Key: key, Attrs: attrs}, nil
}

func (s *PostgresStore) Put(ctx context.Context, item Item) error {
	return s.upsert(ctx, "put", item.Key, item.Attrs,
		"ON CONFLICT (pk, sk) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()")
}

func (s *PostgresStore) Merge(ctx context.Context, key Key, attrs Attrs) error {
	return s.upsert(ctx, "merge", key, attrs,
		fmt.Sprintf("ON CONFLICT (pk, sk) DO UPDATE SET data = %s.data || EXCLUDED.data, updated_at = NOW()", s.table))
}

func (s *PostgresStore) upsert(ctx context.Context, op string, key Key, attrs Attrs, onConflict string) error {
	data, err := encodeAttrs(attrs)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert(s.table).
		Columns("pk", "sk", "data", "updated_at").
		Values(key.PK, key.SK, string(data), squirrel.Expr("NOW()")).
		Suffix(onConflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("building %s: %w", op, err)
	}
	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		return unavailable(op+" "+key.String(), err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	query, args, err := psql.Delete(s.table).
		Where(squirrel.Eq{"pk": key.PK, "sk": key.SK}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		return unavailable("delete "+key.String(), err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	query, args, err := s.prefixQuery(pk, skPrefix)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query "+pk, err)
	}
	return s.collect(rows)
}

func (s *PostgresStore) Scan(ctx context.Context, pkPrefix string) ([]Item, error) {
	query, args, err := s.scanQuery(pkPrefix)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("scan "+pkPrefix, err)
	}
	return s.collect(rows)
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").From(s.table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *PostgresStore) getQuery(key Key) (string, []any, error) {
	return psql.Select("data").
		From(s.table).
		Where(squirrel.Eq{"pk": key.PK, "sk": key.SK}).
		ToSql()
}

func (s *PostgresStore) prefixQuery(pk, skPrefix string) (string, []any, error) {
	return psql.Select("pk", "sk", "data").
		From(s.table).
		Where(squirrel.Eq{"pk": pk}).
		Where(squirrel.Like{"sk": likePrefix(skPrefix)}).
		OrderBy("sk").
		ToSql()
}

func (s *PostgresStore) scanQuery(pkPrefix string) (string, []any, error) {
	return psql.Select("pk", "sk", "data").
		From(s.table).
		Where(squirrel.Like{"pk": likePrefix(pkPrefix)}).
		OrderBy("pk", "sk").
		ToSql()
}

// likePrefix turns prefix into a LIKE pattern matching it literally.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) collect(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var (
			key  Key
			data []byte
		)
		if err := rows.Scan(&key.PK, &key.SK, &data); err != nil {
			return nil, unavailable("scanning row", err)
		}
		attrs, err := decodeAttrs(data)
		if err != nil {
			s.logger.Warn("skipping undecodable row", "pk", key.PK, "sk", key.SK, "error", err)
			continue
		}
		items = append(items, Item{Key: key, Attrs: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating rows", err)
	}
	return items, nil
}

func encodeAttrs(attrs Attrs) ([]byte, error) {
	if attrs == nil {
		attrs = Attrs{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return data, nil
}

func decodeAttrs(data []byte) (Attrs, error) {
	attrs := Attrs{}
	if len(data) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	return attrs, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrStoreUnavailable, err)
}

func unquoted(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
