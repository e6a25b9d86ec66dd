package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
)

const (
	columnKey  = "token_key"
	columnData = "token_data"
)

// SQLStorage keeps CBOR records in a two column table.
type SQLStorage struct {
	db      *sql.DB
	table   string
	builder squirrel.StatementBuilderType
	blob    string
}

// NewSQLStorage uses $n placeholders and BYTEA for postgres drivers, ? and
// BLOB otherwise.
func NewSQLStorage(db *sql.DB, driver, table string) *SQLStorage {
	s := &SQLStorage{
		db:      db,
		table:   table,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		blob:    "BLOB",
	}
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		s.builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
		s.blob = "BYTEA"
	}
	return s
}

// EnsureSchema creates the table when it does not exist.
func (s *SQLStorage) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(255) PRIMARY KEY, %s %s NOT NULL)",
		s.table, columnKey, columnData, s.blob)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("token sql storage: create table: %w", err)
	}
	return nil
}

// Save replaces any previous record inside one transaction.
func (s *SQLStorage) Save(ctx context.Context, key string, tok *Token) error {
	data, err := Marshal(tok)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("token sql storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, delArgs, err := s.builder.Delete(s.table).Where(squirrel.Eq{columnKey: key}).ToSql()
	if err != nil {
		return fmt.Errorf("token sql storage: build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, delArgs...); err != nil {
		return fmt.Errorf("token sql storage: delete: %w", err)
	}

	ins, insArgs, err := s.builder.Insert(s.table).Columns(columnKey, columnData).Values(key, data).ToSql()
	if err != nil {
		return fmt.Errorf("token sql storage: build insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ins, insArgs...); err != nil {
		return fmt.Errorf("token sql storage: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("token sql storage: commit: %w", err)
	}
	return nil
}

func (s *SQLStorage) Load(ctx context.Context, key string) (*Token, error) {
	query, args, err := s.builder.Select(columnData).From(s.table).Where(squirrel.Eq{columnKey: key}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("token sql storage: build select: %w", err)
	}

	var data []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("token sql storage: select: %w", err)
	}
	return Unmarshal(data)
}

func (s *SQLStorage) Remove(ctx context.Context, key string) error {
	query, args, err := s.builder.Delete(s.table).Where(squirrel.Eq{columnKey: key}).ToSql()
	if err != nil {
		return fmt.Errorf("token sql storage: build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("token sql storage: delete: %w", err)
	}
	return nil
}
