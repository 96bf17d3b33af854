package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/viant/gatekeeper/model"
	"github.com/viant/gatekeeper/service/dao"
	"github.com/viant/gatekeeper/service/dao/instance"
)

// Store persists approval instances in PostgreSQL. Conditional updates are
// single UPDATE statements, so their atomicity is the database's row-level
// locking; no state is shared between Store values and any number of
// replicas may use the same table.
type Store struct {
	db    *sqlx.DB
	table string
}

var _ instance.Store = (*Store)(nil)

// Option customises a Store
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) { s.table = table }
}

// New wraps an open connection pool.
func New(db *sqlx.DB, options ...Option) *Store {
	ret := &Store{db: db, table: DefaultTable}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Connect opens a postgres pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the table and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schemaTemplate, s.table)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	var aRow row
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", columns, s.table)
	err := s.db.GetContext(ctx, &aRow, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dao.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval instance %s: %w", id, err)
	}
	return aRow.instance()
}

func (s *Store) Save(ctx context.Context, anInstance *model.Instance) error {
	if anInstance == nil {
		return dao.ErrNilEntity
	}
	if anInstance.ID == "" {
		return dao.ErrInvalidID
	}
	aRow, err := newRow(anInstance)
	if err != nil {
		return err
	}
	if anInstance.Version == 0 {
		err = s.insert(ctx, aRow)
	} else {
		err = s.update(ctx, aRow)
	}
	if err != nil {
		return err
	}
	anInstance.Version++
	return nil
}

func (s *Store) insert(ctx context.Context, aRow *row) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES (:id, :type, :status, :node_execution_id, :deadline, :created_at, :last_modified_at, :activities, :approver_spec, :details, 1)
		ON CONFLICT (id) DO NOTHING`, s.table, columns)
	result, err := s.db.NamedExecContext(ctx, query, aRow)
	if err != nil {
		return fmt.Errorf("failed to insert approval instance %s: %w", aRow.ID, err)
	}
	return expectOne(result, dao.ErrConflict)
}

// update never touches deadline or created_at; both are fixed at creation.
func (s *Store) update(ctx context.Context, aRow *row) error {
	query := fmt.Sprintf(`UPDATE %s SET
		type = :type, status = :status, node_execution_id = :node_execution_id,
		last_modified_at = :last_modified_at, activities = :activities,
		approver_spec = :approver_spec, details = :details, version = version + 1
		WHERE id = :id AND version = :version`, s.table)
	result, err := s.db.NamedExecContext(ctx, query, aRow)
	if err != nil {
		return fmt.Errorf("failed to update approval instance %s: %w", aRow.ID, err)
	}
	if err = expectOne(result, dao.ErrConflict); err == nil {
		return nil
	}
	var exists bool
	if lookupErr := s.db.GetContext(ctx, &exists, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.table), aRow.ID); lookupErr != nil {
		return fmt.Errorf("failed to check approval instance %s: %w", aRow.ID, lookupErr)
	}
	if !exists {
		return dao.ErrNotFound
	}
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	result, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table), id)
	if err != nil {
		return fmt.Errorf("failed to delete approval instance %s: %w", id, err)
	}
	return expectOne(result, dao.ErrNotFound)
}

func (s *Store) List(ctx context.Context, filter *instance.Filter) ([]*model.Instance, error) {
	where, args := criteria(filter, nil)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at, id", columns, s.table, where)
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list approval instances: %w", err)
	}
	ret := make([]*model.Instance, 0, len(rows))
	for i := range rows {
		anInstance, err := rows[i].instance()
		if err != nil {
			return nil, err
		}
		ret = append(ret, anInstance)
	}
	return ret, nil
}

// UpdateOne relies on the row lock taken by UPDATE: a concurrent statement
// blocks, then re-evaluates the predicate against the committed row and no
// longer matches once the status left WAITING.
func (s *Store) UpdateOne(ctx context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	set, args := s.set(update)
	where, args := criteria(filter, args)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table, set, where)
	if filter == nil || filter.ID == "" {
		query = fmt.Sprintf("UPDATE %s SET %s WHERE id = (SELECT id FROM %s WHERE %s ORDER BY created_at LIMIT 1 FOR UPDATE) AND %s",
			s.table, set, s.table, where, where)
	}
	return s.exec(ctx, query, args)
}

func (s *Store) UpdateMany(ctx context.Context, filter *instance.Filter, update *instance.Update) (int, error) {
	set, args := s.set(update)
	where, args := criteria(filter, args)
	return s.exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table, set, where), args)
}

func (s *Store) set(update *instance.Update) (string, []interface{}) {
	set := "version = version + 1"
	var args []interface{}
	if update.Status != "" {
		args = append(args, string(update.Status))
		set += fmt.Sprintf(", status = $%d", len(args))
	}
	if !update.LastModifiedAt.IsZero() {
		args = append(args, update.LastModifiedAt.UTC())
		set += fmt.Sprintf(", last_modified_at = $%d", len(args))
	}
	return set, args
}

func (s *Store) exec(ctx context.Context, query string, args []interface{}) (int, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update approval instances: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(affected), nil
}

func expectOne(result sql.Result, otherwise error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return otherwise
	}
	return nil
}
