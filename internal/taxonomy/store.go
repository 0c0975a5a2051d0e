// Package taxonomy stores the three label trees (activities, disciplines,
// mobilities) as Postgres ltree materialized paths. One store instance is
// bound to one table; the algorithms are identical across the three.
package taxonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"stagedir/api/internal/pathtree"
)

const (
	TableActivities  = "activities"
	TableDisciplines = "disciplines"
	TableMobilities  = "mobilities"
)

var (
	ErrNotFound      = errors.New("taxonomy: node not found")
	ErrDuplicatePath = errors.New("taxonomy: path already exists")
	ErrUnknownTable  = errors.New("taxonomy: unknown table")
	ErrInvalidMove   = errors.New("taxonomy: destination inside moved subtree")
)

// Node is one tree entry. Paths are globally unique within a table.
type Node struct {
	ID    uuid.UUID
	Path  pathtree.Path
	Name  string
	Attrs map[string]any
}

type Store struct {
	db    *sql.DB
	table string
}

// New binds a store to one taxonomy table. The table name is interpolated
// into SQL, so only the known tables are accepted.
func New(db *sql.DB, table string) (*Store, error) {
	switch table {
	case TableActivities, TableDisciplines, TableMobilities:
		return &Store{db: db, table: table}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// Table returns the bound table name.
func (s *Store) Table() string {
	return s.table
}

// Create inserts a new node. When name is empty it defaults to the path's
// last label. A path collision surfaces as ErrDuplicatePath, not a raw
// database error.
func (s *Store) Create(ctx context.Context, path pathtree.Path, name string, attrs map[string]any) (Node, error) {
	if path.IsZero() {
		return Node{}, fmt.Errorf("%w: empty path", pathtree.ErrInvalidPath)
	}
	if name == "" {
		name = path.Last()
	}

	var attrsJSON any
	if attrs != nil {
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return Node{}, fmt.Errorf("marshal node attrs: %w", err)
		}
		attrsJSON = string(encoded)
	}

	node := Node{ID: uuid.New(), Path: path, Name: name, Attrs: attrs}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, path, name, attrs)
		VALUES ($1, $2::ltree, $3, $4::jsonb)
	`, s.table), node.ID, path.String(), name, attrsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return Node{}, fmt.Errorf("%w: %s", ErrDuplicatePath, path.String())
		}
		return Node{}, fmt.Errorf("insert %s node: %w", s.table, err)
	}
	return node, nil
}

// GetByPath looks a node up by exact path.
func (s *Store) GetByPath(ctx context.Context, path pathtree.Path) (Node, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, path::text, name, COALESCE(attrs::text, '')
		FROM %s
		WHERE path = $1::ltree
	`, s.table), path.String())

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, path.String())
	}
	if err != nil {
		return Node{}, fmt.Errorf("get %s node: %w", s.table, err)
	}
	return node, nil
}

// ListByPrefix returns the subtree rooted at prefix (the prefix node itself
// included) ordered by path ascending, plus the total count under the same
// filter. A zero prefix lists the whole table. Ordering by ltree path is a
// pre-order traversal: parents sort before their children.
func (s *Store) ListByPrefix(ctx context.Context, prefix pathtree.Path, offset, limit int) ([]Node, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if !prefix.IsZero() {
		where = "WHERE path <@ $1::ltree"
		args = append(args, prefix.String())
	}

	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, s.table, where)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s nodes: %w", s.table, err)
	}

	listSQL := fmt.Sprintf(`
		SELECT id, path::text, name, COALESCE(attrs::text, '')
		FROM %s %s
		ORDER BY path ASC
		LIMIT $%d OFFSET $%d
	`, s.table, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s nodes: %w", s.table, err)
	}
	defer rows.Close()

	nodes := make([]Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s node: %w", s.table, err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s nodes: %w", s.table, err)
	}
	return nodes, total, nil
}

// Rename updates only the display name. The path is untouched: name and
// path are decoupled after creation, and path changes go through Move.
func (s *Store) Rename(ctx context.Context, path pathtree.Path, newName string) (Node, error) {
	result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET name = $2 WHERE path = $1::ltree
	`, s.table), path.String(), newName)
	if err != nil {
		return Node{}, fmt.Errorf("rename %s node: %w", s.table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Node{}, fmt.Errorf("rename %s node rows: %w", s.table, err)
	}
	if affected == 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, path.String())
	}
	return s.GetByPath(ctx, path)
}

// Move relocates the subtree rooted at source so its root becomes dest,
// preserving every descendant's relative suffix. The rewrite is one UPDATE
// statement inside a transaction holding a per-table advisory lock, so
// concurrent readers never observe a half-moved subtree and concurrent
// moves on the same table serialize. Returns the lowest common ancestor of
// source and dest (zero path when they share no root; callers use it for
// cache invalidation) and the number of nodes touched.
func (s *Store) Move(ctx context.Context, source, dest pathtree.Path) (pathtree.Path, int64, error) {
	if source.IsZero() || dest.IsZero() {
		return pathtree.Path{}, 0, fmt.Errorf("%w: empty path", pathtree.ErrInvalidPath)
	}
	if dest.IsDescendantOf(source) && !dest.Equal(source) {
		return pathtree.Path{}, 0, fmt.Errorf("%w: %s -> %s", ErrInvalidMove, source.String(), dest.String())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pathtree.Path{}, 0, fmt.Errorf("begin move tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.lockTable(ctx, tx); err != nil {
		return pathtree.Path{}, 0, err
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET path = CASE WHEN nlevel(path) = nlevel($1::ltree) THEN $2::ltree
		                ELSE $2::ltree || subpath(path, nlevel($1::ltree))
		           END
		WHERE path <@ $1::ltree
	`, s.table), source.String(), dest.String())
	if err != nil {
		if isUniqueViolation(err) {
			return pathtree.Path{}, 0, fmt.Errorf("%w: %s", ErrDuplicatePath, dest.String())
		}
		return pathtree.Path{}, 0, fmt.Errorf("move %s subtree: %w", s.table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return pathtree.Path{}, 0, fmt.Errorf("move %s subtree rows: %w", s.table, err)
	}
	if affected == 0 {
		return pathtree.Path{}, 0, fmt.Errorf("%w: %s", ErrNotFound, source.String())
	}
	if err := tx.Commit(); err != nil {
		return pathtree.Path{}, 0, fmt.Errorf("commit move: %w", err)
	}

	lca, _ := pathtree.LCA(source, dest)
	return lca, affected, nil
}

// Delete removes the node at path and every descendant in one transaction.
// Deleting an empty subtree is not an error; the count is simply 0.
func (s *Store) Delete(ctx context.Context, path pathtree.Path) (int64, error) {
	if path.IsZero() {
		return 0, fmt.Errorf("%w: empty path", pathtree.ErrInvalidPath)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.lockTable(ctx, tx); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE path <@ $1::ltree
	`, s.table), path.String())
	if err != nil {
		return 0, fmt.Errorf("delete %s subtree: %w", s.table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s subtree rows: %w", s.table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return affected, nil
}

// lockTable serializes subtree rewrites per taxonomy table for the length
// of the transaction.
func (s *Store) lockTable(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table); err != nil {
		return fmt.Errorf("lock %s: %w", s.table, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (Node, error) {
	var node Node
	var rawPath, rawAttrs string
	if err := row.Scan(&node.ID, &rawPath, &node.Name, &rawAttrs); err != nil {
		return Node{}, err
	}
	path, err := pathtree.Parse(rawPath)
	if err != nil {
		return Node{}, fmt.Errorf("stored path %q: %w", rawPath, err)
	}
	node.Path = path
	if rawAttrs != "" {
		if err := json.Unmarshal([]byte(rawAttrs), &node.Attrs); err != nil {
			return Node{}, fmt.Errorf("decode node attrs: %w", err)
		}
	}
	return node, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
