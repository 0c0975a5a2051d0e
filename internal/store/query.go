package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"stagedir/api/internal/acl"
)

// Every relation a read query touches is classified here: either it carries
// ACL columns and gets a visibility predicate appended per alias, or it is a
// plain relation with no row-level rules. A relation in neither map makes
// the query fail before reaching the database.
var (
	aclRelations = map[string]acl.Kind{
		"orgs":    acl.KindOrg,
		"persons": acl.KindPerson,
		"tours":   acl.KindTour,
		"events":  acl.KindEvent,
	}

	plainRelations = map[string]bool{
		"users":            true,
		"activities":       true,
		"disciplines":      true,
		"mobilities":       true,
		"org_members":      true,
		"org_activities":   true,
		"tour_disciplines": true,
		"tour_mobilities":  true,
		"tour_actors":      true,
		"event_actors":     true,
	}
)

// Relation is one table reference inside a ReadQuery, by name and SQL alias.
type Relation struct {
	Table string
	Alias string
}

// ReadQuery assembles a SELECT over declared relations. Reads never write
// SQL strings directly against the database: they build a ReadQuery and hand
// it to Directory.rows / Directory.rowsWithCount, which append the
// visibility predicates. Conditions use $%d verbs for placeholders so the
// builder can number them after the predicate arguments are known.
type ReadQuery struct {
	selectList string
	relations  []Relation
	joins      []string
	conds      []string
	args       []any
	orderBy    string
}

// NewRead starts a query over one base table.
func NewRead(selectList, table, alias string) *ReadQuery {
	return &ReadQuery{
		selectList: selectList,
		relations:  []Relation{{Table: table, Alias: alias}},
	}
}

// Join adds an inner join and registers the joined relation for
// classification.
func (q *ReadQuery) Join(table, alias, on string) *ReadQuery {
	q.relations = append(q.relations, Relation{Table: table, Alias: alias})
	q.joins = append(q.joins, fmt.Sprintf("JOIN %s %s ON %s", table, alias, on))
	return q
}

// Where appends a condition. cond uses $%d verbs, one per arg, numbered at
// build time.
func (q *ReadQuery) Where(cond string, args ...any) *ReadQuery {
	verbs := make([]any, len(args))
	for i := range args {
		q.args = append(q.args, args[i])
		verbs[i] = len(q.args)
	}
	q.conds = append(q.conds, fmt.Sprintf(cond, verbs...))
	return q
}

// OrderBy sets the ORDER BY expression.
func (q *ReadQuery) OrderBy(expr string) *ReadQuery {
	q.orderBy = expr
	return q
}

// guard conjoins a visibility predicate for every ACL-bearing relation the
// query touches. Unclassified relations are a hard error: a relation nobody
// thought about must not default to unrestricted.
func (q *ReadQuery) guard(sctx acl.SecurityContext) error {
	for _, rel := range q.relations {
		if kind, ok := aclRelations[rel.Table]; ok {
			cond, args, err := acl.Predicate(kind, sctx, rel.Alias, len(q.args))
			if err != nil {
				return err
			}
			q.conds = append(q.conds, cond)
			q.args = append(q.args, args...)
			continue
		}
		if !plainRelations[rel.Table] {
			return fmt.Errorf("store: relation %q has no access classification", rel.Table)
		}
	}
	return nil
}

func (q *ReadQuery) whereClause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func (q *ReadQuery) fromClause() string {
	from := fmt.Sprintf(" FROM %s %s", q.relations[0].Table, q.relations[0].Alias)
	if len(q.joins) > 0 {
		from += " " + strings.Join(q.joins, " ")
	}
	return from
}

// selectSQL renders the full SELECT. When page is non-nil, LIMIT/OFFSET are
// appended with their own placeholders.
func (q *ReadQuery) selectSQL(page *Page) (string, []any) {
	sqlText := "SELECT " + q.selectList + q.fromClause() + q.whereClause()
	if q.orderBy != "" {
		sqlText += " ORDER BY " + q.orderBy
	}
	args := append([]any(nil), q.args...)
	if page != nil {
		sqlText += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, page.Limit, page.Offset)
	}
	return sqlText, args
}

// countSQL renders COUNT(*) over the same relations and conditions, so a
// paged list and its total can never disagree about visibility.
func (q *ReadQuery) countSQL() (string, []any) {
	sqlText := "SELECT COUNT(*)" + q.fromClause() + q.whereClause()
	return sqlText, append([]any(nil), q.args...)
}

// Directory executes guarded reads and plain writes over the entity tables.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// rows is the single execution path for unpaged reads: guard, render, run.
func (d *Directory) rows(ctx context.Context, sctx acl.SecurityContext, q *ReadQuery) (*sql.Rows, error) {
	if err := q.guard(sctx); err != nil {
		return nil, err
	}
	sqlText, args := q.selectSQL(nil)
	rows, err := d.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.relations[0].Table, err)
	}
	return rows, nil
}

// rowsWithCount guards once, then runs the count and the paged select over
// the identical conditions.
func (d *Directory) rowsWithCount(ctx context.Context, sctx acl.SecurityContext, q *ReadQuery, page Page) (*sql.Rows, int, error) {
	if err := q.guard(sctx); err != nil {
		return nil, 0, err
	}

	countText, countArgs := q.countSQL()
	var total int
	if err := d.db.QueryRowContext(ctx, countText, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", q.relations[0].Table, err)
	}

	page = page.normalized()
	sqlText, args := q.selectSQL(&page)
	rows, err := d.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query %s: %w", q.relations[0].Table, err)
	}
	return rows, total, nil
}
