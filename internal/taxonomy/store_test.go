package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"stagedir/api/internal/pathtree"
	"stagedir/api/internal/store"
)

// testStore opens the integration database, applies migrations and hands
// back a store over a truncated activities table. Integration tests skip in
// short mode and when no database is reachable.
func testStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := store.ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE activities`); err != nil {
		t.Fatalf("truncate activities: %v", err)
	}

	s, err := New(db, TableActivities)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, ctx
}

func mustCreate(t *testing.T, s *Store, ctx context.Context, path string) Node {
	t.Helper()
	node, err := s.Create(ctx, pathtree.MustParse(path), "", nil)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return node
}

func TestNewRejectsUnknownTable(t *testing.T) {
	if _, err := New(nil, "users"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("New(users) = %v, want ErrUnknownTable", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	s, ctx := testStore(t)

	node := mustCreate(t, s, ctx, "cat.small")
	if node.Name != "small" {
		t.Fatalf("default name = %q, want last label", node.Name)
	}

	got, err := s.GetByPath(ctx, pathtree.MustParse("cat.small"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != node.ID || got.Name != "small" {
		t.Fatalf("get = %+v", got)
	}

	if _, err := s.Create(ctx, pathtree.MustParse("cat.small"), "again", nil); !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("duplicate create = %v, want ErrDuplicatePath", err)
	}
	if _, err := s.GetByPath(ctx, pathtree.MustParse("cat.big")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing get = %v, want ErrNotFound", err)
	}
}

func TestListByPrefixUsesLabelBoundaries(t *testing.T) {
	s, ctx := testStore(t)

	for _, path := range []string{"cat", "cat.small", "cat.small.wild", "category", "dog"} {
		mustCreate(t, s, ctx, path)
	}

	nodes, total, err := s.ListByPrefix(ctx, pathtree.MustParse("cat"), 0, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(nodes) != 3 {
		t.Fatalf("list under cat: total=%d len=%d", total, len(nodes))
	}
	// "category" shares the substring but not the label, so it must not leak in.
	for _, node := range nodes {
		if node.Path.String() == "category" {
			t.Fatal("prefix match leaked a sibling label")
		}
	}
	// Pre-order: parents before children.
	if nodes[0].Path.String() != "cat" || nodes[2].Path.String() != "cat.small.wild" {
		t.Fatalf("ordering: %s .. %s", nodes[0].Path.String(), nodes[2].Path.String())
	}

	all, total, err := s.ListByPrefix(ctx, pathtree.Path{}, 0, 2)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 5 || len(all) != 2 {
		t.Fatalf("paged list all: total=%d len=%d", total, len(all))
	}
}

func TestRenameKeepsPath(t *testing.T) {
	s, ctx := testStore(t)

	mustCreate(t, s, ctx, "cat.small")
	mustCreate(t, s, ctx, "cat.small.wild")

	node, err := s.Rename(ctx, pathtree.MustParse("cat.small"), "Small Cats")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if node.Name != "Small Cats" || node.Path.String() != "cat.small" {
		t.Fatalf("rename = %+v", node)
	}

	// The child path is untouched: display name and path are independent.
	child, err := s.GetByPath(ctx, pathtree.MustParse("cat.small.wild"))
	if err != nil {
		t.Fatalf("child after rename: %v", err)
	}
	if child.Name != "wild" {
		t.Fatalf("child name changed: %q", child.Name)
	}

	if _, err := s.Rename(ctx, pathtree.MustParse("cat.big"), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rename missing = %v, want ErrNotFound", err)
	}
}

func TestMoveSubtree(t *testing.T) {
	s, ctx := testStore(t)

	for _, path := range []string{"cat", "cat.small", "cat.small.wild", "cat.small.tame", "cat.big"} {
		mustCreate(t, s, ctx, path)
	}

	lca, affected, err := s.Move(ctx, pathtree.MustParse("cat.small"), pathtree.MustParse("cat.big.small"))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if affected != 3 {
		t.Fatalf("affected = %d, want 3", affected)
	}
	if lca.String() != "cat" {
		t.Fatalf("lca = %q, want cat", lca.String())
	}

	// Every descendant keeps its suffix under the new root.
	for _, path := range []string{"cat.big.small", "cat.big.small.wild", "cat.big.small.tame"} {
		if _, err := s.GetByPath(ctx, pathtree.MustParse(path)); err != nil {
			t.Fatalf("after move, %s: %v", path, err)
		}
	}
	if _, err := s.GetByPath(ctx, pathtree.MustParse("cat.small")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old root still present: %v", err)
	}
}

func TestMoveAcrossRootsHasNoLCA(t *testing.T) {
	s, ctx := testStore(t)

	mustCreate(t, s, ctx, "cat.small")
	mustCreate(t, s, ctx, "dog")

	lca, affected, err := s.Move(ctx, pathtree.MustParse("cat.small"), pathtree.MustParse("dog.small"))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}
	if !lca.IsZero() {
		t.Fatalf("lca = %q, want none", lca.String())
	}
}

func TestMoveErrors(t *testing.T) {
	s, ctx := testStore(t)

	mustCreate(t, s, ctx, "cat")
	mustCreate(t, s, ctx, "cat.small")
	mustCreate(t, s, ctx, "dog")

	if _, _, err := s.Move(ctx, pathtree.MustParse("bird"), pathtree.MustParse("dog.bird")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("move missing = %v, want ErrNotFound", err)
	}
	if _, _, err := s.Move(ctx, pathtree.MustParse("cat"), pathtree.MustParse("cat.small.deep")); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("move into own subtree = %v, want ErrInvalidMove", err)
	}
	if _, _, err := s.Move(ctx, pathtree.MustParse("cat.small"), pathtree.MustParse("dog")); !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("move onto existing = %v, want ErrDuplicatePath", err)
	}
}

func TestDeleteSubtree(t *testing.T) {
	s, ctx := testStore(t)

	for _, path := range []string{"cat", "cat.small", "cat.small.wild", "dog"} {
		mustCreate(t, s, ctx, path)
	}

	affected, err := s.Delete(ctx, pathtree.MustParse("cat.small"))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if affected != 2 {
		t.Fatalf("affected = %d, want 2", affected)
	}
	if _, err := s.GetByPath(ctx, pathtree.MustParse("cat")); err != nil {
		t.Fatalf("parent survived delete: %v", err)
	}

	// Deleting a path with no nodes is not an error.
	affected, err = s.Delete(ctx, pathtree.MustParse("bird"))
	if err != nil || affected != 0 {
		t.Fatalf("delete missing = (%d, %v), want (0, nil)", affected, err)
	}
}

func TestStoresShareAlgorithmsAcrossTables(t *testing.T) {
	s, ctx := testStore(t)
	db := s.db

	for _, table := range []string{TableDisciplines, TableMobilities} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
		other, err := New(db, table)
		if err != nil {
			t.Fatalf("new %s store: %v", table, err)
		}
		if _, err := other.Create(ctx, pathtree.MustParse("dance.contemporary"), "", nil); err != nil {
			t.Fatalf("create in %s: %v", table, err)
		}
		if _, err := other.GetByPath(ctx, pathtree.MustParse("dance.contemporary")); err != nil {
			t.Fatalf("get in %s: %v", table, err)
		}
	}
}
