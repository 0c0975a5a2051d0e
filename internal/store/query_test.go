package store

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"stagedir/api/internal/acl"
)

func TestGuardAppendsPredicatePerACLRelation(t *testing.T) {
	user := uuid.New()
	sctx := acl.SecurityContext{UserID: &user, IsMember: true}

	q := NewRead("o.id", "orgs", "o").Where("o.name = $%d", "x")
	if err := q.guard(sctx); err != nil {
		t.Fatalf("guard: %v", err)
	}

	sqlText, args := q.selectSQL(nil)
	want := "SELECT o.id FROM orgs o WHERE o.name = $1 AND (o.other_read OR o.owner_id = $2 OR o.member_read)"
	if sqlText != want {
		t.Fatalf("sql = %q\nwant %q", sqlText, want)
	}
	if len(args) != 2 || args[0] != "x" || args[1] != user {
		t.Fatalf("args = %v", args)
	}
}

func TestGuardCoversJoinedRelations(t *testing.T) {
	q := NewRead("m.member_id", "org_members", "m").
		Join("persons", "p", "p.id = m.member_id AND m.member_kind = 'person'").
		Where("m.org_id = $%d", uuid.New())
	if err := q.guard(acl.Anonymous()); err != nil {
		t.Fatalf("guard: %v", err)
	}

	sqlText, _ := q.selectSQL(nil)
	// The link table has no predicate; the joined person does.
	if !strings.Contains(sqlText, "JOIN persons p ON") {
		t.Fatalf("join missing: %q", sqlText)
	}
	if !strings.Contains(sqlText, "(p.other_read)") {
		t.Fatalf("joined relation not guarded: %q", sqlText)
	}
}

func TestGuardRejectsUnclassifiedRelation(t *testing.T) {
	q := NewRead("x.id", "audit_trail", "x")
	err := q.guard(acl.Anonymous())
	if err == nil {
		t.Fatal("unclassified relation must fail, not pass unfiltered")
	}
	if !strings.Contains(err.Error(), "audit_trail") {
		t.Fatalf("error should name the relation: %v", err)
	}
}

func TestGuardSuperuserStillTouchesEveryRelation(t *testing.T) {
	q := NewRead("o.id", "orgs", "o")
	if err := q.guard(acl.SecurityContext{IsSuperuser: true}); err != nil {
		t.Fatalf("guard: %v", err)
	}
	sqlText, args := q.selectSQL(nil)
	if sqlText != "SELECT o.id FROM orgs o WHERE TRUE" {
		t.Fatalf("sql = %q", sqlText)
	}
	if len(args) != 0 {
		t.Fatalf("args = %v", args)
	}

	// Unclassified relations fail even for superusers.
	bad := NewRead("x.id", "audit_trail", "x")
	if err := bad.guard(acl.SecurityContext{IsSuperuser: true}); err == nil {
		t.Fatal("classification is not a permission check; it must not be bypassed")
	}
}

func TestCountSharesConditionsWithSelect(t *testing.T) {
	group := uuid.New()
	sctx := acl.SecurityContext{GroupIDs: []uuid.UUID{group}}

	q := NewRead("t.id, t.title", "tours", "t").OrderBy("t.title ASC")
	if err := q.guard(sctx); err != nil {
		t.Fatalf("guard: %v", err)
	}

	countText, countArgs := q.countSQL()
	page := Page{Offset: 10, Limit: 5}
	selectText, selectArgs := q.selectSQL(&page)

	wantWhere := "WHERE (t.other_read OR (t.group_read AND t.group_owner_id IN ($1)))"
	if !strings.Contains(countText, wantWhere) {
		t.Fatalf("count sql = %q", countText)
	}
	if !strings.Contains(selectText, wantWhere) {
		t.Fatalf("select sql = %q", selectText)
	}
	if strings.Contains(countText, "LIMIT") || strings.Contains(countText, "ORDER BY") {
		t.Fatalf("count sql must not page or order: %q", countText)
	}
	if !strings.HasSuffix(selectText, "ORDER BY t.title ASC LIMIT $2 OFFSET $3") {
		t.Fatalf("select sql = %q", selectText)
	}
	if len(countArgs) != 1 || len(selectArgs) != 3 {
		t.Fatalf("args: count=%v select=%v", countArgs, selectArgs)
	}
	if selectArgs[1] != 5 || selectArgs[2] != 10 {
		t.Fatalf("page args = %v", selectArgs[1:])
	}
}

func TestWhereNumbersPlaceholdersSequentially(t *testing.T) {
	q := NewRead("e.id", "events", "e").
		Where("e.tour_id = $%d", uuid.New()).
		Where("e.title = $%d", "premiere")
	if err := q.guard(acl.Anonymous()); err != nil {
		t.Fatalf("guard: %v", err)
	}
	sqlText, args := q.selectSQL(nil)
	want := "SELECT e.id FROM events e WHERE e.tour_id = $1 AND e.title = $2 AND (e.other_read)"
	if sqlText != want {
		t.Fatalf("sql = %q", sqlText)
	}
	if len(args) != 2 {
		t.Fatalf("args = %v", args)
	}
}

func TestInCond(t *testing.T) {
	if got := inCond("o.id", 3); got != "o.id IN ($%d, $%d, $%d)" {
		t.Fatalf("inCond = %q", got)
	}
}
