package acl

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestAllows(t *testing.T) {
	owner := uuid.New()
	group := uuid.New()
	stranger := uuid.New()
	otherGroup := uuid.New()

	// Entity readable only via ownership or its owning group.
	row := Row{
		OwnerID:      &owner,
		GroupOwnerID: &group,
		GroupRead:    true,
		MemberRead:   false,
		OtherRead:    false,
	}

	cases := []struct {
		name string
		sctx SecurityContext
		want bool
	}{
		{name: "anonymous", sctx: Anonymous(), want: false},
		{name: "superuser", sctx: SecurityContext{IsSuperuser: true}, want: true},
		{name: "owner", sctx: SecurityContext{UserID: &owner}, want: true},
		{name: "stranger", sctx: SecurityContext{UserID: &stranger}, want: false},
		{name: "member without groups", sctx: SecurityContext{IsMember: true}, want: false},
		{name: "group member", sctx: SecurityContext{GroupIDs: []uuid.UUID{group}}, want: true},
		{name: "wrong group", sctx: SecurityContext{GroupIDs: []uuid.UUID{otherGroup}}, want: false},
		// Group visibility does not require IsMember.
		{name: "non-member in owning group", sctx: SecurityContext{IsMember: false, GroupIDs: []uuid.UUID{group}}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allows(tc.sctx, row); got != tc.want {
				t.Fatalf("Allows = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAllowsFlagClauses(t *testing.T) {
	member := SecurityContext{IsMember: true}

	if !Allows(Anonymous(), Row{OtherRead: true}) {
		t.Fatal("other_read rows must be visible to anonymous callers")
	}
	if !Allows(member, Row{MemberRead: true}) {
		t.Fatal("member_read rows must be visible to members")
	}
	if Allows(Anonymous(), Row{MemberRead: true}) {
		t.Fatal("member_read rows must not be visible to anonymous callers")
	}
	group := uuid.New()
	if Allows(SecurityContext{GroupIDs: []uuid.UUID{group}}, Row{GroupOwnerID: &group, GroupRead: false}) {
		t.Fatal("group clause requires group_read")
	}
}

// Superuser visibility is a superset of every other context's visibility.
func TestSuperuserMonotonicity(t *testing.T) {
	owner := uuid.New()
	group := uuid.New()
	rows := []Row{
		{},
		{OtherRead: true},
		{MemberRead: true},
		{OwnerID: &owner},
		{GroupOwnerID: &group, GroupRead: true},
	}
	contexts := []SecurityContext{
		Anonymous(),
		{UserID: &owner},
		{IsMember: true},
		{GroupIDs: []uuid.UUID{group}},
		{UserID: &owner, IsMember: true, GroupIDs: []uuid.UUID{group}},
	}
	super := SecurityContext{IsSuperuser: true}
	for _, row := range rows {
		if !Allows(super, row) {
			t.Fatal("superuser must see every row")
		}
		for _, sctx := range contexts {
			if Allows(sctx, row) && !Allows(super, row) {
				t.Fatal("superuser visibility must be a superset")
			}
		}
	}
}

func TestAllowsWrite(t *testing.T) {
	owner := uuid.New()
	group := uuid.New()
	stranger := uuid.New()

	row := Row{
		OwnerID:      &owner,
		GroupOwnerID: &group,
		GroupWrite:   true,
		MemberWrite:  false,
		OtherRead:    true,
	}

	cases := []struct {
		name string
		sctx SecurityContext
		want bool
	}{
		// other_read never grants writes.
		{name: "anonymous", sctx: Anonymous(), want: false},
		{name: "superuser", sctx: SecurityContext{IsSuperuser: true}, want: true},
		{name: "owner", sctx: SecurityContext{UserID: &owner}, want: true},
		{name: "stranger", sctx: SecurityContext{UserID: &stranger}, want: false},
		{name: "member without member_write", sctx: SecurityContext{IsMember: true}, want: false},
		{name: "group writer", sctx: SecurityContext{GroupIDs: []uuid.UUID{group}}, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AllowsWrite(tc.sctx, row); got != tc.want {
				t.Fatalf("AllowsWrite = %v, want %v", got, tc.want)
			}
		})
	}

	member := SecurityContext{IsMember: true}
	if !AllowsWrite(member, Row{MemberWrite: true}) {
		t.Fatal("member_write rows must be writable by members")
	}
}

func TestDefaults(t *testing.T) {
	row := Defaults()
	if !row.GroupRead || !row.GroupWrite || !row.MemberRead {
		t.Fatalf("defaults = %+v", row)
	}
	if row.MemberWrite || row.OtherRead {
		t.Fatalf("defaults too permissive: %+v", row)
	}
}

func TestPredicateSuperuser(t *testing.T) {
	cond, args, err := Predicate(KindOrg, SecurityContext{IsSuperuser: true}, "o", 0)
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	if cond != "TRUE" || len(args) != 0 {
		t.Fatalf("superuser predicate = %q args=%v", cond, args)
	}
}

func TestPredicateAnonymous(t *testing.T) {
	cond, args, err := Predicate(KindTour, Anonymous(), "t", 0)
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	if cond != "(t.other_read)" {
		t.Fatalf("anonymous predicate = %q", cond)
	}
	if len(args) != 0 {
		t.Fatalf("anonymous predicate args = %v", args)
	}
}

func TestPredicateFullContext(t *testing.T) {
	user := uuid.New()
	groupA := uuid.New()
	groupB := uuid.New()
	sctx := SecurityContext{
		UserID:   &user,
		IsMember: true,
		GroupIDs: []uuid.UUID{groupA, groupB},
	}

	cond, args, err := Predicate(KindEvent, sctx, "e", 2)
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	want := "(e.other_read OR e.owner_id = $3 OR e.member_read OR (e.group_read AND e.group_owner_id IN ($4, $5)))"
	if cond != want {
		t.Fatalf("predicate = %q, want %q", cond, want)
	}
	if len(args) != 3 || args[0] != user || args[1] != groupA || args[2] != groupB {
		t.Fatalf("predicate args = %v", args)
	}
}

func TestPredicateUnknownKind(t *testing.T) {
	if _, _, err := Predicate(Kind("user"), Anonymous(), "u", 0); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPredicateOmitsGroupClauseWhenNoGroups(t *testing.T) {
	sctx := SecurityContext{IsMember: true}
	cond, _, err := Predicate(KindPerson, sctx, "p", 0)
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	if strings.Contains(cond, "group_owner_id") {
		t.Fatalf("group clause should be vacuous without group ids: %q", cond)
	}
}
