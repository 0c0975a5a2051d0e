package ownership

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"stagedir/api/internal/store"
)

func ptr(id uuid.UUID) *uuid.UUID { return &id }

// buildSnapshot assembles the common fixture: one producer org with a
// user-bearing person member, one tour with one event.
func buildSnapshot() (*Snapshot, map[string]uuid.UUID) {
	ids := map[string]uuid.UUID{
		"user":     uuid.New(),
		"producer": uuid.New(),
		"member":   uuid.New(),
		"tour":     uuid.New(),
		"event":    uuid.New(),
	}

	snap := &Snapshot{
		Persons: map[uuid.UUID]*Person{
			ids["member"]: {ID: ids["member"], UserID: ptr(ids["user"])},
		},
		Orgs: map[uuid.UUID]*Org{
			ids["producer"]: {
				ID:      ids["producer"],
				Name:    "Producer Co",
				Members: []Link{{Kind: store.MemberPerson, PartyID: ids["member"]}},
			},
		},
		Tours: []*Tour{{
			ID:     ids["tour"],
			Title:  "Autumn Run",
			Actors: []Link{{Kind: store.MemberOrg, PartyID: ids["producer"], Role: "producer"}},
			Events: []*Event{{ID: ids["event"]}},
		}},
	}
	return snap, ids
}

func ownerOf(t *testing.T, changes []Change, table string, id uuid.UUID) uuid.UUID {
	t.Helper()
	for _, c := range changes {
		if c.Table == table && c.ID == id && c.OwnerID != nil {
			return *c.OwnerID
		}
	}
	t.Fatalf("no owner change for %s %s", table, id)
	return uuid.Nil
}

func groupOf(t *testing.T, changes []Change, table string, id uuid.UUID) uuid.UUID {
	t.Helper()
	for _, c := range changes {
		if c.Table == table && c.ID == id && c.GroupOwnerID != nil {
			return *c.GroupOwnerID
		}
	}
	t.Fatalf("no group change for %s %s", table, id)
	return uuid.Nil
}

func TestPlanAssignsTourGraph(t *testing.T) {
	snap, ids := buildSnapshot()

	changes, err := Plan(snap)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if got := ownerOf(t, changes, "tours", ids["tour"]); got != ids["user"] {
		t.Fatalf("tour owner = %s, want producer member user", got)
	}
	if got := groupOf(t, changes, "tours", ids["tour"]); got != ids["producer"] {
		t.Fatalf("tour group = %s, want producer org", got)
	}
	if got := ownerOf(t, changes, "events", ids["event"]); got != ids["user"] {
		t.Fatalf("event owner = %s", got)
	}
	if got := groupOf(t, changes, "events", ids["event"]); got != ids["producer"] {
		t.Fatalf("event group = %s", got)
	}
	// The member person owns itself via its user link.
	if got := ownerOf(t, changes, "persons", ids["member"]); got != ids["user"] {
		t.Fatalf("person owner = %s", got)
	}
	// The producer org is an actor of the tour, so it picks up ownership too.
	if got := ownerOf(t, changes, "orgs", ids["producer"]); got != ids["user"] {
		t.Fatalf("producer owner = %s", got)
	}
}

func TestPlanFailsWithoutProducer(t *testing.T) {
	snap, _ := buildSnapshot()
	snap.Tours[0].Actors[0].Role = "promoter"

	if _, err := Plan(snap); err == nil || !strings.Contains(err.Error(), "no producer org") {
		t.Fatalf("plan = %v, want producer error", err)
	}
}

func TestPlanFailsWithoutMemberUser(t *testing.T) {
	snap, ids := buildSnapshot()
	snap.Persons[ids["member"]].UserID = nil

	if _, err := Plan(snap); err == nil || !strings.Contains(err.Error(), "no member with a login") {
		t.Fatalf("plan = %v, want member error", err)
	}
}

func TestPlanPreservesExistingActorOwnership(t *testing.T) {
	snap, ids := buildSnapshot()
	existing := uuid.New()
	other := &Org{ID: uuid.New(), Name: "Already Owned", OwnerID: ptr(existing)}
	snap.Orgs[other.ID] = other
	snap.Tours[0].Actors = append(snap.Tours[0].Actors, Link{Kind: store.MemberOrg, PartyID: other.ID})

	changes, err := Plan(snap)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, c := range changes {
		if c.Table == "orgs" && c.ID == other.ID && c.OwnerID != nil {
			t.Fatal("actor with existing owner must be left alone")
		}
	}
	// The group side was missing and does get filled in.
	if got := groupOf(t, changes, "orgs", other.ID); got != ids["producer"] {
		t.Fatalf("actor group = %s", got)
	}
}

func TestPlanRecursesIntoMemberOrgsWithoutLooping(t *testing.T) {
	snap, ids := buildSnapshot()
	// Two orgs that are members of each other, reachable via a tour actor.
	orgA := &Org{ID: uuid.New(), Name: "A"}
	orgB := &Org{ID: uuid.New(), Name: "B"}
	orgA.Members = []Link{{Kind: store.MemberOrg, PartyID: orgB.ID}}
	orgB.Members = []Link{{Kind: store.MemberOrg, PartyID: orgA.ID}}
	snap.Orgs[orgA.ID] = orgA
	snap.Orgs[orgB.ID] = orgB
	snap.Tours[0].Actors = append(snap.Tours[0].Actors, Link{Kind: store.MemberOrg, PartyID: orgA.ID})

	changes, err := Plan(snap)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if got := ownerOf(t, changes, "orgs", orgA.ID); got != ids["user"] {
		t.Fatalf("orgA owner = %s", got)
	}
	if got := ownerOf(t, changes, "orgs", orgB.ID); got != ids["user"] {
		t.Fatalf("orgB owner = %s", got)
	}
}

func TestPlanOrgFallback(t *testing.T) {
	user := uuid.New()
	person := &Person{ID: uuid.New(), UserID: ptr(user)}
	org := &Org{
		ID:      uuid.New(),
		Name:    "Standalone Collective",
		Members: []Link{{Kind: store.MemberPerson, PartyID: person.ID}},
	}
	snap := &Snapshot{
		Persons: map[uuid.UUID]*Person{person.ID: person},
		Orgs:    map[uuid.UUID]*Org{org.ID: org},
	}

	changes, err := Plan(snap)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if got := ownerOf(t, changes, "orgs", org.ID); got != user {
		t.Fatalf("org owner = %s, want first member's user", got)
	}
	// The org becomes its own group owner.
	if got := groupOf(t, changes, "orgs", org.ID); got != org.ID {
		t.Fatalf("org group = %s, want self", got)
	}
}

func TestPlanIdempotent(t *testing.T) {
	snap, _ := buildSnapshot()
	changes, err := Plan(snap)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(changes) == 0 {
		t.Fatal("first run should assign ownership")
	}

	// Rebuild the snapshot as the database would look after applying, then
	// plan again: tours and events are reassigned the same values, but
	// nothing conditional changes.
	again, err := Plan(snap)
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	for _, c := range again {
		if c.Table == "persons" || (c.Table == "orgs" && c.OwnerID != nil) {
			t.Fatalf("conditional assignment repeated: %+v", c)
		}
	}
}
