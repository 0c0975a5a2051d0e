// Package ownership backfills owner and group-owner columns on imported
// directory data. Imports create orgs, persons, tours and events without
// ownership; this walks the tour graph, derives owners from producer orgs
// and their members, and applies every assignment in one transaction. A
// tour whose ownership cannot be derived aborts the whole run.
package ownership

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"stagedir/api/internal/store"
)

// Link is one membership or actor edge, in deterministic load order.
type Link struct {
	Kind    store.MemberKind
	PartyID uuid.UUID
	Role    string
}

// Person, Org, Tour and Event are the slices of the directory the planner
// walks. Ownership fields are mutated as assignments are decided so later
// rules see earlier assignments, same as applying them one by one.
type Person struct {
	ID           uuid.UUID
	UserID       *uuid.UUID
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
}

type Org struct {
	ID           uuid.UUID
	Name         string
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
	Members      []Link
}

type Event struct {
	ID           uuid.UUID
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
	VenueOrgID   *uuid.UUID
	Actors       []Link
}

type Tour struct {
	ID           uuid.UUID
	Title        string
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
	Actors       []Link
	Events       []*Event
}

// Snapshot is the in-memory directory graph the planner operates on.
type Snapshot struct {
	Persons map[uuid.UUID]*Person
	Orgs    map[uuid.UUID]*Org
	Tours   []*Tour
}

// Change is one pending UPDATE: set whichever of the two columns is non-nil.
type Change struct {
	Table        string
	ID           uuid.UUID
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
}

type planner struct {
	snap    *Snapshot
	changes []Change
}

// Plan computes every ownership assignment without touching the database.
// Rules run in a fixed order: persons linked to users first, then the tour
// graph, then orgs that still lack an owner.
func Plan(snap *Snapshot) ([]Change, error) {
	p := &planner{snap: snap}

	p.assignPersonOwners()
	if err := p.assignTourOwnership(); err != nil {
		return nil, err
	}
	p.assignOrgFallback()

	return p.changes, nil
}

// assignPersonOwners makes every person that has a login own itself.
func (p *planner) assignPersonOwners() {
	ids := make([]uuid.UUID, 0, len(p.snap.Persons))
	for id := range p.snap.Persons {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		person := p.snap.Persons[id]
		if person.OwnerID == nil && person.UserID != nil {
			p.record("persons", person.ID, &person.OwnerID, *person.UserID)
		}
	}
}

// assignTourOwnership derives each tour's owner from its producer org and
// that org's first user-bearing person member, then pushes the pair down to
// the tour's events, actors and venues. A tour with no derivable owner is a
// hard error: partial ownership would silently hide data.
func (p *planner) assignTourOwnership() error {
	tours := append([]*Tour(nil), p.snap.Tours...)
	sort.Slice(tours, func(i, j int) bool { return tours[i].Title < tours[j].Title })

	for _, tour := range tours {
		group := p.findProducerOrg(tour)
		if group == nil {
			return fmt.Errorf("tour %q (%s): no producer org among actors", tour.Title, tour.ID)
		}
		owner := p.findFirstMemberUser(group)
		if owner == nil {
			return fmt.Errorf("tour %q (%s): producer org %q has no member with a login", tour.Title, tour.ID, group.Name)
		}

		p.record("tours", tour.ID, &tour.OwnerID, *owner)
		p.recordGroup("tours", tour.ID, &tour.GroupOwnerID, group.ID)

		for _, event := range tour.Events {
			p.record("events", event.ID, &event.OwnerID, *owner)
			p.recordGroup("events", event.ID, &event.GroupOwnerID, group.ID)
			p.assignLinkedParties(event.Actors, group.ID, *owner, map[uuid.UUID]bool{})
			if event.VenueOrgID != nil {
				p.assignParty(Link{Kind: store.MemberOrg, PartyID: *event.VenueOrgID}, group.ID, *owner, map[uuid.UUID]bool{})
			}
		}

		p.assignLinkedParties(tour.Actors, group.ID, *owner, map[uuid.UUID]bool{})
	}
	return nil
}

// findProducerOrg returns the first org linked to the tour with role
// "producer".
func (p *planner) findProducerOrg(tour *Tour) *Org {
	for _, link := range tour.Actors {
		if link.Kind == store.MemberOrg && link.Role == "producer" {
			if org, ok := p.snap.Orgs[link.PartyID]; ok {
				return org
			}
		}
	}
	return nil
}

// findFirstMemberUser returns the user of the org's first person member
// that has one.
func (p *planner) findFirstMemberUser(org *Org) *uuid.UUID {
	for _, link := range org.Members {
		if link.Kind != store.MemberPerson {
			continue
		}
		if person, ok := p.snap.Persons[link.PartyID]; ok && person.UserID != nil {
			return person.UserID
		}
	}
	return nil
}

// assignLinkedParties fills missing ownership on every linked party,
// recursing into member orgs. visited guards against membership cycles.
func (p *planner) assignLinkedParties(links []Link, groupID, ownerID uuid.UUID, visited map[uuid.UUID]bool) {
	for _, link := range links {
		p.assignParty(link, groupID, ownerID, visited)
	}
}

func (p *planner) assignParty(link Link, groupID, ownerID uuid.UUID, visited map[uuid.UUID]bool) {
	switch link.Kind {
	case store.MemberPerson:
		person, ok := p.snap.Persons[link.PartyID]
		if !ok {
			return
		}
		if person.OwnerID == nil {
			p.record("persons", person.ID, &person.OwnerID, ownerID)
		}
		if person.GroupOwnerID == nil {
			p.recordGroup("persons", person.ID, &person.GroupOwnerID, groupID)
		}
	case store.MemberOrg:
		org, ok := p.snap.Orgs[link.PartyID]
		if !ok || visited[org.ID] {
			return
		}
		visited[org.ID] = true
		if org.OwnerID == nil {
			p.record("orgs", org.ID, &org.OwnerID, ownerID)
		}
		if org.GroupOwnerID == nil {
			p.recordGroup("orgs", org.ID, &org.GroupOwnerID, groupID)
		}
		p.assignLinkedParties(org.Members, groupID, ownerID, visited)
	}
}

// assignOrgFallback makes orgs that still lack an owner their own group
// owner, owned by the user of their first member, when that member is a
// person with a login.
func (p *planner) assignOrgFallback() {
	ids := make([]uuid.UUID, 0, len(p.snap.Orgs))
	for id := range p.snap.Orgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		org := p.snap.Orgs[id]
		if org.OwnerID != nil || len(org.Members) == 0 {
			continue
		}
		first := org.Members[0]
		if first.Kind != store.MemberPerson {
			continue
		}
		person, ok := p.snap.Persons[first.PartyID]
		if !ok || person.UserID == nil {
			continue
		}
		p.recordGroup("orgs", org.ID, &org.GroupOwnerID, org.ID)
		p.record("orgs", org.ID, &org.OwnerID, *person.UserID)
	}
}

// record assigns an owner, mutating the snapshot field and logging the
// change. Changes to the same row merge at apply time.
func (p *planner) record(table string, id uuid.UUID, field **uuid.UUID, ownerID uuid.UUID) {
	value := ownerID
	*field = &value
	p.changes = append(p.changes, Change{Table: table, ID: id, OwnerID: &value})
}

func (p *planner) recordGroup(table string, id uuid.UUID, field **uuid.UUID, groupID uuid.UUID) {
	value := groupID
	*field = &value
	p.changes = append(p.changes, Change{Table: table, ID: id, GroupOwnerID: &value})
}
