package store

import (
	"time"

	"github.com/google/uuid"

	"stagedir/api/internal/acl"
)

// User is an authentication principal. Users are not ACL-bearing; they are
// joined to the directory through the person that references them.
type User struct {
	ID             uuid.UUID
	Email          string
	FullName       string
	HashedPassword string
	IsActive       bool
	IsSuperuser    bool
	IsMember       bool
}

// Org is an organisation: a company, venue operator, festival or collective.
// The embedded acl.Row carries its visibility columns.
type Org struct {
	ID          uuid.UUID
	Name        string
	Description string
	acl.Row
}

// Person is an individual in the directory, optionally linked to a login.
type Person struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	UserID    *uuid.UUID
	acl.Row
}

// Tour groups a set of events under one production.
type Tour struct {
	ID          uuid.UUID
	Title       string
	Description string
	acl.Row
}

// Event is one dated occurrence of a tour, optionally placed at a venue org.
type Event struct {
	ID         uuid.UUID
	TourID     uuid.UUID
	Title      string
	StartAt    *time.Time
	EndAt      *time.Time
	VenueOrgID *uuid.UUID
	acl.Row
}

// MemberKind discriminates the polymorphic membership and actor links: the
// linked party is either an org or a person.
type MemberKind string

const (
	MemberOrg    MemberKind = "org"
	MemberPerson MemberKind = "person"
)

// Membership links a party to an org with free-form attributes (role, dates).
type Membership struct {
	OrgID   uuid.UUID
	Kind    MemberKind
	PartyID uuid.UUID
	Data    map[string]any
}

// Actor links a party to a tour or an event.
type Actor struct {
	Kind    MemberKind
	PartyID uuid.UUID
	Data    map[string]any
}

// PartyRef is a membership or actor row resolved against its concrete party,
// carrying the display name of whichever side the link points at.
type PartyRef struct {
	Kind    MemberKind
	PartyID uuid.UUID
	Name    string
	Data    map[string]any
}

// Page bounds list reads.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
