package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stagedir/api/internal/acl"
)

func aclCols(alias string) string {
	cols := []string{"owner_id", "group_owner_id", "group_read", "group_write", "member_read", "member_write", "other_read"}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

// scanACL adapts nullable uuid columns into the pointer fields of acl.Row.
type scanACL struct {
	owner uuid.NullUUID
	group uuid.NullUUID
	row   *acl.Row
}

func (s *scanACL) dests() []any {
	return []any{&s.owner, &s.group, &s.row.GroupRead, &s.row.GroupWrite, &s.row.MemberRead, &s.row.MemberWrite, &s.row.OtherRead}
}

func (s *scanACL) apply() {
	if s.owner.Valid {
		id := s.owner.UUID
		s.row.OwnerID = &id
	}
	if s.group.Valid {
		id := s.group.UUID
		s.row.GroupOwnerID = &id
	}
}

// inCond renders "expr IN ($%d, ...)" with one verb per value, for use with
// ReadQuery.Where.
func inCond(expr string, n int) string {
	verbs := make([]string, n)
	for i := range verbs {
		verbs[i] = "$%d"
	}
	return expr + " IN (" + strings.Join(verbs, ", ") + ")"
}

func idArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// --- orgs ---

func orgQuery() *ReadQuery {
	return NewRead("o.id, o.name, o.description, "+aclCols("o"), "orgs", "o")
}

func scanOrg(rows *sql.Rows) (Org, error) {
	var org Org
	aclScan := scanACL{row: &org.Row}
	dests := append([]any{&org.ID, &org.Name, &org.Description}, aclScan.dests()...)
	if err := rows.Scan(dests...); err != nil {
		return Org{}, fmt.Errorf("scan org: %w", err)
	}
	aclScan.apply()
	return org, nil
}

func (d *Directory) ListOrgs(ctx context.Context, sctx acl.SecurityContext, page Page) ([]Org, int, error) {
	q := orgQuery().OrderBy("o.name ASC, o.id ASC")
	rows, total, err := d.rowsWithCount(ctx, sctx, q, page)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orgs := make([]Org, 0)
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

func (d *Directory) GetOrg(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (Org, error) {
	q := orgQuery().Where("o.id = $%d", id)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return Org{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Org{}, err
		}
		return Org{}, fmt.Errorf("org %s: %w", id, ErrNotFound)
	}
	return scanOrg(rows)
}

func (d *Directory) GetOrgsByIDs(ctx context.Context, sctx acl.SecurityContext, ids []uuid.UUID) ([]Org, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := orgQuery().Where(inCond("o.id", len(ids)), idArgs(ids)...)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orgs := make([]Org, 0, len(ids))
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (d *Directory) CreateOrg(ctx context.Context, org Org) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO orgs (id, name, description, owner_id, group_owner_id, group_read, group_write, member_read, member_write, other_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, org.ID, org.Name, org.Description,
		org.OwnerID, org.GroupOwnerID, org.GroupRead, org.GroupWrite, org.MemberRead, org.MemberWrite, org.OtherRead)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("org %s: %w", org.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert org: %w", err)
	}
	return nil
}

func (d *Directory) UpdateOrg(ctx context.Context, org Org) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE orgs
		SET name = $2, description = $3, owner_id = $4, group_owner_id = $5,
		    group_read = $6, group_write = $7, member_read = $8, member_write = $9, other_read = $10
		WHERE id = $1
	`, org.ID, org.Name, org.Description,
		org.OwnerID, org.GroupOwnerID, org.GroupRead, org.GroupWrite, org.MemberRead, org.MemberWrite, org.OtherRead)
	if err != nil {
		return fmt.Errorf("update org: %w", err)
	}
	return requireRow(result, "org", org.ID)
}

func (d *Directory) DeleteOrg(ctx context.Context, id uuid.UUID) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM orgs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete org: %w", err)
	}
	return requireRow(result, "org", id)
}

// --- persons ---

func personQuery() *ReadQuery {
	return NewRead("p.id, p.first_name, p.last_name, p.user_id, "+aclCols("p"), "persons", "p")
}

func scanPerson(rows *sql.Rows) (Person, error) {
	var person Person
	var userID uuid.NullUUID
	aclScan := scanACL{row: &person.Row}
	dests := append([]any{&person.ID, &person.FirstName, &person.LastName, &userID}, aclScan.dests()...)
	if err := rows.Scan(dests...); err != nil {
		return Person{}, fmt.Errorf("scan person: %w", err)
	}
	aclScan.apply()
	if userID.Valid {
		id := userID.UUID
		person.UserID = &id
	}
	return person, nil
}

func (d *Directory) ListPersons(ctx context.Context, sctx acl.SecurityContext, page Page) ([]Person, int, error) {
	q := personQuery().OrderBy("p.last_name ASC, p.first_name ASC, p.id ASC")
	rows, total, err := d.rowsWithCount(ctx, sctx, q, page)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	persons := make([]Person, 0)
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		persons = append(persons, person)
	}
	return persons, total, rows.Err()
}

func (d *Directory) GetPerson(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (Person, error) {
	q := personQuery().Where("p.id = $%d", id)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return Person{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Person{}, err
		}
		return Person{}, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	return scanPerson(rows)
}

func (d *Directory) CreatePerson(ctx context.Context, person Person) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO persons (id, first_name, last_name, user_id, owner_id, group_owner_id, group_read, group_write, member_read, member_write, other_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, person.ID, person.FirstName, person.LastName, person.UserID,
		person.OwnerID, person.GroupOwnerID, person.GroupRead, person.GroupWrite, person.MemberRead, person.MemberWrite, person.OtherRead)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("person %s: %w", person.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// --- tours ---

func tourQuery() *ReadQuery {
	return NewRead("t.id, t.title, t.description, "+aclCols("t"), "tours", "t")
}

func scanTour(rows *sql.Rows) (Tour, error) {
	var tour Tour
	aclScan := scanACL{row: &tour.Row}
	dests := append([]any{&tour.ID, &tour.Title, &tour.Description}, aclScan.dests()...)
	if err := rows.Scan(dests...); err != nil {
		return Tour{}, fmt.Errorf("scan tour: %w", err)
	}
	aclScan.apply()
	return tour, nil
}

func (d *Directory) ListTours(ctx context.Context, sctx acl.SecurityContext, page Page) ([]Tour, int, error) {
	q := tourQuery().OrderBy("t.title ASC, t.id ASC")
	rows, total, err := d.rowsWithCount(ctx, sctx, q, page)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tours := make([]Tour, 0)
	for rows.Next() {
		tour, err := scanTour(rows)
		if err != nil {
			return nil, 0, err
		}
		tours = append(tours, tour)
	}
	return tours, total, rows.Err()
}

func (d *Directory) GetTour(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (Tour, error) {
	q := tourQuery().Where("t.id = $%d", id)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return Tour{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Tour{}, err
		}
		return Tour{}, fmt.Errorf("tour %s: %w", id, ErrNotFound)
	}
	return scanTour(rows)
}

func (d *Directory) GetToursByIDs(ctx context.Context, sctx acl.SecurityContext, ids []uuid.UUID) ([]Tour, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := tourQuery().Where(inCond("t.id", len(ids)), idArgs(ids)...)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tours := make([]Tour, 0, len(ids))
	for rows.Next() {
		tour, err := scanTour(rows)
		if err != nil {
			return nil, err
		}
		tours = append(tours, tour)
	}
	return tours, rows.Err()
}

func (d *Directory) CreateTour(ctx context.Context, tour Tour) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tours (id, title, description, owner_id, group_owner_id, group_read, group_write, member_read, member_write, other_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tour.ID, tour.Title, tour.Description,
		tour.OwnerID, tour.GroupOwnerID, tour.GroupRead, tour.GroupWrite, tour.MemberRead, tour.MemberWrite, tour.OtherRead)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tour %s: %w", tour.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert tour: %w", err)
	}
	return nil
}

func (d *Directory) UpdateTour(ctx context.Context, tour Tour) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE tours
		SET title = $2, description = $3, owner_id = $4, group_owner_id = $5,
		    group_read = $6, group_write = $7, member_read = $8, member_write = $9, other_read = $10
		WHERE id = $1
	`, tour.ID, tour.Title, tour.Description,
		tour.OwnerID, tour.GroupOwnerID, tour.GroupRead, tour.GroupWrite, tour.MemberRead, tour.MemberWrite, tour.OtherRead)
	if err != nil {
		return fmt.Errorf("update tour: %w", err)
	}
	return requireRow(result, "tour", tour.ID)
}

// --- events ---

func eventQuery() *ReadQuery {
	return NewRead("e.id, e.tour_id, e.title, e.start_at, e.end_at, e.venue_org_id, "+aclCols("e"), "events", "e")
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var event Event
	var startAt, endAt sql.NullTime
	var venueID uuid.NullUUID
	aclScan := scanACL{row: &event.Row}
	dests := append([]any{&event.ID, &event.TourID, &event.Title, &startAt, &endAt, &venueID}, aclScan.dests()...)
	if err := rows.Scan(dests...); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	aclScan.apply()
	if startAt.Valid {
		t := startAt.Time
		event.StartAt = &t
	}
	if endAt.Valid {
		t := endAt.Time
		event.EndAt = &t
	}
	if venueID.Valid {
		id := venueID.UUID
		event.VenueOrgID = &id
	}
	return event, nil
}

// ListEvents returns events visible to the caller, optionally restricted to
// one tour. The tour filter does not join the tours table: event visibility
// is decided by the event's own ACL columns.
func (d *Directory) ListEvents(ctx context.Context, sctx acl.SecurityContext, tourID *uuid.UUID, page Page) ([]Event, int, error) {
	q := eventQuery().OrderBy("e.start_at ASC NULLS LAST, e.id ASC")
	if tourID != nil {
		q.Where("e.tour_id = $%d", *tourID)
	}
	rows, total, err := d.rowsWithCount(ctx, sctx, q, page)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

func (d *Directory) GetEvent(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (Event, error) {
	q := eventQuery().Where("e.id = $%d", id)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return Event{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return scanEvent(rows)
}

func (d *Directory) GetEventsByIDs(ctx context.Context, sctx acl.SecurityContext, ids []uuid.UUID) ([]Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := eventQuery().Where(inCond("e.id", len(ids)), idArgs(ids)...)
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, len(ids))
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (d *Directory) CreateEvent(ctx context.Context, event Event) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO events (id, tour_id, title, start_at, end_at, venue_org_id, owner_id, group_owner_id, group_read, group_write, member_read, member_write, other_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, event.ID, event.TourID, event.Title, event.StartAt, event.EndAt, event.VenueOrgID,
		event.OwnerID, event.GroupOwnerID, event.GroupRead, event.GroupWrite, event.MemberRead, event.MemberWrite, event.OtherRead)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", event.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// --- memberships and actors ---

// ListOrgMembers resolves the polymorphic membership links of one org. The
// link table carries no ACL columns; each branch joins the concrete party
// table so the caller's predicate applies to the org or person being
// revealed. Rows linking parties the caller cannot see are simply absent.
func (d *Directory) ListOrgMembers(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID) ([]PartyRef, error) {
	orgBranch := NewRead("m.member_id, o.name, COALESCE(m.data::text, '')", "org_members", "m").
		Join("orgs", "o", "o.id = m.member_id AND m.member_kind = 'org'").
		Where("m.org_id = $%d", orgID).
		OrderBy("o.name ASC")
	orgRefs, err := d.partyRefs(ctx, sctx, orgBranch, MemberOrg)
	if err != nil {
		return nil, err
	}

	personBranch := NewRead("m.member_id, p.first_name || ' ' || p.last_name, COALESCE(m.data::text, '')", "org_members", "m").
		Join("persons", "p", "p.id = m.member_id AND m.member_kind = 'person'").
		Where("m.org_id = $%d", orgID).
		OrderBy("p.last_name ASC, p.first_name ASC")
	personRefs, err := d.partyRefs(ctx, sctx, personBranch, MemberPerson)
	if err != nil {
		return nil, err
	}

	return append(orgRefs, personRefs...), nil
}

// ListTourActors resolves a tour's actor links, same shape as org members.
func (d *Directory) ListTourActors(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID) ([]PartyRef, error) {
	return d.listActors(ctx, sctx, "tour_actors", "tour_id", tourID)
}

// ListEventActors resolves an event's actor links.
func (d *Directory) ListEventActors(ctx context.Context, sctx acl.SecurityContext, eventID uuid.UUID) ([]PartyRef, error) {
	return d.listActors(ctx, sctx, "event_actors", "event_id", eventID)
}

func (d *Directory) listActors(ctx context.Context, sctx acl.SecurityContext, table, fkCol string, id uuid.UUID) ([]PartyRef, error) {
	orgBranch := NewRead("a.actor_id, o.name, COALESCE(a.data::text, '')", table, "a").
		Join("orgs", "o", "o.id = a.actor_id AND a.actor_kind = 'org'").
		Where("a."+fkCol+" = $%d", id).
		OrderBy("o.name ASC")
	orgRefs, err := d.partyRefs(ctx, sctx, orgBranch, MemberOrg)
	if err != nil {
		return nil, err
	}

	personBranch := NewRead("a.actor_id, p.first_name || ' ' || p.last_name, COALESCE(a.data::text, '')", table, "a").
		Join("persons", "p", "p.id = a.actor_id AND a.actor_kind = 'person'").
		Where("a."+fkCol+" = $%d", id).
		OrderBy("p.last_name ASC, p.first_name ASC")
	personRefs, err := d.partyRefs(ctx, sctx, personBranch, MemberPerson)
	if err != nil {
		return nil, err
	}

	return append(orgRefs, personRefs...), nil
}

func (d *Directory) partyRefs(ctx context.Context, sctx acl.SecurityContext, q *ReadQuery, kind MemberKind) ([]PartyRef, error) {
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]PartyRef, 0)
	for rows.Next() {
		var ref PartyRef
		var rawData string
		if err := rows.Scan(&ref.PartyID, &ref.Name, &rawData); err != nil {
			return nil, fmt.Errorf("scan party ref: %w", err)
		}
		ref.Kind = kind
		if rawData != "" {
			if err := json.Unmarshal([]byte(rawData), &ref.Data); err != nil {
				return nil, fmt.Errorf("decode link data: %w", err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (d *Directory) AddMembership(ctx context.Context, m Membership) error {
	return d.insertLink(ctx, `
		INSERT INTO org_members (org_id, member_kind, member_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
	`, m.OrgID, m.Kind, m.PartyID, m.Data)
}

func (d *Directory) AddTourActor(ctx context.Context, tourID uuid.UUID, a Actor) error {
	return d.insertLink(ctx, `
		INSERT INTO tour_actors (tour_id, actor_kind, actor_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
	`, tourID, a.Kind, a.PartyID, a.Data)
}

func (d *Directory) AddEventActor(ctx context.Context, eventID uuid.UUID, a Actor) error {
	return d.insertLink(ctx, `
		INSERT INTO event_actors (event_id, actor_kind, actor_id, data)
		VALUES ($1, $2, $3, $4::jsonb)
	`, eventID, a.Kind, a.PartyID, a.Data)
}

func (d *Directory) insertLink(ctx context.Context, sqlText string, ownerID uuid.UUID, kind MemberKind, partyID uuid.UUID, data map[string]any) error {
	var dataJSON any
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal link data: %w", err)
		}
		dataJSON = string(encoded)
	}
	if _, err := d.db.ExecContext(ctx, sqlText, ownerID, string(kind), partyID, dataJSON); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link %s/%s: %w", ownerID, partyID, ErrDuplicate)
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// ListOrgActivityPaths returns the taxonomy paths tagged on one org. The
// join reveals nothing beyond the org row itself, but the org relation is
// still declared so the caller only sees tags of orgs they can see.
func (d *Directory) ListOrgActivityPaths(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID) ([]string, error) {
	q := NewRead("act.path::text", "org_activities", "oa").
		Join("orgs", "o", "o.id = oa.org_id").
		Join("activities", "act", "act.id = oa.activity_id").
		Where("oa.org_id = $%d", orgID).
		OrderBy("act.path ASC")
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan activity path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (d *Directory) AddOrgActivity(ctx context.Context, orgID, activityID uuid.UUID) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO org_activities (org_id, activity_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, orgID, activityID)
	if err != nil {
		return fmt.Errorf("insert org activity: %w", err)
	}
	return nil
}

// ListTourTaxonomyPaths returns discipline or mobility paths tagged on one
// tour, under the tour's own visibility.
func (d *Directory) ListTourTaxonomyPaths(ctx context.Context, sctx acl.SecurityContext, linkTable, taxonomyTable, fkCol string, tourID uuid.UUID) ([]string, error) {
	q := NewRead("tx.path::text", linkTable, "lt").
		Join("tours", "t", "t.id = lt.tour_id").
		Join(taxonomyTable, "tx", fmt.Sprintf("tx.id = lt.%s", fkCol)).
		Where("lt.tour_id = $%d", tourID).
		OrderBy("tx.path ASC")
	rows, err := d.rows(ctx, sctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan taxonomy path: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (d *Directory) AddTourTaxonomy(ctx context.Context, linkTable, fkCol string, tourID, nodeID uuid.UUID) error {
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (tour_id, %s)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, linkTable, fkCol), tourID, nodeID)
	if err != nil {
		return fmt.Errorf("insert %s link: %w", linkTable, err)
	}
	return nil
}

func requireRow(result sql.Result, what string, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
