package ownership

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Runner loads the directory graph, plans ownership assignments and applies
// them atomically.
type Runner struct {
	db *sql.DB
}

func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Report summarizes a run.
type Report struct {
	Applied       int
	UnownedOrgs   []string
	UnownedTours  []string
	UnownedPeople int
	UnownedEvents int
}

// Run executes the backfill. Either every assignment commits or none does;
// a planning error leaves the database untouched.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return Report{}, err
	}

	changes, err := Plan(snap)
	if err != nil {
		return Report{}, err
	}

	if err := r.apply(ctx, changes); err != nil {
		return Report{}, err
	}

	report, err := r.reportUnowned(ctx)
	if err != nil {
		return Report{}, err
	}
	report.Applied = len(changes)
	return report, nil
}

func (r *Runner) load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Persons: map[uuid.UUID]*Person{},
		Orgs:    map[uuid.UUID]*Org{},
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, owner_id, group_owner_id FROM persons`)
	if err != nil {
		return nil, fmt.Errorf("load persons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var person Person
		var userID, ownerID, groupID uuid.NullUUID
		if err := rows.Scan(&person.ID, &userID, &ownerID, &groupID); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		person.UserID = fromNull(userID)
		person.OwnerID = fromNull(ownerID)
		person.GroupOwnerID = fromNull(groupID)
		snap.Persons[person.ID] = &person
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orgRows, err := r.db.QueryContext(ctx, `SELECT id, name, owner_id, group_owner_id FROM orgs`)
	if err != nil {
		return nil, fmt.Errorf("load orgs: %w", err)
	}
	defer orgRows.Close()
	for orgRows.Next() {
		var org Org
		var ownerID, groupID uuid.NullUUID
		if err := orgRows.Scan(&org.ID, &org.Name, &ownerID, &groupID); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		org.OwnerID = fromNull(ownerID)
		org.GroupOwnerID = fromNull(groupID)
		snap.Orgs[org.ID] = &org
	}
	if err := orgRows.Err(); err != nil {
		return nil, err
	}

	// Link order decides which member becomes the owner, so keep it stable.
	memberRows, err := r.db.QueryContext(ctx, `
		SELECT org_id, member_kind, member_id, COALESCE(data->>'role', '')
		FROM org_members ORDER BY org_id, member_kind, member_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load org members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var orgID uuid.UUID
		var link Link
		if err := memberRows.Scan(&orgID, &link.Kind, &link.PartyID, &link.Role); err != nil {
			return nil, fmt.Errorf("scan org member: %w", err)
		}
		if org, ok := snap.Orgs[orgID]; ok {
			org.Members = append(org.Members, link)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	tours := map[uuid.UUID]*Tour{}
	tourRows, err := r.db.QueryContext(ctx, `SELECT id, title, owner_id, group_owner_id FROM tours ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("load tours: %w", err)
	}
	defer tourRows.Close()
	for tourRows.Next() {
		var tour Tour
		var ownerID, groupID uuid.NullUUID
		if err := tourRows.Scan(&tour.ID, &tour.Title, &ownerID, &groupID); err != nil {
			return nil, fmt.Errorf("scan tour: %w", err)
		}
		tour.OwnerID = fromNull(ownerID)
		tour.GroupOwnerID = fromNull(groupID)
		tours[tour.ID] = &tour
		snap.Tours = append(snap.Tours, &tour)
	}
	if err := tourRows.Err(); err != nil {
		return nil, err
	}

	actorRows, err := r.db.QueryContext(ctx, `
		SELECT tour_id, actor_kind, actor_id, COALESCE(data->>'role', '')
		FROM tour_actors ORDER BY tour_id, actor_kind, actor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load tour actors: %w", err)
	}
	defer actorRows.Close()
	for actorRows.Next() {
		var tourID uuid.UUID
		var link Link
		if err := actorRows.Scan(&tourID, &link.Kind, &link.PartyID, &link.Role); err != nil {
			return nil, fmt.Errorf("scan tour actor: %w", err)
		}
		if tour, ok := tours[tourID]; ok {
			tour.Actors = append(tour.Actors, link)
		}
	}
	if err := actorRows.Err(); err != nil {
		return nil, err
	}

	events := map[uuid.UUID]*Event{}
	eventRows, err := r.db.QueryContext(ctx, `SELECT id, tour_id, owner_id, group_owner_id, venue_org_id FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var event Event
		var tourID uuid.UUID
		var ownerID, groupID, venueID uuid.NullUUID
		if err := eventRows.Scan(&event.ID, &tourID, &ownerID, &groupID, &venueID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.OwnerID = fromNull(ownerID)
		event.GroupOwnerID = fromNull(groupID)
		event.VenueOrgID = fromNull(venueID)
		events[event.ID] = &event
		if tour, ok := tours[tourID]; ok {
			tour.Events = append(tour.Events, &event)
		}
	}
	if err := eventRows.Err(); err != nil {
		return nil, err
	}

	eventActorRows, err := r.db.QueryContext(ctx, `
		SELECT event_id, actor_kind, actor_id, COALESCE(data->>'role', '')
		FROM event_actors ORDER BY event_id, actor_kind, actor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load event actors: %w", err)
	}
	defer eventActorRows.Close()
	for eventActorRows.Next() {
		var eventID uuid.UUID
		var link Link
		if err := eventActorRows.Scan(&eventID, &link.Kind, &link.PartyID, &link.Role); err != nil {
			return nil, fmt.Errorf("scan event actor: %w", err)
		}
		if event, ok := events[eventID]; ok {
			event.Actors = append(event.Actors, link)
		}
	}
	return snap, eventActorRows.Err()
}

func (r *Runner) apply(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ownership tx: %w", err)
	}
	defer tx.Rollback()

	for _, change := range changes {
		switch {
		case change.OwnerID != nil:
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET owner_id = $2 WHERE id = $1`, change.Table),
				change.ID, *change.OwnerID)
		case change.GroupOwnerID != nil:
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET group_owner_id = $2 WHERE id = $1`, change.Table),
				change.ID, *change.GroupOwnerID)
		}
		if err != nil {
			return fmt.Errorf("apply ownership to %s %s: %w", change.Table, change.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ownership: %w", err)
	}
	log.Printf("ownership: applied %d assignments", len(changes))
	return nil
}

// reportUnowned lists what is still unowned after the run, mirroring the
// summary the operators read before deciding on manual fixes.
func (r *Runner) reportUnowned(ctx context.Context) (Report, error) {
	var report Report

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons WHERE owner_id IS NULL`).Scan(&report.UnownedPeople); err != nil {
		return Report{}, fmt.Errorf("count unowned persons: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE owner_id IS NULL`).Scan(&report.UnownedEvents); err != nil {
		return Report{}, fmt.Errorf("count unowned events: %w", err)
	}

	names, err := r.listNames(ctx, `SELECT name FROM orgs WHERE owner_id IS NULL ORDER BY name`)
	if err != nil {
		return Report{}, err
	}
	report.UnownedOrgs = names

	titles, err := r.listNames(ctx, `SELECT title FROM tours WHERE owner_id IS NULL ORDER BY title`)
	if err != nil {
		return Report{}, err
	}
	report.UnownedTours = titles

	return report, nil
}

func (r *Runner) listNames(ctx context.Context, sqlText string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("list unowned: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan unowned name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func fromNull(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	value := id.UUID
	return &value
}
