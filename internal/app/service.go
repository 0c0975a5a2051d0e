package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stagedir/api/internal/acl"
	"stagedir/api/internal/auth"
	"stagedir/api/internal/authpw"
	"stagedir/api/internal/cache"
	"stagedir/api/internal/pathtree"
	"stagedir/api/internal/search"
	"stagedir/api/internal/store"
	"stagedir/api/internal/taxonomy"
)

// Service wires storage, taxonomies, auth, cache and search behind the HTTP
// surface. Every directory read it performs carries the caller's security
// context; there is no unfiltered read path.
type Service struct {
	db         *sql.DB
	users      *store.Users
	directory  *store.Directory
	taxonomies map[string]*taxonomy.Store
	cache      *cache.TaxonomyCache
	search     *search.Service
	tokens     *auth.Issuer
	passwords  *authpw.Service
}

// NewService builds the service. taxonomyCache and searchSvc may be nil;
// both concerns degrade gracefully without them.
func NewService(db *sql.DB, taxonomyCache *cache.TaxonomyCache, searchSvc *search.Service, tokens *auth.Issuer) (*Service, error) {
	users := store.NewUsers(db)
	taxonomies := map[string]*taxonomy.Store{}
	for _, table := range []string{taxonomy.TableActivities, taxonomy.TableDisciplines, taxonomy.TableMobilities} {
		ts, err := taxonomy.New(db, table)
		if err != nil {
			return nil, fmt.Errorf("init taxonomy %s: %w", table, err)
		}
		taxonomies[table] = ts
	}
	return &Service{
		db:         db,
		users:      users,
		directory:  store.NewDirectory(db),
		taxonomies: taxonomies,
		cache:      taxonomyCache,
		search:     searchSvc,
		tokens:     tokens,
		passwords:  authpw.NewService(users),
	}, nil
}

// Ping verifies database connectivity for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CachePing reports cache health, or nil when no cache is configured.
func (s *Service) CachePing(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// --- auth ---

type SignInResult struct {
	Token       string    `json:"token"`
	UserID      uuid.UUID `json:"userId"`
	Email       string    `json:"email"`
	FullName    string    `json:"fullName"`
	IsSuperuser bool      `json:"isSuperuser"`
}

func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	user, err := s.passwords.Authenticate(ctx, email, password)
	if err != nil {
		return SignInResult{}, err
	}
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{
		Token:       token,
		UserID:      user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		IsSuperuser: user.IsSuperuser,
	}, nil
}

// ContextFromToken builds the per-request security context. An empty token
// yields the anonymous context; a bad or stale token is an error rather than
// a silent downgrade. Flags and group memberships are loaded fresh on every
// request so revocations take effect immediately.
func (s *Service) ContextFromToken(ctx context.Context, token string) (acl.SecurityContext, error) {
	if token == "" {
		return acl.Anonymous(), nil
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return acl.SecurityContext{}, errUnauthorized()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return acl.SecurityContext{}, errUnauthorized()
	}
	if !user.IsActive {
		return acl.SecurityContext{}, errUnauthorized()
	}

	groups, err := s.users.GroupIDs(ctx, user.ID)
	if err != nil {
		return acl.SecurityContext{}, fmt.Errorf("load groups: %w", err)
	}

	id := user.ID
	return acl.SecurityContext{
		UserID:      &id,
		IsSuperuser: user.IsSuperuser,
		IsMember:    user.IsMember,
		GroupIDs:    groups,
	}, nil
}

// --- taxonomies ---

type TaxonomyNode struct {
	ID    uuid.UUID      `json:"id"`
	Path  string         `json:"path"`
	Name  string         `json:"name"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

type TaxonomyListing struct {
	Nodes []TaxonomyNode `json:"nodes"`
	Total int            `json:"total"`
}

type MoveResult struct {
	LowestCommonAncestor *string `json:"lowestCommonAncestor"`
	AffectedCount        int64   `json:"affectedCount"`
}

type DeleteResult struct {
	AffectedCount int64 `json:"affectedCount"`
}

func (s *Service) taxonomyFor(table string) (*taxonomy.Store, error) {
	ts, ok := s.taxonomies[table]
	if !ok {
		return nil, errNotFound("Unknown taxonomy")
	}
	return ts, nil
}

func toTaxonomyNode(node taxonomy.Node) TaxonomyNode {
	return TaxonomyNode{ID: node.ID, Path: node.Path.String(), Name: node.Name, Attrs: node.Attrs}
}

// TaxonomyList serves a subtree listing, cache first. Trees are public
// reference data, so listings are shared across callers.
func (s *Service) TaxonomyList(ctx context.Context, table, prefixText string, offset, limit int) (TaxonomyListing, error) {
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return TaxonomyListing{}, err
	}

	var prefix pathtree.Path
	if prefixText != "" {
		prefix, err = pathtree.Parse(prefixText)
		if err != nil {
			return TaxonomyListing{}, err
		}
	}

	if s.cache != nil {
		if payload, ok := s.cache.GetListing(ctx, table, prefixText, offset, limit); ok {
			var listing TaxonomyListing
			if err := json.Unmarshal(payload, &listing); err == nil {
				return listing, nil
			}
		}
	}

	nodes, total, err := ts.ListByPrefix(ctx, prefix, offset, limit)
	if err != nil {
		return TaxonomyListing{}, err
	}
	listing := TaxonomyListing{Nodes: make([]TaxonomyNode, 0, len(nodes)), Total: total}
	for _, node := range nodes {
		listing.Nodes = append(listing.Nodes, toTaxonomyNode(node))
	}

	if s.cache != nil {
		if payload, err := json.Marshal(listing); err == nil {
			if err := s.cache.SetListing(ctx, table, prefixText, offset, limit, payload); err != nil {
				log.Printf("taxonomy: cache listing: %v", err)
			}
		}
	}
	return listing, nil
}

func (s *Service) TaxonomyGet(ctx context.Context, table, pathText string) (TaxonomyNode, error) {
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return TaxonomyNode{}, err
	}
	path, err := pathtree.Parse(pathText)
	if err != nil {
		return TaxonomyNode{}, err
	}
	node, err := ts.GetByPath(ctx, path)
	if err != nil {
		return TaxonomyNode{}, err
	}
	return toTaxonomyNode(node), nil
}

// TaxonomyCreate derives the node's label from its display name and places
// it under the optional parent. Curation is superuser-only.
func (s *Service) TaxonomyCreate(ctx context.Context, sctx acl.SecurityContext, table, parentText, name string, attrs map[string]any) (TaxonomyNode, error) {
	if !sctx.IsSuperuser {
		return TaxonomyNode{}, errForbidden()
	}
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return TaxonomyNode{}, err
	}
	if name == "" {
		return TaxonomyNode{}, errValidation("name is required")
	}

	var parent pathtree.Path
	if parentText != "" {
		parent, err = pathtree.Parse(parentText)
		if err != nil {
			return TaxonomyNode{}, err
		}
		if _, err := ts.GetByPath(ctx, parent); err != nil {
			return TaxonomyNode{}, err
		}
	}

	label, err := pathtree.Parse(pathtree.Normalize(name))
	if err != nil {
		return TaxonomyNode{}, errValidation("name does not reduce to a usable label")
	}
	path := pathtree.Join(parent, label)

	node, err := ts.Create(ctx, path, name, attrs)
	if err != nil {
		return TaxonomyNode{}, err
	}
	s.invalidateTaxonomy(ctx, table, path)
	return toTaxonomyNode(node), nil
}

// TaxonomyRename changes the display name only; paths move via TaxonomyMove.
func (s *Service) TaxonomyRename(ctx context.Context, sctx acl.SecurityContext, table, pathText, newName string) (TaxonomyNode, error) {
	if !sctx.IsSuperuser {
		return TaxonomyNode{}, errForbidden()
	}
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return TaxonomyNode{}, err
	}
	if newName == "" {
		return TaxonomyNode{}, errValidation("name is required")
	}
	path, err := pathtree.Parse(pathText)
	if err != nil {
		return TaxonomyNode{}, err
	}
	node, err := ts.Rename(ctx, path, newName)
	if err != nil {
		return TaxonomyNode{}, err
	}
	s.invalidateTaxonomy(ctx, table, path)
	return toTaxonomyNode(node), nil
}

// TaxonomyMove relocates a subtree and reports the lowest common ancestor of
// source and destination plus the number of nodes rewritten. The ancestor is
// null when the move crossed roots.
func (s *Service) TaxonomyMove(ctx context.Context, sctx acl.SecurityContext, table, sourceText, destText string) (MoveResult, error) {
	if !sctx.IsSuperuser {
		return MoveResult{}, errForbidden()
	}
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return MoveResult{}, err
	}
	source, err := pathtree.Parse(sourceText)
	if err != nil {
		return MoveResult{}, err
	}
	dest, err := pathtree.Parse(destText)
	if err != nil {
		return MoveResult{}, err
	}

	lca, affected, err := ts.Move(ctx, source, dest)
	if err != nil {
		return MoveResult{}, err
	}
	s.invalidateTaxonomy(ctx, table, lca)

	result := MoveResult{AffectedCount: affected}
	if !lca.IsZero() {
		text := lca.String()
		result.LowestCommonAncestor = &text
	}
	return result, nil
}

// TaxonomyDelete removes a subtree. Deleting nothing is not an error; the
// count says so.
func (s *Service) TaxonomyDelete(ctx context.Context, sctx acl.SecurityContext, table, pathText string) (DeleteResult, error) {
	if !sctx.IsSuperuser {
		return DeleteResult{}, errForbidden()
	}
	ts, err := s.taxonomyFor(table)
	if err != nil {
		return DeleteResult{}, err
	}
	path, err := pathtree.Parse(pathText)
	if err != nil {
		return DeleteResult{}, err
	}
	affected, err := ts.Delete(ctx, path)
	if err != nil {
		return DeleteResult{}, err
	}
	s.invalidateTaxonomy(ctx, table, path)
	return DeleteResult{AffectedCount: affected}, nil
}

func (s *Service) invalidateTaxonomy(ctx context.Context, table string, subtree pathtree.Path) {
	if s.cache == nil {
		return
	}
	// Invalidation is bounded by the subtree that actually changed.
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.cache.InvalidateSubtree(cctx, table, subtree); err != nil {
		log.Printf("taxonomy: invalidate %s cache: %v", table, err)
	}
}

// --- directory ---

type OrgDTO struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

type PersonDTO struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
}

type TourDTO struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

type EventDTO struct {
	ID         uuid.UUID  `json:"id"`
	TourID     uuid.UUID  `json:"tourId"`
	Title      string     `json:"title"`
	StartAt    *time.Time `json:"startAt"`
	EndAt      *time.Time `json:"endAt"`
	VenueOrgID *uuid.UUID `json:"venueOrgId"`
}

type PartyRefDTO struct {
	Kind string         `json:"kind"`
	ID   uuid.UUID      `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

type Listing[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func toOrgDTO(org store.Org) OrgDTO {
	return OrgDTO{ID: org.ID, Name: org.Name, Description: org.Description}
}

func toPersonDTO(person store.Person) PersonDTO {
	return PersonDTO{ID: person.ID, FirstName: person.FirstName, LastName: person.LastName}
}

func toTourDTO(tour store.Tour) TourDTO {
	return TourDTO{ID: tour.ID, Title: tour.Title, Description: tour.Description}
}

func toEventDTO(event store.Event) EventDTO {
	return EventDTO{ID: event.ID, TourID: event.TourID, Title: event.Title, StartAt: event.StartAt, EndAt: event.EndAt, VenueOrgID: event.VenueOrgID}
}

func toPartyRefDTOs(refs []store.PartyRef) []PartyRefDTO {
	out := make([]PartyRefDTO, 0, len(refs))
	for _, ref := range refs {
		out = append(out, PartyRefDTO{Kind: string(ref.Kind), ID: ref.PartyID, Name: ref.Name, Data: ref.Data})
	}
	return out
}

func (s *Service) ListOrgs(ctx context.Context, sctx acl.SecurityContext, page store.Page) (Listing[OrgDTO], error) {
	orgs, total, err := s.directory.ListOrgs(ctx, sctx, page)
	if err != nil {
		return Listing[OrgDTO]{}, err
	}
	listing := Listing[OrgDTO]{Items: make([]OrgDTO, 0, len(orgs)), Total: total}
	for _, org := range orgs {
		listing.Items = append(listing.Items, toOrgDTO(org))
	}
	return listing, nil
}

func (s *Service) GetOrg(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (OrgDTO, error) {
	org, err := s.directory.GetOrg(ctx, sctx, id)
	if err != nil {
		return OrgDTO{}, err
	}
	return toOrgDTO(org), nil
}

// CreateOrg makes the caller the owner and applies the default flag set.
func (s *Service) CreateOrg(ctx context.Context, sctx acl.SecurityContext, name, description string) (OrgDTO, error) {
	if sctx.UserID == nil {
		return OrgDTO{}, errUnauthorized()
	}
	if name == "" {
		return OrgDTO{}, errValidation("name is required")
	}
	org := store.Org{ID: uuid.New(), Name: name, Description: description, Row: acl.Defaults()}
	org.OwnerID = sctx.UserID
	if err := s.directory.CreateOrg(ctx, org); err != nil {
		return OrgDTO{}, err
	}
	if s.search != nil {
		s.search.IndexOrg(search.OrgRecord{ID: org.ID.String(), Name: org.Name, Description: org.Description})
	}
	return toOrgDTO(org), nil
}

// UpdateOrg loads the org through the caller's read filter, then checks
// write access on the loaded row.
func (s *Service) UpdateOrg(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID, name, description string) (OrgDTO, error) {
	org, err := s.directory.GetOrg(ctx, sctx, id)
	if err != nil {
		return OrgDTO{}, err
	}
	if !acl.AllowsWrite(sctx, org.Row) {
		return OrgDTO{}, errForbidden()
	}
	if name != "" {
		org.Name = name
	}
	org.Description = description
	if err := s.directory.UpdateOrg(ctx, org); err != nil {
		return OrgDTO{}, err
	}
	if s.search != nil {
		s.search.IndexOrg(search.OrgRecord{ID: org.ID.String(), Name: org.Name, Description: org.Description})
	}
	return toOrgDTO(org), nil
}

func (s *Service) DeleteOrg(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) error {
	org, err := s.directory.GetOrg(ctx, sctx, id)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, org.Row) {
		return errForbidden()
	}
	if err := s.directory.DeleteOrg(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteOrg(id.String())
	}
	return nil
}

func (s *Service) ListOrgMembers(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID) ([]PartyRefDTO, error) {
	// The org itself must be visible before its membership is.
	if _, err := s.directory.GetOrg(ctx, sctx, orgID); err != nil {
		return nil, err
	}
	refs, err := s.directory.ListOrgMembers(ctx, sctx, orgID)
	if err != nil {
		return nil, err
	}
	return toPartyRefDTOs(refs), nil
}

func (s *Service) AddOrgMember(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID, kind string, partyID uuid.UUID, data map[string]any) error {
	org, err := s.directory.GetOrg(ctx, sctx, orgID)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, org.Row) {
		return errForbidden()
	}
	memberKind, err := parseMemberKind(kind)
	if err != nil {
		return err
	}
	if err := s.requirePartyVisible(ctx, sctx, memberKind, partyID); err != nil {
		return err
	}
	return s.directory.AddMembership(ctx, store.Membership{OrgID: orgID, Kind: memberKind, PartyID: partyID, Data: data})
}

func (s *Service) ListOrgActivities(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID) ([]string, error) {
	paths, err := s.directory.ListOrgActivityPaths(ctx, sctx, orgID)
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// AddOrgActivity tags an org with an activity tree node, addressed by path.
func (s *Service) AddOrgActivity(ctx context.Context, sctx acl.SecurityContext, orgID uuid.UUID, pathText string) error {
	org, err := s.directory.GetOrg(ctx, sctx, orgID)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, org.Row) {
		return errForbidden()
	}
	path, err := pathtree.Parse(pathText)
	if err != nil {
		return err
	}
	node, err := s.taxonomies[taxonomy.TableActivities].GetByPath(ctx, path)
	if err != nil {
		return err
	}
	return s.directory.AddOrgActivity(ctx, orgID, node.ID)
}

func (s *Service) ListPersons(ctx context.Context, sctx acl.SecurityContext, page store.Page) (Listing[PersonDTO], error) {
	persons, total, err := s.directory.ListPersons(ctx, sctx, page)
	if err != nil {
		return Listing[PersonDTO]{}, err
	}
	listing := Listing[PersonDTO]{Items: make([]PersonDTO, 0, len(persons)), Total: total}
	for _, person := range persons {
		listing.Items = append(listing.Items, toPersonDTO(person))
	}
	return listing, nil
}

func (s *Service) GetPerson(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (PersonDTO, error) {
	person, err := s.directory.GetPerson(ctx, sctx, id)
	if err != nil {
		return PersonDTO{}, err
	}
	return toPersonDTO(person), nil
}

func (s *Service) CreatePerson(ctx context.Context, sctx acl.SecurityContext, firstName, lastName string) (PersonDTO, error) {
	if sctx.UserID == nil {
		return PersonDTO{}, errUnauthorized()
	}
	if firstName == "" && lastName == "" {
		return PersonDTO{}, errValidation("a name is required")
	}
	person := store.Person{ID: uuid.New(), FirstName: firstName, LastName: lastName, Row: acl.Defaults()}
	person.OwnerID = sctx.UserID
	if err := s.directory.CreatePerson(ctx, person); err != nil {
		return PersonDTO{}, err
	}
	return toPersonDTO(person), nil
}

func (s *Service) ListTours(ctx context.Context, sctx acl.SecurityContext, page store.Page) (Listing[TourDTO], error) {
	tours, total, err := s.directory.ListTours(ctx, sctx, page)
	if err != nil {
		return Listing[TourDTO]{}, err
	}
	listing := Listing[TourDTO]{Items: make([]TourDTO, 0, len(tours)), Total: total}
	for _, tour := range tours {
		listing.Items = append(listing.Items, toTourDTO(tour))
	}
	return listing, nil
}

func (s *Service) GetTour(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (TourDTO, error) {
	tour, err := s.directory.GetTour(ctx, sctx, id)
	if err != nil {
		return TourDTO{}, err
	}
	return toTourDTO(tour), nil
}

func (s *Service) CreateTour(ctx context.Context, sctx acl.SecurityContext, title, description string) (TourDTO, error) {
	if sctx.UserID == nil {
		return TourDTO{}, errUnauthorized()
	}
	if title == "" {
		return TourDTO{}, errValidation("title is required")
	}
	tour := store.Tour{ID: uuid.New(), Title: title, Description: description, Row: acl.Defaults()}
	tour.OwnerID = sctx.UserID
	if err := s.directory.CreateTour(ctx, tour); err != nil {
		return TourDTO{}, err
	}
	if s.search != nil {
		s.search.IndexTour(search.TourRecord{ID: tour.ID.String(), Title: tour.Title, Description: tour.Description})
	}
	return toTourDTO(tour), nil
}

func (s *Service) UpdateTour(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID, title, description string) (TourDTO, error) {
	tour, err := s.directory.GetTour(ctx, sctx, id)
	if err != nil {
		return TourDTO{}, err
	}
	if !acl.AllowsWrite(sctx, tour.Row) {
		return TourDTO{}, errForbidden()
	}
	if title != "" {
		tour.Title = title
	}
	tour.Description = description
	if err := s.directory.UpdateTour(ctx, tour); err != nil {
		return TourDTO{}, err
	}
	if s.search != nil {
		s.search.IndexTour(search.TourRecord{ID: tour.ID.String(), Title: tour.Title, Description: tour.Description})
	}
	return toTourDTO(tour), nil
}

func (s *Service) ListTourActors(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID) ([]PartyRefDTO, error) {
	if _, err := s.directory.GetTour(ctx, sctx, tourID); err != nil {
		return nil, err
	}
	refs, err := s.directory.ListTourActors(ctx, sctx, tourID)
	if err != nil {
		return nil, err
	}
	return toPartyRefDTOs(refs), nil
}

func (s *Service) AddTourActor(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, kind string, partyID uuid.UUID, data map[string]any) error {
	tour, err := s.directory.GetTour(ctx, sctx, tourID)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, tour.Row) {
		return errForbidden()
	}
	memberKind, err := parseMemberKind(kind)
	if err != nil {
		return err
	}
	if err := s.requirePartyVisible(ctx, sctx, memberKind, partyID); err != nil {
		return err
	}
	return s.directory.AddTourActor(ctx, tourID, store.Actor{Kind: memberKind, PartyID: partyID, Data: data})
}

// ListTourDisciplines and ListTourMobilities expose the taxonomy tags of a
// tour as dotted paths.
func (s *Service) ListTourDisciplines(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID) ([]string, error) {
	return s.listTourTaxonomy(ctx, sctx, tourID, "tour_disciplines", taxonomy.TableDisciplines, "discipline_id")
}

func (s *Service) ListTourMobilities(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID) ([]string, error) {
	return s.listTourTaxonomy(ctx, sctx, tourID, "tour_mobilities", taxonomy.TableMobilities, "mobility_id")
}

func (s *Service) listTourTaxonomy(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, linkTable, taxonomyTable, fkCol string) ([]string, error) {
	paths, err := s.directory.ListTourTaxonomyPaths(ctx, sctx, linkTable, taxonomyTable, fkCol, tourID)
	if err != nil {
		return nil, err
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

func (s *Service) AddTourDiscipline(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, pathText string) error {
	return s.addTourTaxonomy(ctx, sctx, tourID, "tour_disciplines", taxonomy.TableDisciplines, "discipline_id", pathText)
}

func (s *Service) AddTourMobility(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, pathText string) error {
	return s.addTourTaxonomy(ctx, sctx, tourID, "tour_mobilities", taxonomy.TableMobilities, "mobility_id", pathText)
}

func (s *Service) addTourTaxonomy(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, linkTable, taxonomyTable, fkCol, pathText string) error {
	tour, err := s.directory.GetTour(ctx, sctx, tourID)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, tour.Row) {
		return errForbidden()
	}
	path, err := pathtree.Parse(pathText)
	if err != nil {
		return err
	}
	node, err := s.taxonomies[taxonomyTable].GetByPath(ctx, path)
	if err != nil {
		return err
	}
	return s.directory.AddTourTaxonomy(ctx, linkTable, fkCol, tourID, node.ID)
}

func (s *Service) ListTourEvents(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, page store.Page) (Listing[EventDTO], error) {
	if _, err := s.directory.GetTour(ctx, sctx, tourID); err != nil {
		return Listing[EventDTO]{}, err
	}
	events, total, err := s.directory.ListEvents(ctx, sctx, &tourID, page)
	if err != nil {
		return Listing[EventDTO]{}, err
	}
	listing := Listing[EventDTO]{Items: make([]EventDTO, 0, len(events)), Total: total}
	for _, event := range events {
		listing.Items = append(listing.Items, toEventDTO(event))
	}
	return listing, nil
}

// CreateEvent places an event under a tour the caller can write. The event
// inherits the tour's ownership, not the caller's.
func (s *Service) CreateEvent(ctx context.Context, sctx acl.SecurityContext, tourID uuid.UUID, title string, startAt, endAt *time.Time, venueOrgID *uuid.UUID) (EventDTO, error) {
	tour, err := s.directory.GetTour(ctx, sctx, tourID)
	if err != nil {
		return EventDTO{}, err
	}
	if !acl.AllowsWrite(sctx, tour.Row) {
		return EventDTO{}, errForbidden()
	}
	if title == "" {
		return EventDTO{}, errValidation("title is required")
	}

	event := store.Event{
		ID:         uuid.New(),
		TourID:     tourID,
		Title:      title,
		StartAt:    startAt,
		EndAt:      endAt,
		VenueOrgID: venueOrgID,
		Row:        acl.Defaults(),
	}
	event.OwnerID = tour.OwnerID
	event.GroupOwnerID = tour.GroupOwnerID
	if event.OwnerID == nil {
		event.OwnerID = sctx.UserID
	}
	if err := s.directory.CreateEvent(ctx, event); err != nil {
		return EventDTO{}, err
	}
	if s.search != nil {
		s.search.IndexEvent(search.EventRecord{ID: event.ID.String(), Title: event.Title, TourID: tourID.String()})
	}
	return toEventDTO(event), nil
}

func (s *Service) GetEvent(ctx context.Context, sctx acl.SecurityContext, id uuid.UUID) (EventDTO, error) {
	event, err := s.directory.GetEvent(ctx, sctx, id)
	if err != nil {
		return EventDTO{}, err
	}
	return toEventDTO(event), nil
}

func (s *Service) ListEventActors(ctx context.Context, sctx acl.SecurityContext, eventID uuid.UUID) ([]PartyRefDTO, error) {
	if _, err := s.directory.GetEvent(ctx, sctx, eventID); err != nil {
		return nil, err
	}
	refs, err := s.directory.ListEventActors(ctx, sctx, eventID)
	if err != nil {
		return nil, err
	}
	return toPartyRefDTOs(refs), nil
}

func (s *Service) AddEventActor(ctx context.Context, sctx acl.SecurityContext, eventID uuid.UUID, kind string, partyID uuid.UUID, data map[string]any) error {
	event, err := s.directory.GetEvent(ctx, sctx, eventID)
	if err != nil {
		return err
	}
	if !acl.AllowsWrite(sctx, event.Row) {
		return errForbidden()
	}
	memberKind, err := parseMemberKind(kind)
	if err != nil {
		return err
	}
	if err := s.requirePartyVisible(ctx, sctx, memberKind, partyID); err != nil {
		return err
	}
	return s.directory.AddEventActor(ctx, eventID, store.Actor{Kind: memberKind, PartyID: partyID, Data: data})
}

func parseMemberKind(kind string) (store.MemberKind, error) {
	switch store.MemberKind(kind) {
	case store.MemberOrg:
		return store.MemberOrg, nil
	case store.MemberPerson:
		return store.MemberPerson, nil
	}
	return "", errValidation(fmt.Sprintf("unknown party kind %q", kind))
}

// requirePartyVisible stops callers from linking parties they cannot see.
func (s *Service) requirePartyVisible(ctx context.Context, sctx acl.SecurityContext, kind store.MemberKind, partyID uuid.UUID) error {
	var err error
	switch kind {
	case store.MemberOrg:
		_, err = s.directory.GetOrg(ctx, sctx, partyID)
	case store.MemberPerson:
		_, err = s.directory.GetPerson(ctx, sctx, partyID)
	}
	return err
}

// --- search ---

type SearchResult struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Title   string    `json:"title"`
	Snippet string    `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

// Search runs the full-text query, then re-fetches every hit through the
// caller's filtered store. Hits the caller cannot see vanish; the index is
// never the authority on visibility.
func (s *Service) Search(ctx context.Context, sctx acl.SecurityContext, q search.Query) (SearchResponse, error) {
	if s.search == nil {
		return SearchResponse{Results: []SearchResult{}, Query: q.Text}, nil
	}

	hits, _ := s.search.Search(q)

	byType := map[search.ResultType][]uuid.UUID{}
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		byType[hit.Type] = append(byType[hit.Type], id)
	}

	visible := map[uuid.UUID]bool{}
	if ids := byType[search.ResultOrg]; len(ids) > 0 {
		orgs, err := s.directory.GetOrgsByIDs(ctx, sctx, ids)
		if err != nil {
			return SearchResponse{}, err
		}
		for _, org := range orgs {
			visible[org.ID] = true
		}
	}
	if ids := byType[search.ResultTour]; len(ids) > 0 {
		tours, err := s.directory.GetToursByIDs(ctx, sctx, ids)
		if err != nil {
			return SearchResponse{}, err
		}
		for _, tour := range tours {
			visible[tour.ID] = true
		}
	}
	if ids := byType[search.ResultEvent]; len(ids) > 0 {
		events, err := s.directory.GetEventsByIDs(ctx, sctx, ids)
		if err != nil {
			return SearchResponse{}, err
		}
		for _, event := range events {
			visible[event.ID] = true
		}
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil || !visible[id] {
			continue
		}
		results = append(results, SearchResult{Type: string(hit.Type), ID: id, Title: hit.Title, Snippet: hit.Snippet})
	}
	// The total reflects what the caller can see, not the raw index.
	return SearchResponse{Results: results, Total: len(results), Query: q.Text}, nil
}
