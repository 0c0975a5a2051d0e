// Package acl implements the row-level read-permission model: every
// directory entity carries an owner, a group owner and five visibility
// flags, and a per-request SecurityContext decides which rows a caller can
// see. The decision is available both as a SQL fragment (predicate
// pushdown) and as an in-process check over a loaded row; the two must
// always agree.
package acl

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SecurityContext describes the acting principal for one unit of work. It
// is built fresh from the authenticated user at the start of each request
// and never shared across requests. The zero value is the anonymous
// context, which is also the most restrictive one.
type SecurityContext struct {
	UserID      *uuid.UUID
	IsSuperuser bool
	IsMember    bool
	GroupIDs    []uuid.UUID
}

// Anonymous returns the most restrictive context: no user, no groups.
func Anonymous() SecurityContext {
	return SecurityContext{}
}

// Kind tags the concrete ACL-bearing entity types. The predicate builder
// matches on the tag instead of reflecting over a type registry.
type Kind string

const (
	KindOrg    Kind = "org"
	KindPerson Kind = "person"
	KindTour   Kind = "tour"
	KindEvent  Kind = "event"
)

func validKind(kind Kind) bool {
	switch kind {
	case KindOrg, KindPerson, KindTour, KindEvent:
		return true
	}
	return false
}

// Row holds the ACL columns of one loaded entity.
type Row struct {
	OwnerID      *uuid.UUID
	GroupOwnerID *uuid.UUID
	GroupRead    bool
	GroupWrite   bool
	MemberRead   bool
	MemberWrite  bool
	OtherRead    bool
}

// Allows evaluates read visibility of a single row in process. It mirrors
// Predicate exactly: superusers see everything; otherwise the row is
// visible when any clause holds. Absence of access is not an error.
func Allows(sctx SecurityContext, row Row) bool {
	if sctx.IsSuperuser {
		return true
	}
	if row.OtherRead {
		return true
	}
	if sctx.UserID != nil && row.OwnerID != nil && *row.OwnerID == *sctx.UserID {
		return true
	}
	if sctx.IsMember && row.MemberRead {
		return true
	}
	// Group visibility is gated on membership of the owning group alone,
	// not on IsMember. Tests assert this exact behavior.
	if row.GroupRead && row.GroupOwnerID != nil {
		for _, groupID := range sctx.GroupIDs {
			if groupID == *row.GroupOwnerID {
				return true
			}
		}
	}
	return false
}

// AllowsWrite evaluates write access to a single row. There is no pushdown
// counterpart: writes always load the row first, so the check runs in
// process. Note there is no other_write flag; anonymous callers never write.
func AllowsWrite(sctx SecurityContext, row Row) bool {
	if sctx.IsSuperuser {
		return true
	}
	if sctx.UserID != nil && row.OwnerID != nil && *row.OwnerID == *sctx.UserID {
		return true
	}
	if sctx.IsMember && row.MemberWrite {
		return true
	}
	if row.GroupWrite && row.GroupOwnerID != nil {
		for _, groupID := range sctx.GroupIDs {
			if groupID == *row.GroupOwnerID {
				return true
			}
		}
	}
	return false
}

// Defaults returns the flag set new entities start with: readable and
// writable by the owning group, readable by members, hidden from everyone
// else.
func Defaults() Row {
	return Row{GroupRead: true, GroupWrite: true, MemberRead: true}
}

// Predicate builds the pushdown filter for one ACL-bearing relation. alias
// is the SQL alias of the relation; placeholders are numbered from
// argOffset+1 so the fragment can be conjoined into a larger query. The
// group clause is vacuously false (and therefore omitted) when the context
// carries no group ids.
func Predicate(kind Kind, sctx SecurityContext, alias string, argOffset int) (string, []any, error) {
	if !validKind(kind) {
		return "", nil, fmt.Errorf("acl: unknown entity kind %q", kind)
	}
	if sctx.IsSuperuser {
		return "TRUE", nil, nil
	}

	clauses := []string{fmt.Sprintf("%s.other_read", alias)}
	var args []any

	if sctx.UserID != nil {
		args = append(args, *sctx.UserID)
		clauses = append(clauses, fmt.Sprintf("%s.owner_id = $%d", alias, argOffset+len(args)))
	}
	if sctx.IsMember {
		clauses = append(clauses, fmt.Sprintf("%s.member_read", alias))
	}
	if len(sctx.GroupIDs) > 0 {
		placeholders := make([]string, len(sctx.GroupIDs))
		for i, groupID := range sctx.GroupIDs {
			args = append(args, groupID)
			placeholders[i] = fmt.Sprintf("$%d", argOffset+len(args))
		}
		clauses = append(clauses, fmt.Sprintf("(%s.group_read AND %s.group_owner_id IN (%s))",
			alias, alias, strings.Join(placeholders, ", ")))
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}
