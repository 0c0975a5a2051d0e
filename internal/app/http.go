package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stagedir/api/internal/acl"
	"stagedir/api/internal/search"
	"stagedir/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.CachePing(ctx); err != nil {
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SignIn(r.Context(), body.Email, body.Password)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	// Every route below runs under a security context. No token means the
	// anonymous context, not a rejection: public rows stay reachable.
	sctx, ok := s.securityContext(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		if sctx.UserID == nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sctx.UserID,
			"isSuperuser":   sctx.IsSuperuser,
			"isMember":      sctx.IsMember,
			"groupIds":      sctx.GroupIDs,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:       strings.TrimSpace(r.URL.Query().Get("q")),
			FilterType: search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		}
		var ok bool
		if q.Limit, q.Offset, ok = pageParams(w, r); !ok {
			return
		}
		payload, err := s.service.Search(r.Context(), sctx, q)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "taxonomies":
		s.handleTaxonomies(w, r, sctx, parts[2:])
		return
	case "orgs":
		s.handleOrgs(w, r, sctx, parts[2:])
		return
	case "persons":
		s.handlePersons(w, r, sctx, parts[2:])
		return
	case "tours":
		s.handleTours(w, r, sctx, parts[2:])
		return
	case "events":
		s.handleEvents(w, r, sctx, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleTaxonomies serves /api/taxonomies/{table} and
// /api/taxonomies/{table}/{path}. Node paths are dotted labels, safe to
// carry as a single URL segment.
func (s *HTTPServer) handleTaxonomies(w http.ResponseWriter, r *http.Request, sctx acl.SecurityContext, parts []string) {
	if len(parts) == 1 {
		table := parts[0]
		if r.Method == http.MethodGet {
			limit, offset, ok := pageParams(w, r)
			if !ok {
				return
			}
			prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
			listing, err := s.service.TaxonomyList(r.Context(), table, prefix, offset, limit)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listing)
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Parent string         `json:"parent"`
				Name   string         `json:"name"`
				Attrs  map[string]any `json:"attrs"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			node, err := s.service.TaxonomyCreate(r.Context(), sctx, table, body.Parent, body.Name, body.Attrs)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, node)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 {
		table, path := parts[0], parts[1]
		switch r.Method {
		case http.MethodGet:
			node, err := s.service.TaxonomyGet(r.Context(), table, path)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, node)
			return
		case http.MethodPatch:
			var body struct {
				Dest    string `json:"dest"`
				NewName string `json:"newName"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.Dest != "" {
				result, err := s.service.TaxonomyMove(r.Context(), sctx, table, path, body.Dest)
				if err != nil {
					s.writeDomainError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, result)
				return
			}
			if body.NewName != "" {
				node, err := s.service.TaxonomyRename(r.Context(), sctx, table, path, body.NewName)
				if err != nil {
					s.writeDomainError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, node)
				return
			}
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dest or newName is required", nil)
			return
		case http.MethodDelete:
			result, err := s.service.TaxonomyDelete(r.Context(), sctx, table, path)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOrgs(w http.ResponseWriter, r *http.Request, sctx acl.SecurityContext, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			page, ok := pageFromQuery(w, r)
			if !ok {
				return
			}
			listing, err := s.service.ListOrgs(r.Context(), sctx, page)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listing)
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			org, err := s.service.CreateOrg(r.Context(), sctx, body.Name, body.Description)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, org)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	id, ok := parseID(w, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			org, err := s.service.GetOrg(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, org)
			return
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			org, err := s.service.UpdateOrg(r.Context(), sctx, id, body.Name, body.Description)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, org)
			return
		case http.MethodDelete:
			if err := s.service.DeleteOrg(r.Context(), sctx, id); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "members" {
		if r.Method == http.MethodGet {
			refs, err := s.service.ListOrgMembers(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"members": refs})
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Kind    string         `json:"kind"`
				PartyID uuid.UUID      `json:"partyId"`
				Data    map[string]any `json:"data"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.AddOrgMember(r.Context(), sctx, id, body.Kind, body.PartyID, body.Data); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "activities" {
		if r.Method == http.MethodGet {
			paths, err := s.service.ListOrgActivities(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"activities": paths})
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Path string `json:"path"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.AddOrgActivity(r.Context(), sctx, id, body.Path); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePersons(w http.ResponseWriter, r *http.Request, sctx acl.SecurityContext, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			page, ok := pageFromQuery(w, r)
			if !ok {
				return
			}
			listing, err := s.service.ListPersons(r.Context(), sctx, page)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listing)
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				FirstName string `json:"firstName"`
				LastName  string `json:"lastName"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			person, err := s.service.CreatePerson(r.Context(), sctx, body.FirstName, body.LastName)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, person)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	id, ok := parseID(w, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		person, err := s.service.GetPerson(r.Context(), sctx, id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, person)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTours(w http.ResponseWriter, r *http.Request, sctx acl.SecurityContext, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			page, ok := pageFromQuery(w, r)
			if !ok {
				return
			}
			listing, err := s.service.ListTours(r.Context(), sctx, page)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listing)
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tour, err := s.service.CreateTour(r.Context(), sctx, body.Title, body.Description)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, tour)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	id, ok := parseID(w, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			tour, err := s.service.GetTour(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, tour)
			return
		case http.MethodPut:
			var body struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tour, err := s.service.UpdateTour(r.Context(), sctx, id, body.Title, body.Description)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, tour)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "actors" {
		if r.Method == http.MethodGet {
			refs, err := s.service.ListTourActors(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"actors": refs})
			return
		}
		if r.Method == http.MethodPost {
			if ok := s.addActor(w, r, func(kind string, partyID uuid.UUID, data map[string]any) error {
				return s.service.AddTourActor(r.Context(), sctx, id, kind, partyID, data)
			}); ok {
				return
			}
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && (parts[1] == "disciplines" || parts[1] == "mobilities") {
		list := s.service.ListTourDisciplines
		add := s.service.AddTourDiscipline
		if parts[1] == "mobilities" {
			list = s.service.ListTourMobilities
			add = s.service.AddTourMobility
		}
		if r.Method == http.MethodGet {
			paths, err := list(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{parts[1]: paths})
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Path string `json:"path"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := add(r.Context(), sctx, id, body.Path); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "events" {
		if r.Method == http.MethodGet {
			page, ok := pageFromQuery(w, r)
			if !ok {
				return
			}
			listing, err := s.service.ListTourEvents(r.Context(), sctx, id, page)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listing)
			return
		}
		if r.Method == http.MethodPost {
			var body struct {
				Title      string     `json:"title"`
				StartAt    *time.Time `json:"startAt"`
				EndAt      *time.Time `json:"endAt"`
				VenueOrgID *uuid.UUID `json:"venueOrgId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			event, err := s.service.CreateEvent(r.Context(), sctx, id, body.Title, body.StartAt, body.EndAt, body.VenueOrgID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, event)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, sctx acl.SecurityContext, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	id, ok := parseID(w, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		event, err := s.service.GetEvent(r.Context(), sctx, id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
		return
	}

	if len(parts) == 2 && parts[1] == "actors" {
		if r.Method == http.MethodGet {
			refs, err := s.service.ListEventActors(r.Context(), sctx, id)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"actors": refs})
			return
		}
		if r.Method == http.MethodPost {
			if ok := s.addActor(w, r, func(kind string, partyID uuid.UUID, data map[string]any) error {
				return s.service.AddEventActor(r.Context(), sctx, id, kind, partyID, data)
			}); ok {
				return
			}
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) addActor(w http.ResponseWriter, r *http.Request, add func(kind string, partyID uuid.UUID, data map[string]any) error) bool {
	var body struct {
		Kind    string         `json:"kind"`
		PartyID uuid.UUID      `json:"partyId"`
		Data    map[string]any `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return true
	}
	if err := add(body.Kind, body.PartyID, body.Data); err != nil {
		s.writeDomainError(w, err)
		return true
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	return true
}

// securityContext resolves the caller. A missing token is the anonymous
// context; a present but invalid token is rejected outright.
func (s *HTTPServer) securityContext(w http.ResponseWriter, r *http.Request) (acl.SecurityContext, bool) {
	sctx, err := s.service.ContextFromToken(r.Context(), bearerToken(r))
	if err != nil {
		s.writeDomainError(w, err)
		return acl.SecurityContext{}, false
	}
	return sctx, true
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	domain := toDomainError(err)
	if domain.Status == http.StatusInternalServerError {
		log.Printf("http: internal error: %v", err)
	}
	writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pageFromQuery(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return store.Page{}, false
	}
	return store.Page{Offset: offset, Limit: limit}, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a non-negative integer", nil)
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
