package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stagedir/api/internal/taxonomy"
)

// newDispatchService builds a service with no backing stores. Routes that
// never reach the database can still be exercised through the full handler
// chain.
func newDispatchService() *Service {
	return &Service{taxonomies: map[string]*taxonomy.Store{}}
}

func doRequest(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewHTTPServer(newDispatchService(), "*")
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/health", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestHealthEndpoint_OptionsRequest(t *testing.T) {
	rr := doRequest(t, http.MethodOptions, "/api/health", "")

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestHealthEndpoint_CORSHeaders(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/health", "")

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("expected Cache-Control=no-store, got %v", cache)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}
}

func TestSessionEndpoint_Anonymous(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/session", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if auth, exists := response["authenticated"]; !exists || auth != false {
		t.Errorf("expected authenticated=false, got %v", auth)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/nothing-here", "")

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if code := response["code"]; code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %v", code)
	}
}

func TestOrgRouteRejectsMalformedID(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/orgs/not-a-uuid", "")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if code := response["code"]; code != "VALIDATION_ERROR" {
		t.Errorf("expected code VALIDATION_ERROR, got %v", code)
	}
}

func TestUnknownTaxonomyReturns404(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/taxonomies/colors", "")

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestTaxonomyPatchRequiresDestOrName(t *testing.T) {
	rr := doRequest(t, http.MethodPatch, "/api/taxonomies/activities/music", "{}")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if code := response["code"]; code != "VALIDATION_ERROR" {
		t.Errorf("expected code VALIDATION_ERROR, got %v", code)
	}
}

func TestTaxonomyCreateForbiddenForAnonymous(t *testing.T) {
	rr := doRequest(t, http.MethodPost, "/api/taxonomies/activities", `{"name":"Music"}`)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestMethodNotAllowedOnCollection(t *testing.T) {
	rr := doRequest(t, http.MethodDelete, "/api/tours", "")

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestPaginationParamsValidated(t *testing.T) {
	rr := doRequest(t, http.MethodGet, "/api/search?q=x&limit=abc", "")

	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}
}
