package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"reviewdesk/api/internal/auth"
	"reviewdesk/api/internal/search"
	"reviewdesk/api/internal/store"
)

type testCaller struct {
	userID uuid.UUID
	token  string
}

func newCaller(t *testing.T, name, role string) testCaller {
	t.Helper()
	userID := uuid.New()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(userID, name, role, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return testCaller{userID: userID, token: token}
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func newTestServer(fs *fakeStore) (*HTTPServer, *Service) {
	svc := newTestService(fs)
	return NewHTTPServer(svc, "*", nil), svc
}

func sampleFrom(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	sample, ok := payload["sample"].(map[string]any)
	if !ok {
		t.Fatalf("expected sample object, got %v", payload)
	}
	return sample
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(newFakeStore())
	rr, payload := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	fs := newFakeStore()
	server, _ := newTestServer(fs)

	rr, payload := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["status"] != "ready" {
		t.Fatalf("expected ready, got %v", payload["status"])
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr, payload = doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if database["status"] != "error" || database["error"] != "connection refused" {
		t.Fatalf("unexpected database check: %v", database)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	server, _ := newTestServer(newFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST,PATCH,OPTIONS" {
		t.Fatalf("unexpected CORS methods: %q", got)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	server, _ := newTestServer(newFakeStore())

	rr, payload := doRequest(t, server, http.MethodGet, "/api/principles", "", "")
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, server, http.MethodGet, "/api/principles", "not-a-jwt", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}

	expired, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(uuid.New(), "Avery", "reviewer", -time.Minute))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	rr, _ = doRequest(t, server, http.MethodGet, "/api/principles", expired, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestRevocationLookupFailureIsServerError(t *testing.T) {
	server, svc := newTestServer(newFakeStore())
	svc.revoked = &fakeRevocations{err: errors.New("redis down")}
	caller := newCaller(t, "Avery", "reviewer")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/principles", caller.token, "")
	if rr.Code != http.StatusInternalServerError || payload["code"] != "SERVER_ERROR" {
		t.Fatalf("expected 500 SERVER_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestSessionAndLogout(t *testing.T) {
	server, _ := newTestServer(newFakeStore())
	caller := newCaller(t, "Avery", "")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/session", caller.token, "")
	if rr.Code != http.StatusOK || payload["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %d %v", rr.Code, payload)
	}
	if payload["role"] != "reviewer" || payload["userId"] != caller.userID.String() {
		t.Fatalf("unexpected session payload: %v", payload)
	}

	rr, _ = doRequest(t, server, http.MethodPost, "/api/session/logout", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", rr.Code)
	}

	rr, _ = doRequest(t, server, http.MethodGet, "/api/principles", caller.token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
	_, payload = doRequest(t, server, http.MethodGet, "/api/session", caller.token, "")
	if payload["authenticated"] != false {
		t.Fatalf("expected unauthenticated session after logout, got %v", payload)
	}
}

func TestListPrinciplesContract(t *testing.T) {
	fs := newFakeStore()
	fs.addPrinciple(store.Principle{ID: "p2", Name: "Clarity", Definition: "Be clear", ExclusionCriteria: stringPtr("jokes")})
	fs.addPrinciple(store.Principle{ID: "p1", Name: "Respect", Definition: "Be respectful"})
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "viewer")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/principles", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	principles, _ := payload["principles"].([]any)
	if len(principles) != 2 {
		t.Fatalf("expected 2 principles, got %v", payload)
	}
	first, _ := principles[0].(map[string]any)
	if first["id"] != "p1" || first["label_name"] != "Respect" || first["inclusion_criteria"] != "" {
		t.Fatalf("unexpected first principle: %v", first)
	}
}

func TestListPrinciplesStoreErrorIs500(t *testing.T) {
	fs := newFakeStore()
	fs.listPrinciplesFn = func(context.Context) ([]store.Principle, error) {
		return nil, errors.New("boom")
	}
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "reviewer")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/principles", caller.token, "")
	if rr.Code != http.StatusInternalServerError || payload["code"] != "SERVER_ERROR" {
		t.Fatalf("expected 500, got %d %v", rr.Code, payload)
	}
}

func TestUpdatePrincipleRequiresAdmin(t *testing.T) {
	fs := newFakeStore()
	fs.addPrinciple(store.Principle{ID: "p1", Name: "Respect", Definition: "Be respectful"})
	server, _ := newTestServer(fs)

	reviewer := newCaller(t, "Avery", "reviewer")
	rr, payload := doRequest(t, server, http.MethodPatch, "/api/principles/p1", reviewer.token, `{"definition":"x"}`)
	if rr.Code != http.StatusForbidden || payload["code"] != "FORBIDDEN" {
		t.Fatalf("expected 403, got %d %v", rr.Code, payload)
	}

	admin := newCaller(t, "Root", "admin")
	rr, payload = doRequest(t, server, http.MethodPatch, "/api/principles/p1", admin.token, `{"definition":"Treat others with respect"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	if payload["label_name"] != "Respect" || payload["definition"] != "Treat others with respect" {
		t.Fatalf("unexpected principle: %v", payload)
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/principles/unknown", admin.token, `{"definition":"x"}`)
	if rr.Code != http.StatusNotFound || payload["error"] != "Principle with id unknown not found" {
		t.Fatalf("expected 404 naming the id, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/principles/p1", admin.token, `{"definition":`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %v", rr.Code, payload)
	}
}

func TestPrincipleSamplesEndpoint(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "reviewer")

	rr, _ := doRequest(t, server, http.MethodPatch, "/api/samples/s2/revision", caller.token, `{"is_revised":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr, payload := doRequest(t, server, http.MethodGet, "/api/principles/p1/samples?show_revised=false", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	samples, _ := payload["samples"].([]any)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	stats, _ := payload["stats"].(map[string]any)
	if stats["total"] != float64(4) || stats["revised"] != float64(1) || stats["percentage"] != 25.0 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	rr, payload = doRequest(t, server, http.MethodGet, "/api/principles/p1/samples?show_revised=maybe", caller.token, "")
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422, got %d %v", rr.Code, payload)
	}

	rr, payload = doRequest(t, server, http.MethodGet, "/api/principles/none/samples", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown principle, got %d", rr.Code)
	}
	stats, _ = payload["stats"].(map[string]any)
	if stats["total"] != float64(0) || stats["percentage"] != float64(0) {
		t.Fatalf("expected zero stats, got %v", stats)
	}
}

func TestGetSampleRowShape(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "viewer")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/samples/s1", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	sample := sampleFrom(t, payload)
	for _, key := range []string{
		"id", "preceding", "target", "following", "A1_Score", "A2_Score", "A3_Score",
		"principle_id", "llm_justification", "llm_evidence_quote",
		"expert_opinion", "is_revised", "reviser_name", "revision_timestamp",
	} {
		if _, ok := sample[key]; !ok {
			t.Fatalf("expected key %q in row, got %v", key, sample)
		}
	}
	if sample["expert_opinion"] != nil || sample["is_revised"] != false || sample["reviser_name"] != nil {
		t.Fatalf("expected untouched defaults, got %v", sample)
	}

	rr, payload = doRequest(t, server, http.MethodGet, "/api/samples/missing", caller.token, "")
	if rr.Code != http.StatusNotFound || payload["error"] != "Sample with id missing not found" {
		t.Fatalf("expected 404, got %d %v", rr.Code, payload)
	}
}

func TestSetOpinionEndpoint(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	one := newCaller(t, "Reviewer One", "reviewer")
	two := newCaller(t, "Reviewer Two", "reviewer")

	rr, payload := doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", one.token, `{"expert_opinion":"A"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rr.Code, payload)
	}
	sample := sampleFrom(t, payload)
	if sample["expert_opinion"] != "A" || sample["reviser_name"] != "Reviewer One" || sample["is_revised"] != false {
		t.Fatalf("unexpected written row: %v", sample)
	}
	if sample["revision_timestamp"] == nil {
		t.Fatal("expected revision timestamp")
	}

	_, payload = doRequest(t, server, http.MethodGet, "/api/samples/s1", one.token, "")
	if sampleFrom(t, payload)["expert_opinion"] != "A" {
		t.Fatalf("expected opinion on read back, got %v", payload)
	}
	_, payload = doRequest(t, server, http.MethodGet, "/api/samples/s1", two.token, "")
	if sampleFrom(t, payload)["expert_opinion"] != nil {
		t.Fatalf("expected no cross-user leakage, got %v", payload)
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", one.token, `{"expert_opinion":""}`)
	if rr.Code != http.StatusOK || sampleFrom(t, payload)["expert_opinion"] != "" {
		t.Fatalf("expected empty opinion accepted, got %d %v", rr.Code, payload)
	}
}

func TestSetOpinionValidation(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "reviewer")

	rr, payload := doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", caller.token, `{}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422, got %d %v", rr.Code, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if details["field"] != "expert_opinion" {
		t.Fatalf("expected field-level details, got %v", payload["details"])
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", caller.token, `{"expert_opinion":42}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrong type, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", caller.token, `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", caller.token, `{"expert_opinion":"x"} {"garbage"`)
	if rr.Code != http.StatusBadRequest || payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected 400 for trailing data, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, server, http.MethodPatch, "/api/samples/missing/opinion", caller.token, `{"expert_opinion":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	if len(fs.revisions) != 0 {
		t.Fatalf("expected nothing written, got %d revisions", len(fs.revisions))
	}
}

func TestToggleRevisionEndpoint(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	caller := newCaller(t, "Avery", "reviewer")

	rr, payload := doRequest(t, server, http.MethodPatch, "/api/samples/s1/revision", caller.token, `{"is_revised":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	sample := sampleFrom(t, payload)
	if sample["is_revised"] != true || sample["expert_opinion"] != "" {
		t.Fatalf("unexpected row: %v", sample)
	}

	rr, payload = doRequest(t, server, http.MethodPatch, "/api/samples/s1/revision", caller.token, `{"is_revised":false}`)
	if rr.Code != http.StatusOK || sampleFrom(t, payload)["is_revised"] != false {
		t.Fatalf("expected toggle back to false, got %d %v", rr.Code, payload)
	}

	rr, _ = doRequest(t, server, http.MethodPatch, "/api/samples/s1/revision", caller.token, `{"is_revised":"yes"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	rr, _ = doRequest(t, server, http.MethodPatch, "/api/samples/s1/revision", caller.token, `{}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	if got := fs.revisionCount(caller.userID, "s1"); got != 1 {
		t.Fatalf("expected one revision, got %d", got)
	}
}

func TestViewerCannotReview(t *testing.T) {
	fs := newFakeStore()
	seedPrinciple(fs)
	server, _ := newTestServer(fs)
	viewer := newCaller(t, "Read Only", "viewer")

	rr, _ := doRequest(t, server, http.MethodPatch, "/api/samples/s1/opinion", viewer.token, `{"expert_opinion":"x"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	rr, _ = doRequest(t, server, http.MethodPatch, "/api/samples/s1/revision", viewer.token, `{"is_revised":true}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	fs := newFakeStore()
	server, svc := newTestServer(fs)
	searcher := &fakeSearch{response: search.Response{
		Results: []search.Result{{ID: "s1", PrincipleID: "p1", Target: "you fool", Snippet: "you <mark>fool</mark>"}},
		Total:   1,
	}}
	svc.search = searcher
	caller := newCaller(t, "Avery", "viewer")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/samples?q=fool&principle_id=p1&limit=5&offset=10", caller.token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["total"] != float64(1) || payload["query"] != "fool" {
		t.Fatalf("unexpected search payload: %v", payload)
	}
	if searcher.lastQuery != (search.Query{Text: "fool", PrincipleID: "p1", Limit: 5, Offset: 10}) {
		t.Fatalf("unexpected query: %+v", searcher.lastQuery)
	}

	rr, payload = doRequest(t, server, http.MethodGet, "/api/samples?q=fool&limit=lots", caller.token, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %v", rr.Code, payload)
	}
}

func TestRoutingFallbacks(t *testing.T) {
	server, _ := newTestServer(newFakeStore())
	caller := newCaller(t, "Avery", "admin")

	rr, _ := doRequest(t, server, http.MethodDelete, "/api/samples/s1", caller.token, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	rr, _ = doRequest(t, server, http.MethodGet, "/api/documents", caller.token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr, _ = doRequest(t, server, http.MethodOptions, "/api/samples/s1", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
}
