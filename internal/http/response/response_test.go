package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestFailWritesErrorEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()

	Fail(rr, req, Problem{Status: http.StatusUnauthorized, Code: "INVALID_TOKEN", Message: "invalid or expired token"}, map[string]string{"hint": "login"})

	if rr.Code != http.StatusUnauthorized || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected status/content type: %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	body := decode(t, rr)
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	apiErr, _ := body["error"].(map[string]any)
	if apiErr["code"] != "INVALID_TOKEN" || apiErr["message"] != "invalid or expired token" {
		t.Fatalf("unexpected error payload: %+v", apiErr)
	}
	if meta, _ := body["meta"].(map[string]any); meta["request_id"] != "req-123" {
		t.Fatalf("expected request id from header, got %+v", meta)
	}
}

func TestFailDefaultsZeroStatusToInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	Fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), Problem{Code: "X"}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if meta, _ := decode(t, rr)["meta"].(map[string]any); meta["request_id"] != "req-unknown" {
		t.Fatalf("expected placeholder request id, got %+v", meta)
	}
}

func TestJSONOmitsErrorOnSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]int{"revoked": 2})
	body := decode(t, rr)
	if rr.Code != http.StatusCreated || body["success"] != true {
		t.Fatalf("unexpected success response: %d %+v", rr.Code, body)
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("error must be omitted on success: %+v", body)
	}
}
