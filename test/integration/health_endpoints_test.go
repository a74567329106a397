package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthLiveAndReadyEndpoints(t *testing.T) {
	s := newEngineServer(t, serverOptions{})

	t.Run("live endpoint stable 200 payload", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/health/live", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health live failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode live data: %v", err)
		}
		if got, _ := data["status"].(string); got != "ok" {
			t.Fatalf("expected status=ok, got %+v", data)
		}
	})

	t.Run("ready endpoint reports db and redis", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/health/ready", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health ready failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode ready data: %v", err)
		}
		checks, ok := data["checks"].([]any)
		if !ok || len(checks) != 2 {
			t.Fatalf("expected two checks in ready payload, got %+v", data)
		}
	})

	t.Run("ready endpoint 503 when redis is down", func(t *testing.T) {
		s.redis.Close()
		resp, env := s.do(t, http.MethodGet, "/health/ready", nil, nil)
		requireErrorCode(t, resp, env, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY")
	})
}
