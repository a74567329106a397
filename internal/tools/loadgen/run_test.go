package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  AUTH  "); got != "auth" {
		t.Fatalf("normalizeProfile auth=%q want auth", got)
	}
}

func TestRunRejectsUnknownProfile(t *testing.T) {
	if _, err := Run(context.Background(), Config{BaseURL: "http://127.0.0.1:1", Profile: "chaos"}); err == nil {
		t.Fatal("expected unknown profile error")
	}
}

func TestRunCountsReplayRejections(t *testing.T) {
	var mu sync.Mutex
	used := map[string]bool{}
	next := 0
	issue := func(w http.ResponseWriter) {
		next++
		fmt.Fprintf(w, `{"success":true,"data":{"status":"authenticated","access_token":"a%d","refresh_token":"r%d","tokens":{"access_token":"a%d","refresh_token":"r%d"}}}`, next, next, next, next)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/v1/auth/register":
			w.WriteHeader(http.StatusCreated)
			issue(w)
		case "/api/v1/auth/login":
			issue(w)
		case "/api/v1/auth/refresh":
			if used[body["refresh_token"]] {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false}`))
				return
			}
			used[body["refresh_token"]] = true
			issue(w)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	res, err := Run(context.Background(), Config{BaseURL: srv.URL, Profile: "mixed", Duration: 600 * time.Millisecond, RPS: 200, Concurrency: 2, Seed: 7})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalRequests == 0 || res.StatusClasses["2xx"] == 0 {
		t.Fatalf("expected successful traffic, got %+v", res)
	}
	if res.Failures != 0 {
		t.Fatalf("expected no server failures, got %+v", res)
	}
	if res.StatusClasses["4xx"] != res.ReuseRejections {
		t.Fatalf("every 4xx should be a replay rejection, got %+v", res)
	}
}
