//go:build integration

package integration_test

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthOverall(t *testing.T) {
	resp, err := http.Get(testServer.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status 'ok', got %q", body.Status)
	}
}

func TestHealthComponents(t *testing.T) {
	resp, err := http.Get(testServer.URL + "/healthz/components")
	if err != nil {
		t.Fatalf("GET /healthz/components: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status     string `json:"status"`
		Components []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Components) != 2 {
		t.Fatalf("expected 2 components (outbox_relay, inbox_sweep), got %d", len(body.Components))
	}

	seen := map[string]bool{}
	for _, c := range body.Components {
		seen[c.Name] = true
	}
	for _, want := range []string{"outbox_relay", "inbox_sweep"} {
		if !seen[want] {
			t.Errorf("expected component %q in report", want)
		}
	}
}
