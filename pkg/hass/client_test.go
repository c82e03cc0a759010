package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"entity_id": "light.kitchen", "state": "on", "attributes": {"friendly_name": "Kitchen Light"}},
			{"entity_id": "sensor.temp", "state": "21.5", "attributes": {}},
			{"entity_id": "", "state": "on", "attributes": {}},
			{"entity_id": "switch.fan", "state": "", "attributes": {"friendly_name": ""}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", srv.Client())
	entities, err := c.States(context.Background())
	if err != nil {
		t.Fatalf("States failed: %v", err)
	}

	if len(entities) != 3 {
		t.Fatalf("Expected 3 entities, got %d", len(entities))
	}

	first := entities[0]
	if first.ID != "light.kitchen" || first.Domain != "light" || first.Name != "Kitchen Light" || first.State != "on" {
		t.Errorf("Unexpected first entity: %+v", first)
	}

	// No friendly_name: name falls back to the entity ID.
	if entities[1].Name != "sensor.temp" {
		t.Errorf("Expected ID fallback name, got %q", entities[1].Name)
	}

	// Empty state reads as unknown.
	if entities[2].State != "unknown" {
		t.Errorf("Expected unknown state, got %q", entities[2].State)
	}
}

func TestStates_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", srv.Client())
	_, err := c.States(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestStates_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", srv.Client())
	_, err := c.States(context.Background())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTimeout) {
		t.Errorf("500 should not map to a sentinel, got %v", err)
	}
}

func TestStates_NotConfigured(t *testing.T) {
	c := NewClient("", "", nil)
	if _, err := c.States(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", srv.Client())
	err := c.CallService(context.Background(), "light", "turn_on", map[string]any{
		"entity_id":  "light.kitchen",
		"brightness": 128,
	})
	if err != nil {
		t.Fatalf("CallService failed: %v", err)
	}

	if gotPath != "/api/services/light/turn_on" {
		t.Errorf("Unexpected path: %s", gotPath)
	}
	if gotBody["entity_id"] != "light.kitchen" {
		t.Errorf("Unexpected entity_id: %v", gotBody["entity_id"])
	}
	if gotBody["brightness"] != float64(128) {
		t.Errorf("Unexpected brightness: %v", gotBody["brightness"])
	}
}

func TestCallService_MissingService(t *testing.T) {
	c := NewClient("http://localhost:8123", "token", nil)
	if err := c.CallService(context.Background(), "light", "", nil); err == nil {
		t.Error("Expected error for empty service")
	}
	if err := c.CallService(context.Background(), "", "turn_on", nil); err == nil {
		t.Error("Expected error for empty domain")
	}
}

func TestCallService_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", &http.Client{Timeout: 50 * time.Millisecond})
	err := c.CallService(context.Background(), "light", "turn_on", map[string]any{"entity_id": "light.kitchen"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestCallService_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "token", srv.Client())
	err := c.CallService(ctx, "light", "turn_on", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestTrailingSlashTrimmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("Double slash in path: %s", r.URL.Path)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "token", srv.Client())
	if _, err := c.States(context.Background()); err != nil {
		t.Fatalf("States failed: %v", err)
	}
}
