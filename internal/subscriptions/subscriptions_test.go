package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"farmhand.dev/core/internal/models"
)

type fakeTwitch struct {
	mu          sync.Mutex
	created     []string
	deleted     []string
	existingIDs []string
}

func (f *fakeTwitch) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "expires_in": 3600})
	})
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			defer f.mu.Unlock()
			data := make([]map[string]string, 0, len(f.existingIDs))
			for _, id := range f.existingIDs {
				data = append(data, map[string]string{"id": id, "type": "stream.online"})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		case http.MethodPost:
			var body createSubscriptionBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.created = append(f.created, body.Type)
			f.mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		case http.MethodDelete:
			f.mu.Lock()
			f.deleted = append(f.deleted, r.URL.Query().Get("id"))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return httptest.NewServer(mux)
}

func TestReconcileCreatesOnePerEnabledFeature(t *testing.T) {
	fake := &fakeTwitch{existingIDs: []string{"stale-1"}}
	srv := fake.server()
	defer srv.Close()

	mgr := New(Config{
		ClientID:        "client",
		ClientSecret:    "secret",
		TokenURL:        srv.URL + "/token",
		SubscriptionURL: srv.URL + "/subscriptions",
		CallbackURL:     "https://example.com/eventsub",
		Secret:          "whsec",
		ModeratorUserID: "mod-1",
	})

	now := time.Now()
	settings := models.Settings{
		StreamStatus: &now,
		ChatMessages: &now,
	}

	if err := mgr.Reconcile(context.Background(), "broadcaster-1", settings); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.deleted) != 1 || fake.deleted[0] != "stale-1" {
		t.Fatalf("expected stale-1 to be deleted, got %+v", fake.deleted)
	}
	if len(fake.created) != 3 {
		t.Fatalf("expected 3 subscriptions created (online+offline+chat), got %d: %+v", len(fake.created), fake.created)
	}
}

func TestReconcileNoFeaturesEnabledCreatesNothing(t *testing.T) {
	fake := &fakeTwitch{}
	srv := fake.server()
	defer srv.Close()

	mgr := New(Config{
		ClientID:        "client",
		ClientSecret:    "secret",
		TokenURL:        srv.URL + "/token",
		SubscriptionURL: srv.URL + "/subscriptions",
		CallbackURL:     "https://example.com/eventsub",
		Secret:          "whsec",
	})

	if err := mgr.Reconcile(context.Background(), "broadcaster-1", models.Settings{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.created) != 0 {
		t.Fatalf("expected no subscriptions created, got %+v", fake.created)
	}
}
