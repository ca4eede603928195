package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/migrate"
	"pactline/internal/repo"
)

func TestMultiFansOut(t *testing.T) {
	var got []string
	var mu sync.Mutex
	rec := recorder{func(evt Event) {
		mu.Lock()
		got = append(got, evt.Type)
		mu.Unlock()
	}}
	m := Multi{rec, rec, Discard{}}
	m.Notify(context.Background(), Event{Type: "streak.advanced"})
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

type recorder struct {
	fn func(Event)
}

func (r recorder) Notify(_ context.Context, evt Event) { r.fn(evt) }

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	if !all.match("anything") {
		t.Fatalf("empty filter should match all")
	}
	f := newEventFilter([]string{"streak.broken", " "})
	if !f.match("streak.broken") || f.match("streak.advanced") {
		t.Fatalf("filter mismatch")
	}
}

func TestWebhookDelivery(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}

	received := make(chan webhookEvent, 10)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Pactline-Secret") != "s3cret" {
			t.Errorf("missing secret header")
		}
		body, _ := io.ReadAll(req.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		received <- evt
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooks := []config.WebhookConfig{{URL: ts.URL, Secret: "s3cret", Events: []string{"streak.broken"}}}
	if !StartWebhookDispatcher(ctx, r, hooks, nil) {
		t.Fatalf("dispatcher did not start")
	}

	// Only events appended after startup are delivered; the filter drops
	// the advanced event.
	time.Sleep(200 * time.Millisecond)
	appendEvent(t, conn, "streak.advanced")
	appendEvent(t, conn, "streak.broken")

	select {
	case evt := <-received:
		if evt.Type != "streak.broken" {
			t.Fatalf("unexpected delivery: %s", evt.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no webhook delivery")
	}
}

func appendEvent(t *testing.T, conn *sql.DB, evtType string) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO events(ts,type,pact_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		"2026-03-10T00:00:00Z", evtType, "pact-1", "pact", "pact-1", "system", "{}")
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
}
