package db

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func saveTestEvent(t *testing.T, store *Store, e *Event) bool {
	t.Helper()
	inserted, err := SaveEvent(store, e)
	if err != nil {
		t.Fatalf("save event: %v", err)
	}
	return inserted
}

func TestSaveEventDedupe(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	e := &Event{
		WorkspaceID: "ws1",
		SubjectID:   "run_1",
		EventID:     "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		EventType:   "run.started",
		CreatedAt:   time.Now(),
	}
	if !saveTestEvent(t, store, e) {
		t.Fatal("first save should insert")
	}
	if saveTestEvent(t, store, e) {
		t.Error("duplicate save should be ignored")
	}

	// Same event ID under a different subject is a distinct event.
	other := &Event{
		WorkspaceID: "ws1",
		SubjectID:   "run_2",
		EventID:     e.EventID,
		EventType:   "run.started",
		CreatedAt:   time.Now(),
	}
	if !saveTestEvent(t, store, other) {
		t.Error("same event ID under another subject should insert")
	}

	count, err := CountEvents(store, "ws1", "run_1")
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestListEventsChronological(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	types := []string{"run.started", "run.progress", "run.completed"}
	for i, typ := range types {
		saveTestEvent(t, store, &Event{
			WorkspaceID: "ws1",
			SubjectID:   "run_1",
			EventID:     typ, // any unique string works as a dedupe key
			EventType:   typ,
			Data:        json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	events, err := ListEvents(store, "ws1", "run_1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	for i, typ := range types {
		if events[i].EventType != typ {
			t.Errorf("events[%d].EventType = %q, want %q", i, events[i].EventType, typ)
		}
	}
	if !events[0].CreatedAt.Before(events[2].CreatedAt) {
		t.Error("events should be in chronological order")
	}

	limited, err := ListEvents(store, "ws1", "run_1", 2)
	if err != nil {
		t.Fatalf("list events with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}
}

func TestPruneExpiredEvents(t *testing.T) {
	t.Parallel()
	store := NewTestStore(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ttl := int64(60)

	saveTestEvent(t, store, &Event{
		WorkspaceID: "ws1", SubjectID: "run_1", EventID: "expired",
		EventType: "run.progress", TTLSeconds: &ttl,
		CreatedAt: now.Add(-2 * time.Minute),
	})
	saveTestEvent(t, store, &Event{
		WorkspaceID: "ws1", SubjectID: "run_1", EventID: "fresh",
		EventType: "run.progress", TTLSeconds: &ttl,
		CreatedAt: now.Add(-30 * time.Second),
	})
	saveTestEvent(t, store, &Event{
		WorkspaceID: "ws1", SubjectID: "run_1", EventID: "no-ttl",
		EventType: "run.started",
		CreatedAt: now.Add(-24 * time.Hour),
	})

	pruned, err := PruneExpiredEvents(store, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	events, err := ListEvents(store, "ws1", "run_1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, e := range events {
		if e.EventID == "expired" {
			t.Error("expired event should have been pruned")
		}
	}
	if len(events) != 2 {
		t.Errorf("len = %d, want 2", len(events))
	}
}
