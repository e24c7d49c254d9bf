package sessionruntime

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreUpsertListGetUpdate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(100)
	createdAt := time.Now().UTC().Add(-1 * time.Minute)
	s.Upsert(SessionInfo{
		ID:        "7d1c0b1e-2f8f-4000-8000-000000000001",
		Status:    SessionStreaming,
		ChannelID: "C222",
		ThreadTS:  "1739667600.000100",
		Model:     "gpt-4o-mini",
		CreatedAt: createdAt,
	})

	items := s.List("", 20)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Status != SessionStreaming {
		t.Fatalf("status = %q, want %q", items[0].Status, SessionStreaming)
	}

	s.Update("7d1c0b1e-2f8f-4000-8000-000000000001", func(info *SessionInfo) {
		now := time.Now().UTC()
		info.Status = SessionDone
		info.Updates = 4
		info.FinishedAt = &now
	})

	item, ok := s.Get("7d1c0b1e-2f8f-4000-8000-000000000001")
	if !ok || item == nil {
		t.Fatalf("Get() not found")
	}
	if item.Status != SessionDone {
		t.Fatalf("status = %q, want %q", item.Status, SessionDone)
	}
	if item.Updates != 4 || item.FinishedAt == nil {
		t.Fatalf("expected updates and finished timestamp, got %+v", item)
	}
	if got := s.List(SessionStreaming, 20); len(got) != 0 {
		t.Fatalf("streaming filter returned %d items, want 0", len(got))
	}
}

func TestMemoryStoreListOrderAndPrune(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(3)
	base := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Upsert(SessionInfo{
			ID:        fmt.Sprintf("s%d", i),
			Status:    SessionDone,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	items := s.List("", 0)
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].ID != "s4" || items[2].ID != "s2" {
		t.Fatalf("order mismatch: got %s..%s", items[0].ID, items[2].ID)
	}
	if _, ok := s.Get("s0"); ok {
		t.Fatalf("oldest session should be pruned")
	}
}

func TestParseSessionStatus(t *testing.T) {
	t.Parallel()

	if got, ok := ParseSessionStatus(" PARTIAL "); !ok || got != SessionPartial {
		t.Fatalf("ParseSessionStatus() = %q, %v", got, ok)
	}
	if _, ok := ParseSessionStatus("queued"); ok {
		t.Fatalf("ParseSessionStatus() accepted unknown status")
	}
}
