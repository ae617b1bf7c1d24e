package model

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestStatusIsExclusive(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want Status
	}{
		{"temp record", Message{ID: TempID("c1")}, StatusPending},
		{"timed out", Message{ID: PendingID("c1"), Pending: true}, StatusPending},
		{"queued offline", Message{ID: OfflineID("c1"), Offline: true}, StatusOffline},
		{"server record", Message{ID: "12"}, StatusConfirmed},
		{"no id", Message{}, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsServer(t *testing.T) {
	for id, want := range map[MessageID]bool{
		"42":             true,
		TempID("abc"):    false,
		PendingID("abc"): false,
		OfflineID("abc"): false,
		"":               false,
	} {
		if got := id.IsServer(); got != want {
			t.Errorf("%q.IsServer() = %v, want %v", id, got, want)
		}
	}
}

func TestKey(t *testing.T) {
	local := Message{ID: TempID("c1"), ClientMessageID: "c1"}
	if local.Key() != "c1" {
		t.Errorf("local key = %q, want c1", local.Key())
	}
	local.ID = "99"
	if local.Key() != "99" {
		t.Errorf("confirmed key = %q, want 99", local.Key())
	}
}

func TestMergeServerIDIsSticky(t *testing.T) {
	a := Message{ID: "5", Content: "x", UpdatedAt: t0}
	got := a.Merge(Message{ID: "6", UpdatedAt: t0})
	if got.ID != "5" {
		t.Errorf("ID = %q, want 5", got.ID)
	}
}

func TestMergeConfirmsLocalRecord(t *testing.T) {
	local := Message{ID: OfflineID("c1"), ClientMessageID: "c1", Content: "hi", CreatedAt: t0, Offline: true}
	server := Message{ID: "8", ClientMessageID: "c1", Content: "hi", CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second)}

	got := local.Merge(server)
	if got.ID != "8" || got.Offline || got.Pending {
		t.Errorf("merged = %+v, want confirmed id 8 without local flags", got)
	}
	if !got.CreatedAt.Equal(server.CreatedAt) {
		t.Errorf("CreatedAt = %v, want server value", got.CreatedAt)
	}
	if got.Status() != StatusConfirmed {
		t.Errorf("Status() = %q, want confirmed", got.Status())
	}
}

func TestMergeIsCommutativeForFlags(t *testing.T) {
	readAt := t0.Add(time.Minute)
	deliveredAt := t0.Add(30 * time.Second)
	a := Message{ID: "1", Content: "x", CreatedAt: t0, UpdatedAt: t0, Read: true, ReadAt: &readAt}
	b := Message{ID: "1", Content: "x", CreatedAt: t0, UpdatedAt: t0, Delivered: true, DeliveredAt: &deliveredAt}

	ab := a.Merge(b)
	ba := b.Merge(a)
	if ab.Read != ba.Read || ab.Delivered != ba.Delivered {
		t.Errorf("flags differ: ab=%+v ba=%+v", ab, ba)
	}
	if !ab.ReadAt.Equal(*ba.ReadAt) || !ab.DeliveredAt.Equal(*ba.DeliveredAt) {
		t.Error("receipt timestamps differ between merge orders")
	}
	if again := ab.Merge(b); again.Read != ab.Read || !again.DeliveredAt.Equal(*ab.DeliveredAt) {
		t.Error("merge is not idempotent")
	}
}

func TestMergeKeepsEarliestReceipt(t *testing.T) {
	early := t0
	late := t0.Add(time.Hour)
	got := Message{ID: "1", Read: true, ReadAt: &late}.Merge(Message{ID: "1", Read: true, ReadAt: &early})
	if !got.ReadAt.Equal(early) {
		t.Errorf("ReadAt = %v, want %v", got.ReadAt, early)
	}
}

func TestMergeContentLastWriterWins(t *testing.T) {
	a := Message{ID: "1", Content: "old", UpdatedAt: t0}
	if got := a.Merge(Message{ID: "1", Content: "new", Edited: true, UpdatedAt: t0.Add(time.Second)}); got.Content != "new" || !got.Edited {
		t.Errorf("newer edit not applied: %+v", got)
	}
	if got := a.Merge(Message{ID: "1", Content: "stale", UpdatedAt: t0.Add(-time.Second)}); got.Content != "old" {
		t.Errorf("stale content applied: %q", got.Content)
	}
}

func TestApplyReceipt(t *testing.T) {
	at := t0.Add(time.Minute)
	got := Message{ID: "1"}.Apply(ReceiptPatch(Delivered, &at))
	if !got.Delivered || got.DeliveredAt == nil || !got.DeliveredAt.Equal(at) {
		t.Errorf("Apply(delivered) = %+v", got)
	}
	if got.Read {
		t.Error("delivered receipt must not set read")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	at := t0
	m := Message{ReadAt: &at}
	c := m.Clone()
	*c.ReadAt = t0.Add(time.Hour)
	if !m.ReadAt.Equal(t0) {
		t.Error("Clone shares ReadAt pointer")
	}
}

func TestMessageIDAfter(t *testing.T) {
	tests := []struct {
		id, other MessageID
		want      bool
	}{
		{"10", "9", true},
		{"9", "10", false},
		{"12", "12", false},
		{"100", "", true},
		{"1", OfflineID("c-1"), true},
		{TempID("c-1"), "5", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := tt.id.After(tt.other); got != tt.want {
			t.Errorf("%q.After(%q) = %v, want %v", tt.id, tt.other, got, tt.want)
		}
	}
}
