package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	errFn func(op model.PendingOp) error
}

func (r *recordingSender) Send(_ context.Context, op model.PendingOp) error {
	r.mu.Lock()
	r.sent = append(r.sent, op.ClientMessageID)
	r.mu.Unlock()
	if r.errFn != nil {
		return r.errFn(op)
	}
	return nil
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := range n {
		op := model.PendingOp{
			Recipient:       "bob",
			Content:         fmt.Sprintf("msg %d", i),
			ClientMessageID: fmt.Sprintf("c%d", i),
			Timestamp:       time.UnixMilli(int64(1000 + i)),
		}
		if err := q.Enqueue(op); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEnqueueEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	q := NewQueue(testDB(t), b)
	enqueueN(t, q, 1)

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindQueued {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindQueued)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outbox.queued event")
	}
}

func TestEnqueueRejectsEmptyClientID(t *testing.T) {
	q := NewQueue(testDB(t), bus.New())
	if err := q.Enqueue(model.PendingOp{Recipient: "bob", Content: "x"}); err == nil {
		t.Error("Enqueue without client id should fail")
	}
}

func TestDrainAttemptsEveryOpAndEmpties(t *testing.T) {
	tests := []struct {
		name  string
		errFn func(op model.PendingOp) error
		sent  int
	}{
		{"all succeed", nil, 3},
		{"all fail", func(model.PendingOp) error { return errors.New("boom") }, 0},
		{"middle fails", func(op model.PendingOp) error {
			if op.ClientMessageID == "c1" {
				return errors.New("boom")
			}
			return nil
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(testDB(t), bus.New())
			enqueueN(t, q, 3)

			sender := &recordingSender{errFn: tt.errFn}
			d := NewDrainer(q, bus.New(), zap.NewNop())
			res, err := d.Drain(context.Background(), sender.Send)
			if err != nil {
				t.Fatal(err)
			}
			if res.Attempted != 3 || len(sender.sent) != 3 {
				t.Errorf("attempted = %d (sender saw %d), want 3", res.Attempted, len(sender.sent))
			}
			if res.Sent != tt.sent {
				t.Errorf("sent = %d, want %d", res.Sent, tt.sent)
			}
			n, _ := q.Len()
			if n != 0 {
				t.Errorf("queue length = %d, want 0", n)
			}
		})
	}
}

func TestDrainRetainKeepsMatchingFailures(t *testing.T) {
	q := NewQueue(testDB(t), bus.New())
	enqueueN(t, q, 2)

	errGone := errors.New("offline again")
	d := NewDrainer(q, bus.New(), nil)
	d.Retain = func(err error) bool { return errors.Is(err, errGone) }

	res, err := d.Drain(context.Background(), func(_ context.Context, op model.PendingOp) error {
		if op.ClientMessageID == "c0" {
			return errGone
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Retained != 1 {
		t.Errorf("retained = %d, want 1", res.Retained)
	}
	ops, _ := q.List()
	if len(ops) != 1 || ops[0].ClientMessageID != "c0" {
		t.Errorf("queue = %+v, want only c0", ops)
	}
}

func TestDrainEmitsDrained(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.drained", 1)
	defer unsub()

	q := NewQueue(testDB(t), bus.New())
	enqueueN(t, q, 2)
	d := NewDrainer(q, b, nil)
	if _, err := d.Drain(context.Background(), (&recordingSender{}).Send); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		res, ok := evt.Payload.(DrainResult)
		if !ok || res.Sent != 2 {
			t.Errorf("payload = %#v, want DrainResult with Sent=2", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for outbox.drained")
	}
}

func TestConcurrentDrainRunsOnce(t *testing.T) {
	q := NewQueue(testDB(t), bus.New())
	enqueueN(t, q, 1)
	d := NewDrainer(q, bus.New(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan DrainResult)
	go func() {
		res, _ := d.Drain(context.Background(), func(context.Context, model.PendingOp) error {
			close(started)
			<-release
			return nil
		})
		done <- res
	}()

	<-started
	res, err := d.Drain(context.Background(), (&recordingSender{}).Send)
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 0 {
		t.Errorf("overlapping drain attempted %d ops, want 0", res.Attempted)
	}
	close(release)
	if first := <-done; first.Attempted != 1 {
		t.Errorf("first drain attempted %d, want 1", first.Attempted)
	}
}
