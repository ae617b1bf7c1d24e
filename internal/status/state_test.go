package status

import (
	"testing"

	"github.com/matheus3301/dmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, Offline)
	if m.Current() != Offline {
		t.Errorf("initial state = %s, want OFFLINE", m.Current())
	}
	if m.Online() {
		t.Error("Online() = true in OFFLINE")
	}

	if got := NewMachine(nil, "BOGUS").Current(); got != Offline {
		t.Errorf("unknown initial state = %s, want OFFLINE", got)
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Offline, OnlineIdle},
		{OnlineIdle, OnlinePolling},
		{OnlineIdle, Sending},
		{OnlineIdle, Offline},
		{OnlinePolling, OnlineIdle},
		{OnlinePolling, Sending},
		{OnlinePolling, Offline},
		{Sending, OnlineIdle},
		{Sending, Offline},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Offline, OnlinePolling},
		{Offline, Sending},
		{Sending, OnlinePolling},
		{OnlineIdle, OnlineIdle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state changed to %s on invalid transition", m.Current())
			}
		})
	}
}

func TestTransitionFrom(t *testing.T) {
	m := NewMachine(nil, Sending)
	if m.TransitionFrom(OnlineIdle, OnlinePolling) {
		t.Error("TransitionFrom should not fire when current state is not listed")
	}
	if !m.TransitionFrom(OnlineIdle, OnlinePolling, Sending) {
		t.Error("TransitionFrom(SENDING -> ONLINE_IDLE) = false, want true")
	}
	if m.Current() != OnlineIdle {
		t.Errorf("state = %s, want ONLINE_IDLE", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine(b, Offline)
	if err := m.Transition(OnlineIdle); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStateChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Offline || change.To != OnlineIdle {
		t.Errorf("change = %v -> %v, want OFFLINE -> ONLINE_IDLE", change.From, change.To)
	}
}
