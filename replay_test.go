package aicode

import (
	"context"
	"testing"
	"time"
)

func TestReplayerReemitsEventsInOrder(t *testing.T) {
	bus := NewEventBus(nil)
	var got []EventName
	bus.Register(EventRoundStart, func(ev Event) { got = append(got, ev.Name) })
	bus.Register(EventRoundEnd, func(ev Event) { got = append(got, ev.Name) })

	base := time.Now()
	steps := []Step{
		{
			Events: []Event{
				{Name: EventRoundStart, Timestamp: base, Fields: map[string]any{"round": 0}},
				{Name: EventRoundEnd, Timestamp: base.Add(10 * time.Millisecond), Fields: map[string]any{"round": 0}},
			},
		},
	}

	r := NewReplayer(bus, 0) // speed <= 0: replay as fast as possible
	if err := r.Replay(context.Background(), steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []EventName{EventRoundStart, EventRoundEnd}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReplayerPreservesFields(t *testing.T) {
	bus := NewEventBus(nil)
	var gotRound any
	bus.Register(EventRoundStart, func(ev Event) { gotRound = ev.Fields["round"] })

	steps := []Step{
		{Events: []Event{{Name: EventRoundStart, Timestamp: time.Now(), Fields: map[string]any{"round": 3}}}},
	}

	r := NewReplayer(bus, 0)
	if err := r.Replay(context.Background(), steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRound != 3 {
		t.Errorf("round field = %v, want 3", gotRound)
	}
}

func TestReplayerStopsOnCancelledContext(t *testing.T) {
	bus := NewEventBus(nil)
	count := 0
	bus.Register(EventRoundStart, func(ev Event) { count++ })

	base := time.Now()
	steps := []Step{
		{
			Events: []Event{
				{Name: EventRoundStart, Timestamp: base, Fields: nil},
				{Name: EventRoundStart, Timestamp: base.Add(time.Hour), Fields: nil},
			},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReplayer(bus, 1) // speed=1 would sleep an hour for the 2nd event
	err := r.Replay(ctx, steps)
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestReplayerWalksMultipleSteps(t *testing.T) {
	bus := NewEventBus(nil)
	var names []EventName
	bus.Register(EventTaskStatus, func(ev Event) { names = append(names, ev.Name) })

	steps := []Step{
		{Events: []Event{{Name: EventTaskStatus, Timestamp: time.Now(), Fields: nil}}},
		{Events: []Event{{Name: EventTaskStatus, Timestamp: time.Now(), Fields: nil}}},
	}

	r := NewReplayer(bus, 0)
	if err := r.Replay(context.Background(), steps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d events across steps, want 2", len(names))
	}
}
