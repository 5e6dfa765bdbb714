package aicode

import (
	"context"
	"time"
)

// Replayer re-emits a persisted Task's recorded Events through a fresh
// EventBus, in original order, letting a caller re-run every listener
// (loggers, observers, a UI) against history without rerunning any Step.
type Replayer struct {
	bus   *EventBus
	speed float64
}

// NewReplayer creates a Replayer emitting onto bus. speed scales the delay
// between consecutive events' original timestamps: 1 replays at the
// recorded pace, greater than 1 replays faster, and a non-positive speed
// replays as fast as possible with no sleeping between events.
func NewReplayer(bus *EventBus, speed float64) *Replayer {
	return &Replayer{bus: bus, speed: speed}
}

// Replay walks steps in recorded order and re-emits every Event through
// r's EventBus. It returns ctx.Err() if ctx is cancelled mid-replay.
func (r *Replayer) Replay(ctx context.Context, steps []Step) error {
	var prev time.Time
	for _, step := range steps {
		for _, ev := range step.Events {
			if err := r.waitForNext(ctx, prev, ev.Timestamp); err != nil {
				return err
			}
			if !ev.Timestamp.IsZero() {
				prev = ev.Timestamp
			}
			r.bus.Emit(ev.Name, ev.Fields)
		}
	}
	return nil
}

// waitForNext sleeps until it is time to emit the next event, scaled by
// r.speed, or returns early if ctx is cancelled.
func (r *Replayer) waitForNext(ctx context.Context, prev, next time.Time) error {
	if r.speed <= 0 || prev.IsZero() || next.IsZero() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	gap := next.Sub(prev)
	if gap <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(float64(gap) / r.speed)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
