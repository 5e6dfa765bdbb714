package aicode

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"
)

// EventName identifies a registered event kind.
type EventName string

// Event names emitted by the runtime.
const (
	EventTaskStart            EventName = "task_start"
	EventTaskEnd              EventName = "task_end"
	EventRoundStart           EventName = "round_start"
	EventRoundEnd             EventName = "round_end"
	EventTaskStatus           EventName = "task_status"
	EventRequestStarted       EventName = "request_started"
	EventResponseCompleted    EventName = "response_completed"
	EventStreamStart          EventName = "stream_start"
	EventStreamEnd            EventName = "stream_end"
	EventStream               EventName = "stream"
	EventParseReplyCompleted  EventName = "parse_reply_completed"
	EventExecStarted          EventName = "exec_started"
	EventExecCompleted        EventName = "exec_completed"
	EventEditStart            EventName = "edit_start"
	EventEditCompleted        EventName = "edit_completed"
	EventToolCallStarted      EventName = "tool_call_started"
	EventToolCallCompleted    EventName = "tool_call_completed"
	EventFunctionCallStarted  EventName = "function_call_started"
	EventFunctionCallCompleted EventName = "function_call_completed"
	EventRuntimeMessage       EventName = "runtime_message"
	EventRuntimeInput         EventName = "runtime_input"
	EventShowImage            EventName = "show_image"
	EventException            EventName = "exception"
	EventUploadResult         EventName = "upload_result"
)

// Event is a single, replayable, JSON-serializable occurrence. Fields holds
// the typed payload's data by name, giving listeners a generic view without
// requiring a type switch; Task.Step.Events stores these verbatim for replay.
type Event struct {
	Name      EventName      `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Handler processes one Event. Panics inside a Handler are recovered and
// logged by the bus; they never abort emission to later handlers.
type Handler func(Event)

// EventBus is a synchronous, single-threaded fan-out point. Registration
// order is preserved and is the order handlers run in at emit time.
type EventBus struct {
	mu       sync.Mutex
	handlers map[EventName][]Handler
	log      *slog.Logger

	// clock is overridable so tests and replay can control timestamps.
	clock func() time.Time

	// last guards the monotonic-timestamp contract (section 4.1): an
	// event's timestamp must never precede the previous one emitted on
	// this bus.
	last time.Time
}

// NewEventBus builds an EventBus. A nil logger discards log output.
func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = nopLogger
	}
	return &EventBus{
		handlers: make(map[EventName][]Handler),
		log:      log,
		clock:    time.Now,
	}
}

// Register adds h to the handler chain for name, run in registration order.
func (b *EventBus) Register(name EventName, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit constructs the Event, invokes every registered handler for name in
// registration order, and returns the constructed Event. Handler panics are
// recovered and logged, never propagated.
func (b *EventBus) Emit(name EventName, fields map[string]any) Event {
	b.mu.Lock()
	now := b.clock()
	if !b.last.IsZero() && now.Before(b.last) {
		now = b.last
	}
	b.last = now
	hs := append([]Handler(nil), b.handlers[name]...)
	b.mu.Unlock()

	ev := Event{Name: name, Timestamp: now, Fields: fields}
	for _, h := range hs {
		b.invoke(h, ev)
	}
	return ev
}

func (b *EventBus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}

// AddListener scans obj's exported methods for the on_<event> naming
// convention (rendered in Go as On<CamelEvent>, e.g. OnTaskStart for
// task_start) and registers each as a Handler for the matching event.
// This gives listeners reflection-based autowiring while keeping Emit
// itself a plain map lookup.
func (b *EventBus) AddListener(obj any) {
	v := reflect.ValueOf(obj)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		name, ok := eventNameForMethod(m.Name)
		if !ok {
			continue
		}
		method := v.Method(i)
		fn, ok := method.Interface().(func(Event))
		if !ok {
			continue
		}
		b.Register(name, fn)
	}
}

// eventNameForMethod maps a Go method name like "OnTaskStart" to the event
// name "task_start". Returns ok=false for methods that don't match the
// On<Camel> pattern.
func eventNameForMethod(method string) (EventName, bool) {
	const prefix = "On"
	if !strings.HasPrefix(method, prefix) || len(method) <= len(prefix) {
		return "", false
	}
	rest := method[len(prefix):]
	var b strings.Builder
	for i, r := range rest {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return EventName(strings.ToLower(b.String())), true
}
