package aicode

import "testing"

// recordedEvent captures one emitted event for assertions, without needing
// a full EventBus.
type recordedEvent struct {
	name   EventName
	fields map[string]any
}

func collectingEmit(dst *[]recordedEvent) EmitFunc {
	return func(name EventName, fields map[string]any) Event {
		*dst = append(*dst, recordedEvent{name: name, fields: fields})
		return Event{Name: name, Fields: fields}
	}
}

func TestStreamProcessorEmitsStartOnConstruction(t *testing.T) {
	var events []recordedEvent
	NewStreamProcessor(collectingEmit(&events), "gemini")

	if len(events) != 1 || events[0].name != EventStreamStart {
		t.Fatalf("events = %+v, want a single stream_start", events)
	}
	if events[0].fields["llm"] != "gemini" {
		t.Errorf("stream_start llm = %v, want gemini", events[0].fields["llm"])
	}
}

func TestStreamProcessorBuffersUntilNewline(t *testing.T) {
	var events []recordedEvent
	sp := NewStreamProcessor(collectingEmit(&events), "openai")

	sp.ProcessChunk("hello ", false)
	sp.ProcessChunk("world", false)
	if len(events) != 1 {
		t.Fatalf("expected only stream_start before any newline, got %d events", len(events))
	}

	sp.ProcessChunk("\n", false)
	if len(events) != 2 || events[1].name != EventStream {
		t.Fatalf("expected a stream event after newline, got %+v", events)
	}
	lines := events[1].fields["lines"].([]string)
	if len(lines) != 1 || lines[0] != "hello world" {
		t.Errorf("lines = %v, want [\"hello world\"]", lines)
	}
	if events[1].fields["reason"] != false {
		t.Errorf("reason = %v, want false", events[1].fields["reason"])
	}
}

func TestStreamProcessorSuppressesBlockAndToolCallLines(t *testing.T) {
	var events []recordedEvent
	sp := NewStreamProcessor(collectingEmit(&events), "openai")

	sp.ProcessChunk("<!-- Block-Start: {} -->\n", false)
	sp.ProcessChunk("<!-- ToolCall: {} -->\n", false)
	sp.ProcessChunk("visible text\n", false)

	var streamEvents []recordedEvent
	for _, e := range events {
		if e.name == EventStream {
			streamEvents = append(streamEvents, e)
		}
	}
	if len(streamEvents) != 1 {
		t.Fatalf("expected only the non-suppressed line to emit, got %d stream events", len(streamEvents))
	}
	lines := streamEvents[0].fields["lines"].([]string)
	if len(lines) != 1 || lines[0] != "visible text" {
		t.Errorf("lines = %v, want [\"visible text\"]", lines)
	}
}

func TestStreamProcessorFlushesReasonOnMainStart(t *testing.T) {
	var events []recordedEvent
	sp := NewStreamProcessor(collectingEmit(&events), "deepseek")

	sp.ProcessChunk("thinking about it", true)
	sp.ProcessChunk("main reply\n", false)

	var flush recordedEvent
	found := false
	for _, e := range events {
		if e.name == EventStream && e.fields["reason"] == true {
			flush = e
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected a reason-tagged stream event flushing the trailing reason buffer")
	}
	lines := flush.fields["lines"].([]string)
	if len(lines) != 2 || lines[0] != "thinking about it" || lines[1] != "\n\n----\n\n" {
		t.Errorf("flushed lines = %v, want [\"thinking about it\", \"\\n\\n----\\n\\n\"]", lines)
	}
}

func TestStreamProcessorCloseFlushesTrailingAndEmitsEnd(t *testing.T) {
	var events []recordedEvent
	sp := NewStreamProcessor(collectingEmit(&events), "openai")

	sp.ProcessChunk("no trailing newline", false)
	sp.Close()

	last := events[len(events)-1]
	if last.name != EventStreamEnd {
		t.Fatalf("last event = %v, want stream_end", last.name)
	}
	if sp.Content() != "no trailing newline" {
		t.Errorf("Content() = %q, want %q", sp.Content(), "no trailing newline")
	}
}
