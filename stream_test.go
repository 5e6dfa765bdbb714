package aicode

import "testing"

func TestStreamEventTypeValues(t *testing.T) {
	tests := []struct {
		got  StreamEventType
		want string
	}{
		{EventTextDelta, "text-delta"},
		{EventToolCallStart, "tool-call-start"},
		{EventToolCallResult, "tool-call-result"},
		{EventAgentStart, "agent-start"},
		{EventAgentFinish, "agent-finish"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("event type = %q, want %q", tt.got, tt.want)
		}
	}
}
