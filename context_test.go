package aicode

import "testing"

func textChatMsg(store *MessageStore, role Role, text string) ChatMessage {
	return store.Store(TextMessage(role, text))
}

func TestContextManagerSlidingWindowUnderBudget(t *testing.T) {
	// S5: context compression under budget.
	store := NewMessageStore()
	cfg := DefaultContextConfig()
	cfg.MaxTokens = 100
	cfg.PreserveRecent = 1
	cfg.Strategy = StrategySlidingWindow

	cm := NewContextManager(cfg, store, nil)
	for i := 0; i < 5; i++ {
		cm.AddMessage(textChatMsg(store, RoleUser, repeatChar('a', 200)))
		cm.AddMessage(textChatMsg(store, RoleAssistant, repeatChar('b', 200)))
	}

	msgs := cm.GetMessages(true)
	if cm.data.TotalTokens > 100 {
		t.Fatalf("total tokens %d exceeds budget 100", cm.data.TotalTokens)
	}
	if len(msgs) == 0 {
		t.Fatal("expected some messages to survive compression")
	}
	last := msgs[len(msgs)-1]
	if last.Message.Role != RoleAssistant {
		t.Errorf("expected last message to be the most recent assistant message, got %s", last.Message.Role)
	}
}

func TestContextManagerPreservesSystemMessages(t *testing.T) {
	// P5: compression never drops system messages.
	store := NewMessageStore()
	cfg := DefaultContextConfig()
	cfg.MaxTokens = 40
	cfg.PreserveRecent = 1

	for _, strat := range []CompressionStrategy{
		StrategySlidingWindow, StrategyImportanceFilter, StrategySummaryCompression, StrategyHybrid,
	} {
		cfg.Strategy = strat
		cm := NewContextManager(cfg, store, nil)
		cm.AddMessage(textChatMsg(store, RoleSystem, "you are a helpful assistant"))
		for i := 0; i < 8; i++ {
			cm.AddMessage(textChatMsg(store, RoleUser, repeatChar('x', 100)))
			cm.AddMessage(textChatMsg(store, RoleAssistant, repeatChar('y', 100)))
		}

		msgs := cm.GetMessages(true)
		found := false
		for _, m := range msgs {
			if m.Message.Role == RoleSystem {
				found = true
			}
		}
		if !found {
			t.Errorf("strategy %s dropped the system message", strat)
		}
	}
}

func TestContextManagerNeverEmpties(t *testing.T) {
	store := NewMessageStore()
	cfg := DefaultContextConfig()
	cfg.MaxTokens = 1 // impossibly small budget
	cfg.Strategy = StrategySlidingWindow
	cm := NewContextManager(cfg, store, nil)
	cm.AddMessage(textChatMsg(store, RoleUser, repeatChar('x', 500)))
	cm.AddMessage(textChatMsg(store, RoleAssistant, repeatChar('y', 500)))

	msgs := cm.GetMessages(true)
	if len(msgs) == 0 {
		t.Fatal("compression must never drop all messages")
	}
}

func TestContextManagerClear(t *testing.T) {
	store := NewMessageStore()
	cm := NewContextManager(DefaultContextConfig(), store, nil)
	cm.AddMessage(textChatMsg(store, RoleSystem, "system prompt"))
	for i := 0; i < 5; i++ {
		cm.AddMessage(textChatMsg(store, RoleUser, "hi"))
	}

	cm.Clear()
	msgs := cm.GetMessages(false)
	if len(msgs) != 3 {
		t.Fatalf("expected head(system,user1)+last = 3 messages, got %d", len(msgs))
	}
	if msgs[0].Message.Role != RoleSystem {
		t.Errorf("expected first retained message to be system, got %s", msgs[0].Message.Role)
	}
}

func repeatChar(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
