package aicode

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// CompressionStrategy selects how the ContextManager trims an
// over-budget conversation window.
type CompressionStrategy string

const (
	StrategySlidingWindow     CompressionStrategy = "sliding_window"
	StrategyImportanceFilter  CompressionStrategy = "importance_filter"
	StrategySummaryCompression CompressionStrategy = "summary_compression"
	StrategyHybrid            CompressionStrategy = "hybrid"
)

// ContextConfig parameterizes the ContextManager.
type ContextConfig struct {
	MaxTokens         int
	MaxRounds         int
	AutoCompress      bool
	Strategy          CompressionStrategy
	ImportanceThreshold float64
	SummaryMaxLength  int
	PreserveRecent    int
}

// DefaultContextConfig returns sensible defaults for a fresh Task.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTokens:        100000,
		MaxRounds:        10,
		AutoCompress:     false,
		Strategy:         StrategyHybrid,
		SummaryMaxLength: 200,
		PreserveRecent:   3,
	}
}

// estimateTokens implements the "1 token ~= 4 chars" rule, counting only
// the text parts of a multimodal message.
func estimateTokens(m Message) int {
	return len(m.TextContent()) / 4
}

// messageTokens returns the token contribution of a ChatMessage, preferring
// an assistant message's reported usage.total_tokens over the estimator.
func messageTokens(m Message) int {
	if m.Role == RoleAssistant && m.Usage != nil && m.Usage.TotalTokens > 0 {
		return m.Usage.TotalTokens
	}
	return estimateTokens(m)
}

// ContextManager holds a single ContextData: the canonical conversation
// window sent to the LLM, kept under a token and round budget by one of
// four pluggable compression strategies.
type ContextManager struct {
	config ContextConfig
	data   ContextData
	log    *slog.Logger
	store  *MessageStore // backs synthesized summary messages; owned by the same Task

	lastCompression time.Time
	now             func() time.Time // overridable for tests
}

// NewContextManager builds a ContextManager with the given config. store is
// the owning Task's MessageStore — summary_compression mints its synthesized
// messages through it so they content-address like any other message.
func NewContextManager(cfg ContextConfig, store *MessageStore, log *slog.Logger) *ContextManager {
	if log == nil {
		log = nopLogger
	}
	return &ContextManager{config: cfg, store: store, log: log, now: time.Now}
}

// AddMessage appends m and updates total_tokens by the estimator (or the
// assistant's reported usage).
func (cm *ContextManager) AddMessage(m ChatMessage) {
	cm.data.Messages = append(cm.data.Messages, m)
	cm.data.TotalTokens += messageTokens(m.Message)
}

// GetMessages returns a copy of the current window, triggering compression
// first if force is set or any of the auto-compression conditions hold:
// over the token budget, over 2*max_rounds messages, or more than 300s
// since the last compression.
func (cm *ContextManager) GetMessages(force bool) []ChatMessage {
	should := force
	if cm.config.AutoCompress || force {
		should = force ||
			cm.data.TotalTokens > cm.config.MaxTokens ||
			len(cm.data.Messages) > cm.config.MaxRounds*2 ||
			(!cm.lastCompression.IsZero() && cm.now().Sub(cm.lastCompression) > 300*time.Second)
	}
	if should {
		cm.compress()
	}
	out := make([]ChatMessage, len(cm.data.Messages))
	copy(out, cm.data.Messages)
	return out
}

// Stats exposes the current window's accounting.
func (cm *ContextManager) Stats() map[string]any {
	return map[string]any{
		"message_count":    len(cm.data.Messages),
		"total_tokens":     cm.data.TotalTokens,
		"max_tokens":       cm.config.MaxTokens,
		"last_compression": cm.lastCompression,
	}
}

// Clear retains only the head (up to 2 messages if the first is system,
// else 1) and the most recent message.
func (cm *ContextManager) Clear() {
	msgs := cm.data.Messages
	if len(msgs) == 0 {
		return
	}
	head := 1
	if msgs[0].Message.Role == RoleSystem && len(msgs) > 1 {
		head = 2
	}
	if head >= len(msgs) {
		return
	}
	kept := append([]ChatMessage(nil), msgs[:head]...)
	kept = append(kept, msgs[len(msgs)-1])
	cm.data.Messages = kept
	cm.recomputeTokens()
	cm.lastCompression = time.Time{}
}

// Rebuild replaces the window wholesale, recomputing total_tokens.
func (cm *ContextManager) Rebuild(msgs []ChatMessage) {
	cm.data.Messages = append([]ChatMessage(nil), msgs...)
	cm.recomputeTokens()
}

// UpdateConfig swaps the active config for subsequent compressions.
func (cm *ContextManager) UpdateConfig(cfg ContextConfig) {
	cm.config = cfg
}

// RestoreState reinstalls a persisted ContextData (component J).
func (cm *ContextManager) RestoreState(data ContextData) {
	cm.data = data
}

// State returns the current ContextData for persistence.
func (cm *ContextManager) State() ContextData {
	return cm.data
}

func (cm *ContextManager) recomputeTokens() {
	total := 0
	for _, m := range cm.data.Messages {
		total += messageTokens(m.Message)
	}
	cm.data.TotalTokens = total
}

// compress dispatches to the configured strategy if the window is over
// budget, never emptying it entirely: every compression keeps at least the
// system messages plus the most recent one.
func (cm *ContextManager) compress() {
	if len(cm.data.Messages) == 0 || cm.data.TotalTokens <= cm.config.MaxTokens {
		cm.lastCompression = cm.now()
		return
	}
	before := len(cm.data.Messages)

	var out []ChatMessage
	switch cm.config.Strategy {
	case StrategySlidingWindow:
		out = cm.slidingWindow(cm.data.Messages)
	case StrategyImportanceFilter:
		out = cm.importanceFilter(cm.data.Messages)
	case StrategySummaryCompression:
		out = cm.summaryCompression(cm.data.Messages)
	case StrategyHybrid:
		out = cm.slidingWindow(cm.data.Messages)
		if cm.tokensOf(out) > cm.config.MaxTokens {
			out = cm.summaryCompression(cm.data.Messages)
		}
	default:
		out = cm.data.Messages
	}

	out = cm.ensureNonEmpty(cm.data.Messages, out)
	cm.data.Messages = out
	cm.recomputeTokens()
	cm.lastCompression = cm.now()
	cm.log.Info("context compressed", "before", before, "after", len(out))
}

// ensureNonEmpty enforces "compression must never drop all messages": if
// the result is empty, fall back to system messages plus the last message.
func (cm *ContextManager) ensureNonEmpty(original, compressed []ChatMessage) []ChatMessage {
	if len(compressed) > 0 {
		return compressed
	}
	var fallback []ChatMessage
	for _, m := range original {
		if m.Message.Role == RoleSystem {
			fallback = append(fallback, m)
		}
	}
	if len(original) > 0 {
		fallback = append(fallback, original[len(original)-1])
	}
	return fallback
}

func (cm *ContextManager) tokensOf(msgs []ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += messageTokens(m.Message)
	}
	return total
}

// slidingWindow keeps all system messages, then the last
// preserve_recent*2 non-system messages that fit under the token budget.
func (cm *ContextManager) slidingWindow(msgs []ChatMessage) []ChatMessage {
	var preserved []ChatMessage
	var total int
	for _, m := range msgs {
		if m.Message.Role == RoleSystem {
			preserved = append(preserved, m)
			total += messageTokens(m.Message)
		}
	}

	var recent []ChatMessage
	for _, m := range msgs {
		if m.Message.Role != RoleSystem {
			recent = append(recent, m)
		}
	}
	maxRecent := cm.config.PreserveRecent * 2
	window := lastN(recent, maxRecent)

	for _, m := range window {
		t := messageTokens(m.Message)
		if total+t > cm.config.MaxTokens {
			break
		}
		preserved = append(preserved, m)
		total += t
	}
	return preserved
}

// importanceFilter keeps every system message, scores the rest and greedily
// keeps the highest-scoring prefix under the remaining budget, then restores
// original order using stable original indices.
func (cm *ContextManager) importanceFilter(msgs []ChatMessage) []ChatMessage {
	type scored struct {
		idx   int
		score float64
		msg   ChatMessage
	}
	n := len(msgs)
	all := make([]scored, n)
	for i, m := range msgs {
		all[i] = scored{idx: i, score: importanceScore(m.Message, i, n), msg: m}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	var kept []scored
	total := 0
	for _, s := range all {
		if s.msg.Message.Role == RoleSystem {
			kept = append(kept, s)
			total += messageTokens(s.msg.Message)
		}
	}
	for _, s := range all {
		if s.msg.Message.Role == RoleSystem {
			continue
		}
		t := messageTokens(s.msg.Message)
		if total+t > cm.config.MaxTokens {
			break
		}
		kept = append(kept, s)
		total += t
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].idx < kept[j].idx })

	out := make([]ChatMessage, len(kept))
	for i, s := range kept {
		out[i] = s.msg
	}
	return out
}

func importanceScore(m Message, index, total int) float64 {
	var score float64
	switch m.Role {
	case RoleSystem:
		score += 1.0
	case RoleUser:
		score += 0.8
	case RoleAssistant:
		score += 0.6
	}
	recency := float64(index+1) / float64(total)
	score += recency * 0.4

	length := float64(len(m.TextContent())) / 1000
	if length > 1.0 {
		length = 1.0
	}
	score += length * 0.2
	return score
}

// summaryCompression retains system messages, replaces the older prefix of
// non-system messages with one synthesized summary message, then appends
// the recent window up to budget.
func (cm *ContextManager) summaryCompression(msgs []ChatMessage) []ChatMessage {
	var preserved []ChatMessage
	var total int
	for _, m := range msgs {
		if m.Message.Role == RoleSystem {
			preserved = append(preserved, m)
			total += messageTokens(m.Message)
		}
	}

	var recent []ChatMessage
	for _, m := range msgs {
		if m.Message.Role != RoleSystem {
			recent = append(recent, m)
		}
	}
	maxRecent := cm.config.PreserveRecent * 2

	if len(recent) > maxRecent {
		old := recent[:len(recent)-maxRecent]
		summary := cm.synthesizeSummary(old)
		summaryMsg := cm.store.Store(TextMessage(RoleUser, summary))
		preserved = append(preserved, summaryMsg)
		total += messageTokens(summaryMsg.Message)
	}

	for _, m := range lastN(recent, maxRecent) {
		t := messageTokens(m.Message)
		if total+t > cm.config.MaxTokens {
			break
		}
		preserved = append(preserved, m)
		total += t
	}
	return preserved
}

// synthesizeSummary renders the "conversation history summary: ..." message,
// truncated to summary_max_length.
func (cm *ContextManager) synthesizeSummary(msgs []ChatMessage) string {
	var parts []string
	for _, m := range msgs {
		text := m.Message.TextContent()
		if len(text) > 100 {
			text = text[:100] + "..."
		}
		parts = append(parts, string(m.Message.Role)+": "+text)
	}
	summary := "conversation history summary: " + strings.Join(parts, " | ")
	if len(summary) > cm.config.SummaryMaxLength {
		summary = summary[:cm.config.SummaryMaxLength]
	}
	return summary
}

func lastN[T any](s []T, n int) []T {
	if n <= 0 || len(s) == 0 {
		return nil
	}
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
