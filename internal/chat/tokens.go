package chat

import (
	"encoding/json"
	"sync"
)

// TokenEstimator produces heuristic token costs for messages.
//
// This is not a tokenizer; it is only used for context window thresholds.
// The cost of a message is ceil(chars/4) over its content, thinking text and
// serialized tool calls. Costs are cached by (message ID, timestamp), so an
// edited message must carry a fresh timestamp for the new cost to be seen.
type TokenEstimator struct {
	mu    sync.Mutex
	cache map[tokenCacheKey]int
}

type tokenCacheKey struct {
	id string
	ts int64
}

func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{cache: make(map[tokenCacheKey]int)}
}

// EstimateMessage returns the estimated token cost of one message.
func (e *TokenEstimator) EstimateMessage(msg Message) int {
	key := tokenCacheKey{id: msg.ID, ts: msg.Timestamp.UnixNano()}

	e.mu.Lock()
	if cost, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return cost
	}
	e.mu.Unlock()

	chars := len(msg.Content) + len(msg.Thinking)
	if len(msg.ToolCalls) > 0 {
		if data, err := json.Marshal(msg.ToolCalls); err == nil {
			chars += len(data)
		}
	}
	cost := (chars + 3) / 4

	e.mu.Lock()
	e.cache[key] = cost
	e.mu.Unlock()
	return cost
}

// EstimateMessages sums EstimateMessage over a list.
func (e *TokenEstimator) EstimateMessages(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += e.EstimateMessage(msg)
	}
	return total
}

// ClearCache drops all cached costs.
func (e *TokenEstimator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[tokenCacheKey]int)
	e.mu.Unlock()
}
