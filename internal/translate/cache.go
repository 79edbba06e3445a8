package translate

import (
	"encoding/json"
	"sync"
)

// ToolUse is a tool invocation seen in the stream.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
	Raw   json.RawMessage
}

// ToolUseCache correlates tool results with their invocations. Entries live
// as long as the owning session.
type ToolUseCache struct {
	mu   sync.RWMutex
	uses map[string]ToolUse
}

// NewToolUseCache creates an empty cache.
func NewToolUseCache() *ToolUseCache {
	return &ToolUseCache{uses: make(map[string]ToolUse)}
}

// Put records use, replacing an earlier entry with the same id.
func (c *ToolUseCache) Put(use ToolUse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uses[use.ID] = use
}

// Get returns the invocation for id.
func (c *ToolUseCache) Get(id string) (ToolUse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	use, ok := c.uses[id]
	return use, ok
}

// Len returns the number of recorded invocations.
func (c *ToolUseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.uses)
}
