package realtime

import (
	"sync"
	"time"

	"parley/internal/domain"
)

// conversation is the local mirror of the remote conversation. Deltas are
// applied in arrival order per item id; once an item completes it becomes
// immutable and late deltas for it are dropped.
type conversation struct {
	mu    sync.Mutex
	order []string
	items map[string]*domain.ConversationItem
}

func newConversation() *conversation {
	return &conversation{items: make(map[string]*domain.ConversationItem)}
}

// upsert returns the item with the given id, creating it in arrival order
// when it is unknown.
func (c *conversation) upsert(id string, role domain.Role) *domain.ConversationItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upsertLocked(id, role)
}

func (c *conversation) upsertLocked(id string, role domain.Role) *domain.ConversationItem {
	if item, ok := c.items[id]; ok {
		if item.Role == "" && role != "" {
			item.Role = role
		}
		return item
	}
	item := &domain.ConversationItem{
		ID:        id,
		Role:      role,
		Status:    domain.ItemInProgress,
		CreatedAt: time.Now(),
	}
	c.items[id] = item
	c.order = append(c.order, id)
	return item
}

func (c *conversation) appendAudio(id string, samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.upsertLocked(id, domain.RoleAssistant)
	if item.Status == domain.ItemCompleted {
		return
	}
	item.Formatted.Audio = append(item.Formatted.Audio, samples...)
}

func (c *conversation) appendTranscript(id, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.upsertLocked(id, domain.RoleAssistant)
	if item.Status == domain.ItemCompleted {
		return
	}
	item.Formatted.Transcript += delta
}

func (c *conversation) appendText(id, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.upsertLocked(id, domain.RoleAssistant)
	if item.Status == domain.ItemCompleted {
		return
	}
	item.Formatted.Text += delta
}

// setTranscript replaces the transcript wholesale, used when the input
// transcription completes for a user item.
func (c *conversation) setTranscript(id, transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.upsertLocked(id, domain.RoleUser)
	item.Formatted.Transcript = transcript
}

// complete marks the item done and returns a copy of its final state.
// Returns nil for unknown items.
func (c *conversation) complete(id string) *domain.ConversationItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return nil
	}
	item.Status = domain.ItemCompleted
	copied := *item
	return &copied
}

// attachFile sets the playable file on a completed item.
func (c *conversation) attachFile(id string, file *domain.AudioFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[id]; ok {
		item.Formatted.File = file
	}
}

func (c *conversation) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// snapshot returns copies of all items in arrival order.
func (c *conversation) snapshot() []domain.ConversationItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ConversationItem, 0, len(c.order))
	for _, id := range c.order {
		if item, ok := c.items[id]; ok {
			out = append(out, *item)
		}
	}
	return out
}

// lastUserTranscript returns the transcript of the most recent user item.
func (c *conversation) lastUserTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.order) - 1; i >= 0; i-- {
		item, ok := c.items[c.order[i]]
		if ok && item.Role == domain.RoleUser && item.Formatted.Transcript != "" {
			return item.Formatted.Transcript
		}
	}
	return ""
}

// firstTranscript returns the transcript or text of the earliest item.
func (c *conversation) firstTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		item, ok := c.items[id]
		if !ok {
			continue
		}
		if item.Formatted.Transcript != "" {
			return item.Formatted.Transcript
		}
		if item.Formatted.Text != "" {
			return item.Formatted.Text
		}
	}
	return ""
}

func (c *conversation) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.items = make(map[string]*domain.ConversationItem)
}
