package cache

import (
	"sort"
	"sync"

	"github.com/matheus3301/dmsync/internal/model"
)

// Cache holds the ordered message history of every open conversation.
// It has no eviction; its size is bounded by conversation length.
type Cache struct {
	mu            sync.RWMutex
	conversations map[string][]model.Message
}

// Result describes the outcome of a Put.
type Result struct {
	Added   bool
	Match   Match
	Message model.Message
	// PrevKey is the view key the record had before the merge. It differs
	// from Message.Key() when a local record has just been confirmed.
	PrevKey string
}

// Rekeyed reports whether the merge moved the record to a new view key.
func (r Result) Rekeyed() bool {
	return !r.Added && r.PrevKey != "" && r.PrevKey != r.Message.Key()
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{conversations: make(map[string][]model.Message)}
}

// AddMessage inserts msg into the conversation unless it reconciles with a
// record already there, in which case the two are merged in place. Reports
// whether a new record was appended.
func (c *Cache) AddMessage(conversationID string, msg model.Message) bool {
	return c.Put(conversationID, msg).Added
}

// Put is AddMessage returning the merged record.
func (c *Cache) Put(conversationID string, msg model.Message) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg = msg.Clone()
	msg.ConversationID = conversationID
	msgs := c.conversations[conversationID]

	if i, match := find(msgs, msg); match != NoMatch {
		prev := msgs[i].Key()
		msgs[i] = msgs[i].Merge(msg)
		sortByCreated(msgs)
		merged := msgs[indexOfKey(msgs, msgs[i].Key(), i)]
		return Result{Match: match, Message: merged.Clone(), PrevKey: prev}
	}

	msgs = append(msgs, msg)
	sortByCreated(msgs)
	c.conversations[conversationID] = msgs
	return Result{Added: true, Message: msg.Clone()}
}

// UpdateMessage merges patch into the record with the given server id in
// whichever conversation holds it, falling back to patch.ClientMessageID.
// An unknown id is a no-op and reports false.
func (c *Cache) UpdateMessage(id model.MessageID, patch model.Patch) bool {
	_, ok := c.Update(id, patch)
	return ok
}

// Update is UpdateMessage returning the patched record.
func (c *Cache) Update(id model.MessageID, patch model.Patch) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != "" {
		for _, msgs := range c.conversations {
			for i := range msgs {
				if msgs[i].ID == id {
					msgs[i] = msgs[i].Apply(patch)
					return msgs[i].Clone(), true
				}
			}
		}
	}
	if patch.ClientMessageID != "" {
		for _, msgs := range c.conversations {
			for i := range msgs {
				if msgs[i].ClientMessageID == patch.ClientMessageID {
					msgs[i] = msgs[i].Apply(patch)
					return msgs[i].Clone(), true
				}
			}
		}
	}
	return model.Message{}, false
}

// GetMessages returns a copy of the conversation ordered by created_at.
func (c *Cache) GetMessages(conversationID string) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.conversations[conversationID]
	out := make([]model.Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// FindByClientID returns the record carrying the client correlation id.
func (c *Cache) FindByClientID(conversationID, clientMsgID string) (model.Message, bool) {
	if clientMsgID == "" {
		return model.Message{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.conversations[conversationID] {
		if m.ClientMessageID == clientMsgID {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// IndexOf returns the position of the record with the given view key.
func (c *Cache) IndexOf(conversationID, key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return indexOfKey(c.conversations[conversationID], key, -1)
}

// Len returns the number of records in the conversation.
func (c *Cache) Len(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conversations[conversationID])
}

// Remove deletes the record drawn under key, returning it.
func (c *Cache) Remove(conversationID, key string) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.conversations[conversationID]
	i := indexOfKey(msgs, key, -1)
	if i < 0 {
		return model.Message{}, false
	}
	m := msgs[i]
	c.conversations[conversationID] = append(msgs[:i], msgs[i+1:]...)
	return m, true
}

// Clear drops a conversation, e.g. when its view is closed.
func (c *Cache) Clear(conversationID string) {
	c.mu.Lock()
	delete(c.conversations, conversationID)
	c.mu.Unlock()
}

func sortByCreated(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func indexOfKey(msgs []model.Message, key string, fallback int) int {
	for i := range msgs {
		if msgs[i].Key() == key {
			return i
		}
	}
	return fallback
}
