package memory

import (
	"time"

	"uas-server/internal/util"
)

// DefaultMessageLimit is the page size used when none is requested.
const DefaultMessageLimit = 100

// Conversation is a summary row of the conversation history.
type Conversation struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int    `json:"messageCount"`
	LastUpdated  string `json:"lastUpdated"`
}

// Message is one message of a conversation.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Conversations is a fixed stand-in for a conversation history backend.
// Timestamps are relative to the time of the call.
type Conversations struct {
	now func() time.Time
}

func NewConversations() *Conversations {
	return &Conversations{now: time.Now}
}

// List returns the three known conversations.
func (c *Conversations) List() []Conversation {
	now := c.now()
	return []Conversation{
		{ID: "conv-1", Name: "General Chat", MessageCount: 15, LastUpdated: util.Timestamp(now.Add(-time.Hour))},
		{ID: "conv-2", Name: "Code Review Session", MessageCount: 8, LastUpdated: util.Timestamp(now.Add(-2 * time.Hour))},
		{ID: "conv-3", Name: "Project Planning", MessageCount: 23, LastUpdated: util.Timestamp(now.Add(-24 * time.Hour))},
	}
}

// Messages returns the [offset, offset+limit) window of a conversation's
// messages and the total count. Every id yields the same sample thread.
func (c *Conversations) Messages(id string, limit, offset int) ([]Message, int) {
	now := c.now()
	all := []Message{
		{
			Role:      "user",
			Content:   "Hello, can you help me with my project?",
			Timestamp: util.Timestamp(now.Add(-time.Hour)),
		},
		{
			Role:      "assistant",
			Content:   "Of course! I'd be happy to help you with your project. What specific aspect would you like assistance with?",
			Timestamp: util.Timestamp(now.Add(-time.Hour + 5*time.Second)),
		},
		{
			Role:      "user",
			Content:   "I need help setting up a database connection.",
			Timestamp: util.Timestamp(now.Add(-3500 * time.Second)),
		},
		{
			Role:      "assistant",
			Content:   "I can help you with database connections. What type of database are you working with? MySQL, PostgreSQL, or something else?",
			Timestamp: util.Timestamp(now.Add(-3500*time.Second + 8*time.Second)),
		},
	}

	start := min(max(offset, 0), len(all))
	end := min(max(start+limit, start), len(all))
	return all[start:end], len(all)
}
