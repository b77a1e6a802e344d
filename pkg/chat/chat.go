// Package chat hands the prediction summary to a conversational backend and
// keeps the resulting transcript.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
)

// Roles used in a transcript
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotStarted is returned by Send before Start
var ErrNotStarted = errors.New("conversation not started")

// Message is one transcript entry. HTML is the rendered form of Text for
// assistant replies.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// Client is a conversational backend
type Client interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// PromptFromSummary builds the opening prompt sent on the clinician's behalf
func PromptFromSummary(summary string) string {
	return fmt.Sprintf("%s - this is the summary obtained from the AI model. "+
		"Give a brief description of the summary. Only answer questions from the user "+
		"that are related to medical image analysis and this summary and don't answer anything else. "+
		"Inform the user to ask only questions related to medicine or the summary.",
		strings.TrimSpace(summary))
}

// Conversation is a transcript bound to one backend
type Conversation struct {
	mu       sync.Mutex
	client   Client
	markdown goldmark.Markdown
	history  []Message
	started  bool
}

// NewConversation creates an empty conversation
func NewConversation(client Client) *Conversation {
	return &Conversation{client: client, markdown: goldmark.New()}
}

// Start sends the summary prompt and records the first reply. The prompt
// itself is kept in the history but not shown as a user message.
func (c *Conversation) Start(ctx context.Context, summary string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = []Message{{Role: RoleSystem, Text: PromptFromSummary(summary)}}
	c.started = true
	return c.replyLocked(ctx)
}

// Send appends a user message and returns the backend's reply. On failure
// the user message stays in the transcript so it can be retried by the user.
func (c *Conversation) Send(ctx context.Context, text string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return Message{}, ErrNotStarted
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, errors.New("empty message")
	}
	c.history = append(c.history, Message{Role: RoleUser, Text: text})
	return c.replyLocked(ctx)
}

func (c *Conversation) replyLocked(ctx context.Context) (Message, error) {
	reply, err := c.client.Reply(ctx, append([]Message(nil), c.history...))
	if err != nil {
		return Message{}, fmt.Errorf("chat reply failed: %w", err)
	}
	msg := Message{Role: RoleAssistant, Text: reply, HTML: c.render(reply)}
	c.history = append(c.history, msg)
	return msg, nil
}

func (c *Conversation) render(md string) string {
	var buf bytes.Buffer
	if err := c.markdown.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// Transcript returns the visible messages, without the opening prompt
func (c *Conversation) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, 0, len(c.history))
	for _, m := range c.history {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets the transcript
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.started = false
}
