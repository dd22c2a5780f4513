// Package chat defines the chat platform the assistant talks through and
// the events it receives from it.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Messenger is the chat platform's thread and message API.
type Messenger interface {
	// CreateThread opens a new thread in channelID and returns its ID.
	// A thread is itself a channel, so its ID is unique across channels.
	CreateThread(ctx context.Context, channelID int64, title string) (int64, error)

	// SendMessage posts text to a thread.
	SendMessage(ctx context.Context, threadID int64, text string) error
}

// Kind distinguishes user input from control messages.
type Kind string

// Message kinds.
const (
	KindText  Kind = "text"
	KindClose Kind = "close"
)

// Message is one inbound chat message. IDs are unique per message so a
// message consumed before a crash is recognized if it is seen again.
type Message struct {
	ID     string    `cbor:"id" json:"id"`
	Kind   Kind      `cbor:"kind" json:"kind"`
	Author string    `cbor:"author,omitempty" json:"author,omitempty"`
	Text   string    `cbor:"text" json:"text"`
	SentAt time.Time `cbor:"sent_at" json:"sent_at"`
}

// NewMessage creates a text message with a fresh ID.
func NewMessage(author, text string) Message {
	return Message{
		ID:     uuid.NewString(),
		Kind:   KindText,
		Author: author,
		Text:   text,
		SentAt: time.Now().UTC(),
	}
}

// CloseMessage creates a termination request for a thread.
func CloseMessage() Message {
	return Message{
		ID:     uuid.NewString(),
		Kind:   KindClose,
		SentAt: time.Now().UTC(),
	}
}

// Event routes a message to a conversation. A zero ThreadID starts a
// new thread in ChannelID titled Title.
type Event struct {
	ChannelID int64
	ThreadID  int64
	Title     string
	Message   Message
}

// Sent is a message recorded by MemoryMessenger.
type Sent struct {
	ThreadID int64
	Text     string
}

// MemoryMessenger is an in-process Messenger that records all calls.
// It is used by tests and the example.
type MemoryMessenger struct {
	mu      sync.Mutex
	threads map[int64]int64
	sent    []Sent
	next    int64

	// SendErr, if set, is returned by SendMessage.
	SendErr error
	// OnSend, if set, is called for every delivered message.
	OnSend func(Sent)
}

// NewMemoryMessenger creates an empty MemoryMessenger.
func NewMemoryMessenger() *MemoryMessenger {
	return &MemoryMessenger{threads: make(map[int64]int64), next: 1000}
}

// CreateThread implements Messenger.
func (m *MemoryMessenger) CreateThread(_ context.Context, channelID int64, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.threads[m.next] = channelID
	return m.next, nil
}

// SendMessage implements Messenger.
func (m *MemoryMessenger) SendMessage(ctx context.Context, threadID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}
	s := Sent{ThreadID: threadID, Text: text}
	m.sent = append(m.sent, s)
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return nil
}

// Sent returns every message delivered so far to threadID, or to any
// thread if threadID is zero.
func (m *MemoryMessenger) Sent(threadID int64) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sent
	for _, s := range m.sent {
		if threadID == 0 || s.ThreadID == threadID {
			out = append(out, s)
		}
	}
	return out
}

// Threads returns the number of threads created.
func (m *MemoryMessenger) Threads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}
