package notify

import (
	"context"
	"slices"
	"sync"
)

// MemorySink keeps delivered notifications in memory. It backs the default
// wiring and tests.
type MemorySink struct {
	mu        sync.Mutex
	delivered []Notification
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Deliver(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, n)
	return nil
}

// Delivered returns every notification in delivery order.
func (m *MemorySink) Delivered() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.delivered)
}

// For returns the notifications addressed to recipient.
func (m *MemorySink) For(recipient string) []Notification {
	return slices.DeleteFunc(m.Delivered(), func(n Notification) bool {
		return n.Recipient != recipient
	})
}
