package models

import "time"

// Match records that Giver gifts Receiver. It is keyed by Giver, written once
// by a successful draw and never mutated.
type Match struct {
	Giver               string    `json:"giver"`
	Receiver            string    `json:"receiver"`
	ReceiverDisplayName string    `json:"receiver_display_name"`
	CreatedAt           time.Time `json:"created_at"`
}

// Clone returns a copy safe to hand out of a store.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
