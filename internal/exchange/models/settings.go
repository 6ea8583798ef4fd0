package models

import "time"

// Settings is the exchange-wide state. Started gates draws; the engine itself
// never reads it.
type Settings struct {
	Started      bool       `json:"started"`
	ExchangeDate *time.Time `json:"exchange_date,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExchangeDate != nil {
		d := *s.ExchangeDate
		c.ExchangeDate = &d
	}
	return &c
}

// Status summarizes exchange progress for the admin dashboard.
type Status struct {
	Settings           Settings `json:"settings"`
	ActiveParticipants int      `json:"active_participants"`
	Drawn              int      `json:"drawn"`
	PendingGivers      []string `json:"pending_givers"`
}
