package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"secretsanta/internal/allocation/models"
)

type Kind string

const (
	KindMatchDrawn      Kind = "match_drawn"
	KindExchangeStarted Kind = "exchange_started"
	KindExchangeReset   Kind = "exchange_reset"
)

// Notification is a message for one participant. Recipient is the
// participant ID (their email address).
type Notification struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MatchDrawn tells the giver who they drew.
func MatchDrawn(m *models.Match) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Kind:       KindMatchDrawn,
		Recipient:  m.Giver,
		Subject:    "Your Secret Santa match",
		Body:       fmt.Sprintf("You are the Secret Santa for %s.", m.ReceiverDisplayName),
		OccurredAt: m.CreatedAt,
	}
}

// ExchangeStarted invites a participant to draw. exchangeDate may be nil.
func ExchangeStarted(recipient string, exchangeDate *time.Time, at time.Time) Notification {
	body := "The gift exchange is open. Draw your match!"
	if exchangeDate != nil {
		body = fmt.Sprintf("The gift exchange is open. Draw your match before %s!", exchangeDate.Format("Monday, January 2"))
	}
	return Notification{
		ID:         uuid.NewString(),
		Kind:       KindExchangeStarted,
		Recipient:  recipient,
		Subject:    "Secret Santa has started",
		Body:       body,
		OccurredAt: at,
	}
}

// ExchangeReset tells a former giver their match no longer stands.
func ExchangeReset(recipient string, at time.Time) Notification {
	return Notification{
		ID:         uuid.NewString(),
		Kind:       KindExchangeReset,
		Recipient:  recipient,
		Subject:    "Secret Santa was reset",
		Body:       "The organizer reset the exchange. Your previous match is void.",
		OccurredAt: at,
	}
}
