package models

import (
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/strings"
)

var validate = validator.New()

// Participant is a directory record. ID is the normalized email address and
// never changes once created.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	Exclusions  []string  `json:"exclusions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewParticipant validates input from a trust boundary and builds an active
// participant. An empty display name is derived from the address.
func NewParticipant(address, displayName string, now time.Time) (*Participant, error) {
	id, err := ParseID(address)
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = email.DeriveDisplayName(id)
	}
	return &Participant{
		ID:          id,
		DisplayName: displayName,
		Active:      true,
		CreatedAt:   now,
	}, nil
}

// ParseID normalizes and validates a participant identity.
func ParseID(address string) (string, error) {
	id := email.Normalize(address)
	if id == "" {
		return "", dErrors.New(dErrors.CodeValidation, "participant email is required")
	}
	if err := validate.Var(id, "email"); err != nil {
		return "", dErrors.New(dErrors.CodeValidation, "invalid participant email: "+id)
	}
	return id, nil
}

// NormalizeExclusions cleans an exclusion list for participant id. Entries are
// lowercased and deduplicated; invalid addresses and self-exclusion are rejected.
func NormalizeExclusions(id string, exclusions []string) ([]string, error) {
	cleaned := strings.DedupeAndTrimLower(exclusions)
	for _, ex := range cleaned {
		if ex == id {
			return nil, dErrors.New(dErrors.CodeValidation, "a participant cannot exclude themself")
		}
		if err := validate.Var(ex, "email"); err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid exclusion email: "+ex)
		}
	}
	return cleaned, nil
}

// Excludes reports whether other may never be drawn by p.
func (p *Participant) Excludes(other string) bool {
	return slices.Contains(p.Exclusions, other)
}

// Clone returns a deep copy so stores never share exclusion slices.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	c.Exclusions = slices.Clone(p.Exclusions)
	return &c
}
