package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"secretsanta/internal/directory/models"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/sentinel"
	"secretsanta/pkg/requestcontext"
)

// Store persists participant records.
type Store interface {
	CreateParticipant(ctx context.Context, p *models.Participant) error
	SaveParticipant(ctx context.Context, p *models.Participant) error
	FindParticipant(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context) ([]*models.Participant, error)
	DeleteParticipant(ctx context.Context, id string) error
}

// StoreTx runs read-modify-write sequences atomically so concurrent admin
// edits never overwrite each other.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// maxAddAttempts bounds how often Add re-runs a create that lost a
// transaction race.
const maxAddAttempts = 3

// Service manages the participant directory for the admin dashboard.
type Service struct {
	tx     StoreTx
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(tx StoreTx, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("store transaction runner is required")
	}
	s := &Service{tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add registers a new active participant. An empty display name is derived
// from the email address.
func (s *Service) Add(ctx context.Context, address, displayName string) (*models.Participant, error) {
	p, err := models.NewParticipant(address, strings.TrimSpace(displayName), requestcontext.Now(ctx).UTC())
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		err = s.tx.RunInTx(ctx, func(store Store) error {
			return store.CreateParticipant(ctx, p)
		})
		if !errors.Is(err, sentinel.ErrConflict) || attempt == maxAddAttempts {
			break
		}
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("participant %s already exists", p.ID))
		}
		return nil, translate(err, p.ID, "failed to add participant")
	}

	s.logger.InfoContext(ctx, "participant added",
		"participant", p.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Participant, error) {
	var p *models.Participant
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		p, err = store.FindParticipant(ctx, email.Normalize(id))
		return err
	})
	if err != nil {
		return nil, translate(err, id, "failed to load participant")
	}
	return p, nil
}

// List returns every participant, active or not, sorted by ID.
func (s *Service) List(ctx context.Context) ([]*models.Participant, error) {
	var out []*models.Participant
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		out, err = store.ListParticipants(ctx)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list participants")
	}
	return out, nil
}

// SetExclusions replaces the participants id must never draw.
func (s *Service) SetExclusions(ctx context.Context, id string, exclusions []string) (*models.Participant, error) {
	id = email.Normalize(id)
	cleaned, err := models.NormalizeExclusions(id, exclusions)
	if err != nil {
		return nil, err
	}
	p, err := s.update(ctx, id, "failed to update exclusions", func(p *models.Participant) error {
		p.Exclusions = cleaned
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "exclusions updated",
		"participant", id,
		"count", len(cleaned),
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

// SetActive toggles whether id takes part in draws. Existing matches are kept.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*models.Participant, error) {
	p, err := s.update(ctx, email.Normalize(id), "failed to update participant", func(p *models.Participant) error {
		p.Active = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "participant activation changed",
		"participant", p.ID,
		"active", active,
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

func (s *Service) Rename(ctx context.Context, id, displayName string) (*models.Participant, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "display name is required")
	}
	return s.update(ctx, email.Normalize(id), "failed to rename participant", func(p *models.Participant) error {
		p.DisplayName = displayName
		return nil
	})
}

// Remove deletes id from the directory. Matches that name id are left for
// the admin to undo.
func (s *Service) Remove(ctx context.Context, id string) error {
	id = email.Normalize(id)
	err := s.tx.RunInTx(ctx, func(store Store) error {
		return store.DeleteParticipant(ctx, id)
	})
	if err != nil {
		return translate(err, id, "failed to remove participant")
	}
	s.logger.InfoContext(ctx, "participant removed",
		"participant", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

func (s *Service) update(ctx context.Context, id, failure string, mutate func(p *models.Participant) error) (*models.Participant, error) {
	var updated *models.Participant
	err := s.tx.RunInTx(ctx, func(store Store) error {
		p, err := store.FindParticipant(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(p); err != nil {
			return err
		}
		if err := store.SaveParticipant(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, translate(err, id, failure)
	}
	return updated, nil
}

func translate(err error, id, failure string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("participant %s not found", id))
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "participant was modified concurrently, try again")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, failure)
	}
}
