// Package service coordinates the exchange lifecycle around the draw engine:
// it owns the "started" gate, admin resets and undos, status reporting and
// participant notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"secretsanta/internal/allocation/engine"
	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	exmodels "secretsanta/internal/exchange/models"
	"secretsanta/internal/notify"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/sentinel"
	"secretsanta/pkg/requestcontext"
)

const minParticipants = 2

// Drawer allocates one match.
type Drawer interface {
	Draw(ctx context.Context, giverID string) (*models.Match, error)
}

// Store is the view of the shared store the coordinator needs.
type Store interface {
	GetSettings(ctx context.Context) (*exmodels.Settings, error)
	SaveSettings(ctx context.Context, settings *exmodels.Settings) error
	ListActiveParticipants(ctx context.Context) ([]*dirmodels.Participant, error)
	ListMatches(ctx context.Context) ([]*models.Match, error)
	FindMatch(ctx context.Context, giver string) (*models.Match, error)
	DeleteMatch(ctx context.Context, giver string) error
	DeleteAllMatches(ctx context.Context) (int, error)
}

type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Notifier publishes participant notifications. Failures are logged and never
// fail the operation that triggered them.
type Notifier interface {
	Publish(ctx context.Context, n notify.Notification) error
}

type Service struct {
	drawer   Drawer
	tx       StoreTx
	notifier Notifier
	logger   *slog.Logger
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(drawer Drawer, tx StoreTx, opts ...Option) (*Service, error) {
	if drawer == nil {
		return nil, errors.New("drawer is required")
	}
	if tx == nil {
		return nil, errors.New("store transaction runner is required")
	}
	s := &Service{drawer: drawer, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Draw assigns giverID a receiver once the exchange has started.
//
// The gate is read outside the draw transaction. A reset racing with a draw
// can therefore let one draw land just after the reset; Reset is an admin
// action and the admin can undo that match.
func (s *Service) Draw(ctx context.Context, giverID string) (*models.Match, error) {
	settings, err := s.settings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Started {
		return nil, dErrors.New(dErrors.CodeExchangeNotStarted, "the exchange has not started yet")
	}

	match, err := s.drawer.Draw(ctx, giverID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.MatchDrawn(match))
	return match, nil
}

// Start opens the exchange for drawing. exchangeDate is informational.
func (s *Service) Start(ctx context.Context, exchangeDate *time.Time) (*exmodels.Settings, error) {
	now := requestcontext.Now(ctx).UTC()
	var started *exmodels.Settings
	var active []*dirmodels.Participant
	err := s.tx.RunInTx(ctx, func(store Store) error {
		settings, err := store.GetSettings(ctx)
		if err != nil {
			return err
		}
		if settings.Started {
			return dErrors.New(dErrors.CodeConflict, "the exchange has already started")
		}
		active, err = store.ListActiveParticipants(ctx)
		if err != nil {
			return err
		}
		if len(active) < minParticipants {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("at least %d active participants are required, have %d", minParticipants, len(active)))
		}

		settings.Started = true
		settings.ExchangeDate = exchangeDate
		settings.UpdatedAt = now
		if err := store.SaveSettings(ctx, settings); err != nil {
			return err
		}
		started = settings
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to start the exchange")
	}

	s.logger.InfoContext(ctx, "exchange started",
		"participants", len(active),
		"request_id", requestcontext.RequestID(ctx),
	)
	for _, p := range active {
		s.publish(ctx, notify.ExchangeStarted(p.ID, exchangeDate, now))
	}
	return started, nil
}

// Reset deletes every match and closes the exchange in one transaction.
func (s *Service) Reset(ctx context.Context) error {
	now := requestcontext.Now(ctx).UTC()
	var givers []string
	err := s.tx.RunInTx(ctx, func(store Store) error {
		matches, err := store.ListMatches(ctx)
		if err != nil {
			return err
		}
		givers = lo.Map(matches, func(m *models.Match, _ int) string { return m.Giver })
		if _, err := store.DeleteAllMatches(ctx); err != nil {
			return err
		}
		settings, err := store.GetSettings(ctx)
		if err != nil {
			return err
		}
		settings.Started = false
		settings.UpdatedAt = now
		return store.SaveSettings(ctx, settings)
	})
	if err != nil {
		return translate(err, "failed to reset the exchange")
	}

	s.logger.InfoContext(ctx, "exchange reset",
		"matches_deleted", len(givers),
		"request_id", requestcontext.RequestID(ctx),
	)
	for _, giver := range givers {
		s.publish(ctx, notify.ExchangeReset(giver, now))
	}
	return nil
}

// Undo deletes the match giverID drew, freeing both the giver and the receiver.
func (s *Service) Undo(ctx context.Context, giverID string) error {
	giverID = email.Normalize(giverID)
	err := s.tx.RunInTx(ctx, func(store Store) error {
		return store.DeleteMatch(ctx, giverID)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s has not drawn a match", giverID))
		}
		return translate(err, "failed to undo match")
	}
	s.logger.InfoContext(ctx, "match undone",
		"giver", giverID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// Status summarizes progress for the admin dashboard.
func (s *Service) Status(ctx context.Context) (*exmodels.Status, error) {
	var status *exmodels.Status
	err := s.tx.RunInTx(ctx, func(store Store) error {
		settings, err := store.GetSettings(ctx)
		if err != nil {
			return err
		}
		active, err := store.ListActiveParticipants(ctx)
		if err != nil {
			return err
		}
		matches, err := store.ListMatches(ctx)
		if err != nil {
			return err
		}
		pool := engine.NewPool(active, matches)
		status = &exmodels.Status{
			Settings:           *settings,
			ActiveParticipants: len(active),
			Drawn:              len(matches),
			PendingGivers: lo.Map(pool.PendingGivers(), func(p *dirmodels.Participant, _ int) string {
				return p.ID
			}),
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to load exchange status")
	}
	return status, nil
}

// Matches lists every match, for the admin.
func (s *Service) Matches(ctx context.Context) ([]*models.Match, error) {
	var matches []*models.Match
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		matches, err = store.ListMatches(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err, "failed to list matches")
	}
	return matches, nil
}

// MatchFor returns the match giverID drew.
func (s *Service) MatchFor(ctx context.Context, giverID string) (*models.Match, error) {
	giverID = email.Normalize(giverID)
	var match *models.Match
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		match, err = store.FindMatch(ctx, giverID)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s has not drawn a match", giverID))
		}
		return nil, translate(err, "failed to load match")
	}
	return match, nil
}

// Feasibility reports whether the remaining givers can all still be placed.
func (s *Service) Feasibility(ctx context.Context) (*engine.FeasibilityReport, error) {
	var report *engine.FeasibilityReport
	err := s.tx.RunInTx(ctx, func(store Store) error {
		active, err := store.ListActiveParticipants(ctx)
		if err != nil {
			return err
		}
		matches, err := store.ListMatches(ctx)
		if err != nil {
			return err
		}
		report = engine.CheckFeasibility(active, matches)
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to check feasibility")
	}
	if !report.Feasible {
		s.logger.WarnContext(ctx, "exchange can no longer be completed",
			"stranded", report.Stranded,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return report, nil
}

func (s *Service) settings(ctx context.Context) (*exmodels.Settings, error) {
	var settings *exmodels.Settings
	err := s.tx.RunInTx(ctx, func(store Store) error {
		var err error
		settings, err = store.GetSettings(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err, "failed to load exchange settings")
	}
	return settings, nil
}

func (s *Service) publish(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notification",
			"kind", n.Kind,
			"recipient", n.Recipient,
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func translate(err error, failure string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeContention, "the exchange was modified concurrently, try again")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, failure)
}
