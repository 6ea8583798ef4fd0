// Package engine allocates gift-exchange matches one draw at a time.
//
// A draw reads the active directory and every existing match, derives the
// legal receivers for the giver, applies the two-pending-giver deadlock rule,
// picks uniformly at random and writes the match, all inside one store
// transaction. Conflicting concurrent draws are retried from scratch up to a
// bounded number of attempts.
//
// The engine does not check whether the exchange has started; callers own
// that gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	"secretsanta/internal/platform/metrics"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/email"
	"secretsanta/pkg/platform/sentinel"
	"secretsanta/pkg/requestcontext"
)

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = 20 * time.Millisecond
)

var tracer = otel.Tracer("secretsanta/internal/allocation/engine")

// Store is the view of the shared store a draw needs. CreateMatchIfAbsent
// returns sentinel.ErrConflict when the giver or receiver is already taken.
type Store interface {
	ListActiveParticipants(ctx context.Context) ([]*dirmodels.Participant, error)
	ListMatches(ctx context.Context) ([]*models.Match, error)
	CreateMatchIfAbsent(ctx context.Context, match *models.Match) (*models.Match, error)
}

// StoreTx runs fn atomically. Implementations must behave serializably and
// report lost races as sentinel.ErrConflict so the draw can be retried.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Picker selects an index in [0, n). *rand.Rand satisfies it; a shared
// Picker must be safe for concurrent use.
type Picker interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Service draws matches.
type Service struct {
	tx           StoreTx
	picker       Picker
	clock        func(ctx context.Context) time.Time
	maxAttempts  int
	retryBackoff time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPicker replaces the random source.
func WithPicker(p Picker) Option {
	return func(s *Service) {
		if p != nil {
			s.picker = p
		}
	}
}

// WithClock overrides how match timestamps are taken.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = func(context.Context) time.Time { return clock() }
		}
	}
}

// WithMaxAttempts bounds how many times a conflicting draw is attempted.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between conflicting attempts. The
// delay grows linearly with the attempt number and carries jitter.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a draw engine over tx.
func New(tx StoreTx, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("store transaction runner is required")
	}
	s := &Service{
		tx:           tx,
		picker:       globalRand{},
		clock:        requestcontext.Now,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type drawResult struct {
	match  *models.Match
	forced bool
}

// Draw assigns a receiver to giverID and persists the match.
//
// Errors carry one of the codes CodeUnknownParticipant, CodeAlreadyAssigned,
// CodeNoCandidates or CodeContention; anything else is CodeInternal. A failed
// draw never leaves a partial write behind.
func (s *Service) Draw(ctx context.Context, giverID string) (*models.Match, error) {
	start := time.Now()
	giverID = email.Normalize(giverID)

	ctx, span := tracer.Start(ctx, "allocation.Draw")
	defer span.End()
	span.SetAttributes(attribute.String("santa.giver", giverID))

	result, attempts, err := s.drawWithRetry(ctx, giverID)
	span.SetAttributes(attribute.Int("santa.draw.attempts", attempts))
	s.observe(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.logger.WarnContext(ctx, "draw failed",
			"giver", giverID,
			"code", dErrors.CodeOf(err),
			"attempts", attempts,
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, err
	}

	if result.forced {
		span.SetAttributes(attribute.Bool("santa.draw.deadlock_rule", true))
		if s.metrics != nil {
			s.metrics.IncrementDeadlockRule()
		}
	}
	s.logger.InfoContext(ctx, "match drawn",
		"giver", giverID,
		"attempts", attempts,
		"deadlock_rule", result.forced,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result.match, nil
}

func (s *Service) drawWithRetry(ctx context.Context, giverID string) (drawResult, int, error) {
	var lastConflict error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		var result drawResult
		err := s.tx.RunInTx(ctx, func(store Store) error {
			r, err := s.drawOnce(ctx, store, giverID)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err == nil {
			return result, attempt, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return drawResult{}, attempt, translate(err)
		}

		lastConflict = err
		if attempt == s.maxAttempts {
			break
		}
		if s.metrics != nil {
			s.metrics.IncrementConflictRetries()
		}
		s.logger.DebugContext(ctx, "draw conflicted with a concurrent writer, retrying",
			"giver", giverID,
			"attempt", attempt,
		)
		if err := s.wait(ctx, attempt); err != nil {
			return drawResult{}, attempt, err
		}
	}
	return drawResult{}, s.maxAttempts, dErrors.Wrap(lastConflict, dErrors.CodeContention,
		fmt.Sprintf("draw for %s lost to concurrent writers %d times", giverID, s.maxAttempts))
}

// drawOnce is one read-compute-write cycle. It runs inside a transaction and
// must not have side effects outside store.
func (s *Service) drawOnce(ctx context.Context, store Store, giverID string) (drawResult, error) {
	participants, err := store.ListActiveParticipants(ctx)
	if err != nil {
		return drawResult{}, fmt.Errorf("list active participants: %w", err)
	}
	matches, err := store.ListMatches(ctx)
	if err != nil {
		return drawResult{}, fmt.Errorf("list matches: %w", err)
	}

	pool := NewPool(participants, matches)
	if _, ok := pool.Participant(giverID); !ok {
		return drawResult{}, unknownParticipant(giverID)
	}
	if _, ok := pool.MatchOf(giverID); ok {
		return drawResult{}, alreadyAssigned(giverID)
	}

	candidates, err := pool.Candidates(giverID)
	if err != nil {
		return drawResult{}, err
	}
	candidates, forced := pool.NarrowForDeadlock(giverID, candidates)

	receiver := candidates[s.picker.IntN(len(candidates))]
	created, err := store.CreateMatchIfAbsent(ctx, &models.Match{
		Giver:               giverID,
		Receiver:            receiver.ID,
		ReceiverDisplayName: receiver.DisplayName,
		CreatedAt:           s.clock(ctx).UTC(),
	})
	if err != nil {
		return drawResult{}, fmt.Errorf("create match: %w", err)
	}
	return drawResult{match: created, forced: forced}, nil
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	delay := s.retryBackoff * time.Duration(attempt)
	if delay <= 0 {
		return nil
	}
	delay += rand.N(delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "draw aborted while waiting to retry")
	case <-timer.C:
		return nil
	}
}

func (s *Service) observe(err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeUnknownParticipant:
			outcome = metrics.OutcomeUnknownParticipant
		case dErrors.CodeAlreadyAssigned:
			outcome = metrics.OutcomeAlreadyAssigned
		case dErrors.CodeNoCandidates:
			outcome = metrics.OutcomeNoCandidates
		case dErrors.CodeContention:
			outcome = metrics.OutcomeContention
		default:
			outcome = metrics.OutcomeError
		}
	}
	s.metrics.ObserveDraw(outcome, elapsed)
}

// translate keeps coded errors and hides store failures behind CodeInternal.
func translate(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "draw failed")
}
