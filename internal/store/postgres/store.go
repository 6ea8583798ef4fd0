// Package postgres is the PostgreSQL backend. Transactions run at
// SERIALIZABLE isolation and unique constraints back the one-giver and
// one-receiver rules, so a lost race surfaces as sentinel.ErrConflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	exmodels "secretsanta/internal/exchange/models"
	"secretsanta/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// SQLSTATE codes that mean "another transaction got there first".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists participants, matches and exchange settings.
type Store struct {
	db        *sql.DB
	q         querier
	inTx      bool
	txTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, q: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn inside one SERIALIZABLE transaction. Serialization
// failures, deadlocks and unique violations, whether raised by a statement
// or at commit, are reported as sentinel.ErrConflict.
func (s *Store) RunInTx(ctx context.Context, fn func(store *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true, txTimeout: s.txTimeout}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// classify tags errors that signal a lost race with sentinel.ErrConflict.
func classify(err error) error {
	if err == nil || errors.Is(err, sentinel.ErrConflict) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%s: %w", pqErr.Message, errors.Join(sentinel.ErrConflict, err))
		}
	}
	return err
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

const participantColumns = `id, display_name, active, exclusions, created_at`

func (s *Store) CreateParticipant(ctx context.Context, p *dirmodels.Participant) error {
	query := `
		INSERT INTO participants (` + participantColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.q.ExecContext(ctx, query, p.ID, p.DisplayName, p.Active, pq.Array(nonNil(p.Exclusions)), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create participant: %w", classify(err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create participant rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, sentinel.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) SaveParticipant(ctx context.Context, p *dirmodels.Participant) error {
	query := `
		INSERT INTO participants (` + participantColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			active = EXCLUDED.active,
			exclusions = EXCLUDED.exclusions
	`
	_, err := s.q.ExecContext(ctx, query, p.ID, p.DisplayName, p.Active, pq.Array(nonNil(p.Exclusions)), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save participant: %w", classify(err))
	}
	return nil
}

func (s *Store) FindParticipant(ctx context.Context, id string) (*dirmodels.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	p, err := scanParticipant(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find participant: %w", classify(err))
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]*dirmodels.Participant, error) {
	return s.listParticipants(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY id`)
}

func (s *Store) ListActiveParticipants(ctx context.Context) ([]*dirmodels.Participant, error) {
	return s.listParticipants(ctx, `SELECT `+participantColumns+` FROM participants WHERE active ORDER BY id`)
}

func (s *Store) listParticipants(ctx context.Context, query string) ([]*dirmodels.Participant, error) {
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", classify(err))
	}
	defer rows.Close()

	var out []*dirmodels.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", classify(err))
	}
	return out, nil
}

func (s *Store) DeleteParticipant(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete participant: %w", classify(err))
	}
	return expectOne(res, fmt.Sprintf("participant %s", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*dirmodels.Participant, error) {
	var p dirmodels.Participant
	var exclusions []string
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Active, pq.Array(&exclusions), &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(exclusions) > 0 {
		p.Exclusions = exclusions
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

const matchColumns = `giver, receiver, receiver_display_name, created_at`

func (s *Store) ListMatches(ctx context.Context) ([]*models.Match, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY giver`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", classify(err))
	}
	defer rows.Close()

	var out []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", classify(err))
	}
	return out, nil
}

func (s *Store) FindMatch(ctx context.Context, giver string) (*models.Match, error) {
	m, err := scanMatch(s.q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE giver = $1`, giver))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match for %s: %w", giver, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find match: %w", classify(err))
	}
	return m, nil
}

// CreateMatchIfAbsent inserts m unless the giver or the receiver is already
// used. Both cases return sentinel.ErrConflict.
func (s *Store) CreateMatchIfAbsent(ctx context.Context, m *models.Match) (*models.Match, error) {
	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING ` + matchColumns
	created, err := scanMatch(s.q.QueryRowContext(ctx, query, m.Giver, m.Receiver, m.ReceiverDisplayName, m.CreatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match %s -> %s: %w", m.Giver, m.Receiver, sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("create match: %w", classify(err))
	}
	return created, nil
}

func (s *Store) DeleteMatch(ctx context.Context, giver string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM matches WHERE giver = $1`, giver)
	if err != nil {
		return fmt.Errorf("delete match: %w", classify(err))
	}
	return expectOne(res, fmt.Sprintf("match for %s", giver))
}

func (s *Store) DeleteAllMatches(ctx context.Context) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM matches`)
	if err != nil {
		return 0, fmt.Errorf("delete matches: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete matches rows affected: %w", err)
	}
	return int(n), nil
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	if err := row.Scan(&m.Giver, &m.Receiver, &m.ReceiverDisplayName, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// GetSettings returns the zero Settings until the exchange is first saved.
func (s *Store) GetSettings(ctx context.Context) (*exmodels.Settings, error) {
	var settings exmodels.Settings
	var exchangeDate sql.NullTime
	err := s.q.QueryRowContext(ctx,
		`SELECT started, exchange_date, updated_at FROM exchange_settings WHERE id = 1`,
	).Scan(&settings.Started, &exchangeDate, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &exmodels.Settings{}, nil
		}
		return nil, fmt.Errorf("get settings: %w", classify(err))
	}
	if exchangeDate.Valid {
		d := exchangeDate.Time.UTC()
		settings.ExchangeDate = &d
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *exmodels.Settings) error {
	query := `
		INSERT INTO exchange_settings (id, started, exchange_date, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			started = EXCLUDED.started,
			exchange_date = EXCLUDED.exchange_date,
			updated_at = EXCLUDED.updated_at
	`
	var exchangeDate sql.NullTime
	if settings.ExchangeDate != nil {
		exchangeDate = sql.NullTime{Time: *settings.ExchangeDate, Valid: true}
	}
	if _, err := s.q.ExecContext(ctx, query, settings.Started, exchangeDate, settings.UpdatedAt); err != nil {
		return fmt.Errorf("save settings: %w", classify(err))
	}
	return nil
}

func expectOne(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
