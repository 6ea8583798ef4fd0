// Package redis is the Redis backend. Every write bumps a version key, and
// transactions WATCH that key, so a transaction whose reads were overtaken
// by another commit fails at EXEC and is reported as sentinel.ErrConflict.
//
// Reads inside a transaction observe the state at the time of the read; writes
// are queued and applied atomically with MULTI/EXEC at commit.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	exmodels "secretsanta/internal/exchange/models"
	"secretsanta/pkg/platform/sentinel"
)

const (
	defaultPrefix = "santa"

	// standalone writes retry lost WATCH races before giving up.
	maxUpdateAttempts = 3
)

type keys struct {
	participants string
	matches      string
	receivers    string
	settings     string
	version      string
}

func newKeys(prefix string) keys {
	return keys{
		participants: prefix + ":participants",
		matches:      prefix + ":matches",
		receivers:    prefix + ":receivers",
		settings:     prefix + ":settings",
		version:      prefix + ":version",
	}
}

type txState struct {
	rtx       *redis.Tx
	ops       []func(ctx context.Context, pipe redis.Pipeliner)
	givers    map[string]struct{}
	receivers map[string]struct{}
}

// Store persists participants, matches and settings in Redis hashes.
type Store struct {
	client *redis.Client
	keys   keys
	tx     *txState
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key, so several exchanges can share a database.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keys = newKeys(prefix)
		}
	}
}

func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, keys: newKeys(defaultPrefix)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn under WATCH on the version key and commits its queued writes
// with MULTI/EXEC.
func (s *Store) RunInTx(ctx context.Context, fn func(store *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		state := &txState{
			rtx:       rtx,
			givers:    make(map[string]struct{}),
			receivers: make(map[string]struct{}),
		}
		if err := fn(&Store{client: s.client, keys: s.keys, tx: state}); err != nil {
			return err
		}
		if len(state.ops) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range state.ops {
				op(ctx, pipe)
			}
			pipe.Incr(ctx, s.keys.version)
			return nil
		})
		return err
	}, s.keys.version)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("watched version changed: %w", errors.Join(sentinel.ErrConflict, err))
	}
	return err
}

// update runs a standalone write in its own transaction, retrying lost WATCH
// races. Conflicts raised by fn itself are returned as they are.
func (s *Store) update(ctx context.Context, fn func(store *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	var err error
	for range maxUpdateAttempts {
		err = s.RunInTx(ctx, fn)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// reader is the read surface shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
}

func (s *Store) reader() reader {
	if s.tx != nil {
		return s.tx.rtx
	}
	return s.client
}

func (s *Store) queue(op func(ctx context.Context, pipe redis.Pipeliner)) {
	s.tx.ops = append(s.tx.ops, op)
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

func (s *Store) CreateParticipant(ctx context.Context, p *dirmodels.Participant) error {
	return s.update(ctx, func(st *Store) error {
		exists, err := st.reader().HExists(ctx, st.keys.participants, p.ID).Result()
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if exists {
			return fmt.Errorf("participant %s: %w", p.ID, sentinel.ErrAlreadyExists)
		}
		return st.putParticipant(p)
	})
}

func (s *Store) SaveParticipant(ctx context.Context, p *dirmodels.Participant) error {
	return s.update(ctx, func(st *Store) error {
		return st.putParticipant(p)
	})
}

func (s *Store) putParticipant(p *dirmodels.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	s.queue(func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.keys.participants, p.ID, raw)
	})
	return nil
}

func (s *Store) FindParticipant(ctx context.Context, id string) (*dirmodels.Participant, error) {
	raw, err := s.reader().HGet(ctx, s.keys.participants, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("participant %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	var p dirmodels.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode participant %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]*dirmodels.Participant, error) {
	out, err := decodeHash[dirmodels.Participant](ctx, s.reader(), s.keys.participants)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	slices.SortFunc(out, func(a, b *dirmodels.Participant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListActiveParticipants(ctx context.Context) ([]*dirmodels.Participant, error) {
	all, err := s.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(p *dirmodels.Participant) bool { return !p.Active }), nil
}

func (s *Store) DeleteParticipant(ctx context.Context, id string) error {
	return s.update(ctx, func(st *Store) error {
		exists, err := st.reader().HExists(ctx, st.keys.participants, id).Result()
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !exists {
			return fmt.Errorf("participant %s: %w", id, sentinel.ErrNotFound)
		}
		st.queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HDel(ctx, st.keys.participants, id)
		})
		return nil
	})
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (s *Store) ListMatches(ctx context.Context) ([]*models.Match, error) {
	out, err := decodeHash[models.Match](ctx, s.reader(), s.keys.matches)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	slices.SortFunc(out, func(a, b *models.Match) int { return cmp.Compare(a.Giver, b.Giver) })
	return out, nil
}

func (s *Store) FindMatch(ctx context.Context, giver string) (*models.Match, error) {
	raw, err := s.reader().HGet(ctx, s.keys.matches, giver).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("match for %s: %w", giver, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find match: %w", err)
	}
	var m models.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match for %s: %w", giver, err)
	}
	return &m, nil
}

// CreateMatchIfAbsent queues m unless its giver or receiver is already used,
// either in Redis or earlier in the same transaction.
func (s *Store) CreateMatchIfAbsent(ctx context.Context, m *models.Match) (*models.Match, error) {
	err := s.update(ctx, func(st *Store) error {
		if _, ok := st.tx.givers[m.Giver]; ok {
			return fmt.Errorf("giver %s: %w", m.Giver, sentinel.ErrConflict)
		}
		if _, ok := st.tx.receivers[m.Receiver]; ok {
			return fmt.Errorf("receiver %s: %w", m.Receiver, sentinel.ErrConflict)
		}
		giverTaken, err := st.reader().HExists(ctx, st.keys.matches, m.Giver).Result()
		if err != nil {
			return fmt.Errorf("check giver: %w", err)
		}
		if giverTaken {
			return fmt.Errorf("giver %s: %w", m.Giver, sentinel.ErrConflict)
		}
		receiverTaken, err := st.reader().HExists(ctx, st.keys.receivers, m.Receiver).Result()
		if err != nil {
			return fmt.Errorf("check receiver: %w", err)
		}
		if receiverTaken {
			return fmt.Errorf("receiver %s: %w", m.Receiver, sentinel.ErrConflict)
		}

		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode match: %w", err)
		}
		st.tx.givers[m.Giver] = struct{}{}
		st.tx.receivers[m.Receiver] = struct{}{}
		st.queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HSet(ctx, st.keys.matches, m.Giver, raw)
			pipe.HSet(ctx, st.keys.receivers, m.Receiver, m.Giver)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) DeleteMatch(ctx context.Context, giver string) error {
	return s.update(ctx, func(st *Store) error {
		m, err := st.FindMatch(ctx, giver)
		if err != nil {
			return err
		}
		st.queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.HDel(ctx, st.keys.matches, giver)
			pipe.HDel(ctx, st.keys.receivers, m.Receiver)
		})
		return nil
	})
}

func (s *Store) DeleteAllMatches(ctx context.Context) (int, error) {
	var n int64
	err := s.update(ctx, func(st *Store) error {
		var err error
		n, err = st.reader().HLen(ctx, st.keys.matches).Result()
		if err != nil {
			return fmt.Errorf("count matches: %w", err)
		}
		st.queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.Del(ctx, st.keys.matches, st.keys.receivers)
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// GetSettings returns the zero Settings until the exchange is first saved.
func (s *Store) GetSettings(ctx context.Context) (*exmodels.Settings, error) {
	raw, err := s.reader().Get(ctx, s.keys.settings).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &exmodels.Settings{}, nil
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	var settings exmodels.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *exmodels.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.update(ctx, func(st *Store) error {
		st.queue(func(ctx context.Context, pipe redis.Pipeliner) {
			pipe.Set(ctx, st.keys.settings, raw, 0)
		})
		return nil
	})
}

func decodeHash[T any](ctx context.Context, r reader, key string) ([]*T, error) {
	values, err := r.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(values))
	for field, raw := range values {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s[%s]: %w", key, field, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
