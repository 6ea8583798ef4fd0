// Package memory is the in-process backend. A single lock serializes
// transactions, and each transaction works on a copy of the state that is
// swapped in only when the callback succeeds.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	exmodels "secretsanta/internal/exchange/models"
	"secretsanta/pkg/platform/sentinel"
)

type state struct {
	participants map[string]*dirmodels.Participant
	matches      map[string]*models.Match
	receivers    map[string]string
	settings     exmodels.Settings
}

func newState() *state {
	return &state{
		participants: make(map[string]*dirmodels.Participant),
		matches:      make(map[string]*models.Match),
		receivers:    make(map[string]string),
	}
}

func (st *state) clone() *state {
	c := &state{
		participants: make(map[string]*dirmodels.Participant, len(st.participants)),
		matches:      make(map[string]*models.Match, len(st.matches)),
		receivers:    maps.Clone(st.receivers),
		settings:     *st.settings.Clone(),
	}
	for id, p := range st.participants {
		c.participants[id] = p.Clone()
	}
	for giver, m := range st.matches {
		c.matches[giver] = m.Clone()
	}
	return c
}

type root struct {
	mu    sync.RWMutex
	state *state
}

// Store implements the directory, match and settings stores in memory.
type Store struct {
	root *root
	// view is the working copy while inside RunInTx.
	view *state
}

func New() *Store {
	return &Store{root: &root{state: newState()}}
}

// RunInTx runs fn with exclusive access to a private copy of the state and
// commits the copy only if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(store *Store) error) error {
	if s.view != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	working := s.root.state.clone()
	if err := fn(&Store{root: s.root, view: working}); err != nil {
		return err
	}
	s.root.state = working
	return nil
}

func (s *Store) read(fn func(st *state)) {
	if s.view != nil {
		fn(s.view)
		return
	}
	s.root.mu.RLock()
	defer s.root.mu.RUnlock()
	fn(s.root.state)
}

// write callbacks must only mutate st when they return nil.
func (s *Store) write(fn func(st *state) error) error {
	if s.view != nil {
		return fn(s.view)
	}
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	return fn(s.root.state)
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

func (s *Store) CreateParticipant(_ context.Context, p *dirmodels.Participant) error {
	return s.write(func(st *state) error {
		if _, ok := st.participants[p.ID]; ok {
			return fmt.Errorf("participant %s: %w", p.ID, sentinel.ErrAlreadyExists)
		}
		st.participants[p.ID] = p.Clone()
		return nil
	})
}

func (s *Store) SaveParticipant(_ context.Context, p *dirmodels.Participant) error {
	return s.write(func(st *state) error {
		st.participants[p.ID] = p.Clone()
		return nil
	})
}

func (s *Store) FindParticipant(_ context.Context, id string) (*dirmodels.Participant, error) {
	var found *dirmodels.Participant
	s.read(func(st *state) {
		found = st.participants[id].Clone()
	})
	if found == nil {
		return nil, fmt.Errorf("participant %s: %w", id, sentinel.ErrNotFound)
	}
	return found, nil
}

func (s *Store) ListParticipants(_ context.Context) ([]*dirmodels.Participant, error) {
	var out []*dirmodels.Participant
	s.read(func(st *state) {
		out = make([]*dirmodels.Participant, 0, len(st.participants))
		for _, p := range st.participants {
			out = append(out, p.Clone())
		}
	})
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

func (s *Store) DeleteParticipant(_ context.Context, id string) error {
	return s.write(func(st *state) error {
		if _, ok := st.participants[id]; !ok {
			return fmt.Errorf("participant %s: %w", id, sentinel.ErrNotFound)
		}
		delete(st.participants, id)
		return nil
	})
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (s *Store) ListMatches(_ context.Context) ([]*models.Match, error) {
	var out []*models.Match
	s.read(func(st *state) {
		out = make([]*models.Match, 0, len(st.matches))
		for _, m := range st.matches {
			out = append(out, m.Clone())
		}
	})
	slices.SortFunc(out, func(a, b *models.Match) int { return cmp.Compare(a.Giver, b.Giver) })
	return out, nil
}

func (s *Store) FindMatch(_ context.Context, giver string) (*models.Match, error) {
	var found *models.Match
	s.read(func(st *state) {
		found = st.matches[giver].Clone()
	})
	if found == nil {
		return nil, fmt.Errorf("match for %s: %w", giver, sentinel.ErrNotFound)
	}
	return found, nil
}

// CreateMatchIfAbsent stores m unless its giver already gives or its receiver
// already receives, in which case it returns sentinel.ErrConflict.
func (s *Store) CreateMatchIfAbsent(_ context.Context, m *models.Match) (*models.Match, error) {
	err := s.write(func(st *state) error {
		if _, ok := st.matches[m.Giver]; ok {
			return fmt.Errorf("giver %s: %w", m.Giver, sentinel.ErrConflict)
		}
		if _, ok := st.receivers[m.Receiver]; ok {
			return fmt.Errorf("receiver %s: %w", m.Receiver, sentinel.ErrConflict)
		}
		st.matches[m.Giver] = m.Clone()
		st.receivers[m.Receiver] = m.Giver
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Store) DeleteMatch(_ context.Context, giver string) error {
	return s.write(func(st *state) error {
		m, ok := st.matches[giver]
		if !ok {
			return fmt.Errorf("match for %s: %w", giver, sentinel.ErrNotFound)
		}
		delete(st.receivers, m.Receiver)
		delete(st.matches, giver)
		return nil
	})
}

func (s *Store) DeleteAllMatches(_ context.Context) (int, error) {
	var n int
	err := s.write(func(st *state) error {
		n = len(st.matches)
		clear(st.matches)
		clear(st.receivers)
		return nil
	})
	return n, err
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

func (s *Store) GetSettings(_ context.Context) (*exmodels.Settings, error) {
	var out *exmodels.Settings
	s.read(func(st *state) {
		out = st.settings.Clone()
	})
	return out, nil
}

func (s *Store) SaveSettings(_ context.Context, settings *exmodels.Settings) error {
	return s.write(func(st *state) error {
		st.settings = *settings.Clone()
		return nil
	})
}
