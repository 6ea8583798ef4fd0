package engine

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	dErrors "secretsanta/pkg/domain-errors"
)

// Causes wrapped by NoCandidatesAvailable errors so operators can tell a
// drained pool from an over-constrained exclusion list.
var (
	ErrStructuralExhaustion = errors.New("structural exhaustion: every other active participant has already been drawn")
	ErrExclusionExhaustion  = errors.New("exclusion-driven exhaustion: every remaining receiver is on the giver's exclusion list")
)

// Pool is a read-only view of the directory and the match set at one point in
// time. All candidate derivation is a pure function of a Pool.
type Pool struct {
	active    []*dirmodels.Participant
	byID      map[string]*dirmodels.Participant
	givers    map[string]*models.Match
	receivers map[string]struct{}
}

// NewPool indexes active participants (sorted by ID) and existing matches.
func NewPool(participants []*dirmodels.Participant, matches []*models.Match) *Pool {
	active := lo.Filter(participants, func(p *dirmodels.Participant, _ int) bool {
		return p != nil && p.Active
	})
	slices.SortFunc(active, func(a, b *dirmodels.Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})
	matches = lo.Filter(matches, func(m *models.Match, _ int) bool { return m != nil })

	return &Pool{
		active: active,
		byID: lo.KeyBy(active, func(p *dirmodels.Participant) string {
			return p.ID
		}),
		givers: lo.KeyBy(matches, func(m *models.Match) string {
			return m.Giver
		}),
		receivers: lo.SliceToMap(matches, func(m *models.Match) (string, struct{}) {
			return m.Receiver, struct{}{}
		}),
	}
}

// Participant returns the active participant with id.
func (p *Pool) Participant(id string) (*dirmodels.Participant, bool) {
	participant, ok := p.byID[id]
	return participant, ok
}

// MatchOf returns the match id already gives, if any.
func (p *Pool) MatchOf(id string) (*models.Match, bool) {
	m, ok := p.givers[id]
	return m, ok
}

// Received reports whether id is already some giver's receiver.
func (p *Pool) Received(id string) bool {
	_, ok := p.receivers[id]
	return ok
}

// PendingGivers are active participants that have not drawn yet.
func (p *Pool) PendingGivers() []*dirmodels.Participant {
	return lo.Filter(p.active, func(c *dirmodels.Participant, _ int) bool {
		_, drawn := p.givers[c.ID]
		return !drawn
	})
}

// OpenReceivers are active participants nobody has drawn yet.
func (p *Pool) OpenReceivers() []*dirmodels.Participant {
	return lo.Filter(p.active, func(c *dirmodels.Participant, _ int) bool {
		return !p.Received(c.ID)
	})
}

// Candidates derives the legal receivers for giverID: active, not yet
// received, not the giver, not excluded by the giver. An empty result is a
// NoCandidatesAvailable error wrapping the exhaustion cause.
func (p *Pool) Candidates(giverID string) ([]*dirmodels.Participant, error) {
	giver, ok := p.byID[giverID]
	if !ok {
		return nil, unknownParticipant(giverID)
	}

	open := lo.Filter(p.OpenReceivers(), func(c *dirmodels.Participant, _ int) bool {
		return c.ID != giverID
	})
	if len(open) == 0 {
		return nil, noCandidates(giverID, ErrStructuralExhaustion)
	}

	allowed := lo.Filter(open, func(c *dirmodels.Participant, _ int) bool {
		return !giver.Excludes(c.ID)
	})
	if len(allowed) == 0 {
		return nil, noCandidates(giverID, ErrExclusionExhaustion)
	}
	return allowed, nil
}

// NarrowForDeadlock forces the pairing with the other pending giver when
// exactly two givers remain and that giver is still a candidate. Otherwise
// the final giver could be left with only themself to draw. The second return
// value reports whether the rule engaged.
//
// This is a local rule, not a feasibility check: exclusion graphs can still
// strand a later giver.
func (p *Pool) NarrowForDeadlock(giverID string, candidates []*dirmodels.Participant) ([]*dirmodels.Participant, bool) {
	pending := p.PendingGivers()
	if len(pending) != 2 {
		return candidates, false
	}
	other, ok := lo.Find(pending, func(c *dirmodels.Participant) bool {
		return c.ID != giverID
	})
	if !ok {
		return candidates, false
	}
	forced, ok := lo.Find(candidates, func(c *dirmodels.Participant) bool {
		return c.ID == other.ID
	})
	if !ok {
		return candidates, false
	}
	return []*dirmodels.Participant{forced}, true
}

func unknownParticipant(giverID string) error {
	return dErrors.New(dErrors.CodeUnknownParticipant,
		fmt.Sprintf("%q is not an active participant", giverID))
}

func alreadyAssigned(giverID string) error {
	return dErrors.New(dErrors.CodeAlreadyAssigned,
		fmt.Sprintf("%s has already drawn a match", giverID))
}

func noCandidates(giverID string, cause error) error {
	return dErrors.Wrap(cause, dErrors.CodeNoCandidates,
		fmt.Sprintf("no candidates available for %s", giverID))
}
