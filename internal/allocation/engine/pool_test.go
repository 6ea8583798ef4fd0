package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	dErrors "secretsanta/pkg/domain-errors"
)

func participant(id string, exclusions ...string) *dirmodels.Participant {
	return &dirmodels.Participant{ID: id, DisplayName: id, Active: true, Exclusions: exclusions}
}

func ids(ps []*dirmodels.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestPoolCandidates(t *testing.T) {
	t.Run("excludes self, drawn receivers and exclusions", func(t *testing.T) {
		pool := NewPool([]*dirmodels.Participant{
			participant("a@x.io", "d@x.io"),
			participant("b@x.io"),
			participant("c@x.io"),
			participant("d@x.io"),
		}, []*models.Match{{Giver: "b@x.io", Receiver: "c@x.io"}})

		got, err := pool.Candidates("a@x.io")
		require.NoError(t, err)
		assert.Equal(t, []string{"b@x.io"}, ids(got))
	})

	t.Run("inactive participants are neither givers nor receivers", func(t *testing.T) {
		inactive := participant("c@x.io")
		inactive.Active = false
		pool := NewPool([]*dirmodels.Participant{participant("a@x.io"), participant("b@x.io"), inactive}, nil)

		got, err := pool.Candidates("a@x.io")
		require.NoError(t, err)
		assert.Equal(t, []string{"b@x.io"}, ids(got))

		_, err = pool.Candidates("c@x.io")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnknownParticipant))
	})

	t.Run("structural exhaustion when only the giver is left", func(t *testing.T) {
		pool := NewPool([]*dirmodels.Participant{
			participant("a@x.io"), participant("b@x.io"), participant("c@x.io"),
		}, []*models.Match{
			{Giver: "a@x.io", Receiver: "b@x.io"},
			{Giver: "b@x.io", Receiver: "a@x.io"},
		})

		_, err := pool.Candidates("c@x.io")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNoCandidates))
		assert.ErrorIs(t, err, ErrStructuralExhaustion)
	})

	t.Run("exclusion exhaustion when exclusions empty the set", func(t *testing.T) {
		pool := NewPool([]*dirmodels.Participant{
			participant("a@x.io", "b@x.io"), participant("b@x.io"),
		}, nil)

		_, err := pool.Candidates("a@x.io")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNoCandidates))
		assert.ErrorIs(t, err, ErrExclusionExhaustion)
		assert.Contains(t, err.Error(), "exclusion")
	})
}

func TestPoolNarrowForDeadlock(t *testing.T) {
	a, b, c := participant("a@x.io"), participant("b@x.io"), participant("c@x.io")

	t.Run("forces the other pending giver when two remain", func(t *testing.T) {
		pool := NewPool([]*dirmodels.Participant{a, b, c}, []*models.Match{{Giver: "a@x.io", Receiver: "b@x.io"}})
		candidates, err := pool.Candidates("b@x.io")
		require.NoError(t, err)
		assert.Equal(t, []string{"a@x.io", "c@x.io"}, ids(candidates))

		narrowed, forced := pool.NarrowForDeadlock("b@x.io", candidates)
		assert.True(t, forced)
		assert.Equal(t, []string{"c@x.io"}, ids(narrowed))
	})

	t.Run("leaves candidates alone with more than two pending", func(t *testing.T) {
		pool := NewPool([]*dirmodels.Participant{a, b, c}, nil)
		candidates, err := pool.Candidates("a@x.io")
		require.NoError(t, err)

		narrowed, forced := pool.NarrowForDeadlock("a@x.io", candidates)
		assert.False(t, forced)
		assert.Equal(t, ids(candidates), ids(narrowed))
	})

	t.Run("does not engage when the other giver is excluded", func(t *testing.T) {
		picky := participant("b@x.io", "c@x.io")
		pool := NewPool([]*dirmodels.Participant{a, picky, c}, []*models.Match{{Giver: "a@x.io", Receiver: "b@x.io"}})
		candidates, err := pool.Candidates("b@x.io")
		require.NoError(t, err)

		narrowed, forced := pool.NarrowForDeadlock("b@x.io", candidates)
		assert.False(t, forced)
		assert.Equal(t, []string{"a@x.io"}, ids(narrowed))
	})
}

func TestCheckFeasibility(t *testing.T) {
	t.Run("fresh pool without exclusions is feasible", func(t *testing.T) {
		report := CheckFeasibility([]*dirmodels.Participant{
			participant("a@x.io"), participant("b@x.io"), participant("c@x.io"),
		}, nil)
		assert.True(t, report.Feasible)
		assert.Len(t, report.PendingGivers, 3)
		assert.Empty(t, report.Stranded)
	})

	t.Run("needs augmenting paths to find a perfect matching", func(t *testing.T) {
		// a may only give to c; b and c are free. Greedy b->c would strand a.
		report := CheckFeasibility([]*dirmodels.Participant{
			participant("a@x.io", "b@x.io", "d@x.io"),
			participant("b@x.io"),
			participant("c@x.io"),
			participant("d@x.io"),
		}, nil)
		assert.True(t, report.Feasible)
	})

	t.Run("reports stranded givers", func(t *testing.T) {
		report := CheckFeasibility([]*dirmodels.Participant{
			participant("a@x.io", "b@x.io"),
			participant("b@x.io"),
		}, nil)
		assert.False(t, report.Feasible)
		assert.Equal(t, []string{"a@x.io"}, report.Stranded)
	})

	t.Run("only counts pending givers and open receivers", func(t *testing.T) {
		report := CheckFeasibility([]*dirmodels.Participant{
			participant("a@x.io"), participant("b@x.io"), participant("c@x.io"),
		}, []*models.Match{{Giver: "a@x.io", Receiver: "b@x.io"}})
		assert.Equal(t, []string{"b@x.io", "c@x.io"}, report.PendingGivers)
		assert.Equal(t, []string{"a@x.io", "c@x.io"}, report.AvailableReceivers)
		assert.True(t, report.Feasible)
	})
}
