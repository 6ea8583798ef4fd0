package engine

import (
	"github.com/samber/lo"

	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
)

// FeasibilityReport says whether every pending giver can still be given a
// legal receiver. It is a diagnostic for operators and never influences
// draws, which keep using the local deadlock rule.
type FeasibilityReport struct {
	PendingGivers      []string `json:"pending_givers"`
	AvailableReceivers []string `json:"available_receivers"`
	Feasible           bool     `json:"feasible"`
	// Stranded lists givers left unplaced by one maximum matching. Other
	// maximum matchings may strand different givers, but never fewer.
	Stranded []string `json:"stranded,omitempty"`
}

// CheckFeasibility runs a bipartite maximum matching (augmenting paths)
// between pending givers and receivers nobody has drawn yet.
func CheckFeasibility(participants []*dirmodels.Participant, matches []*models.Match) *FeasibilityReport {
	pool := NewPool(participants, matches)
	givers := pool.PendingGivers()
	receivers := pool.OpenReceivers()

	adj := make([][]int, len(givers))
	for i, g := range givers {
		for j, r := range receivers {
			if g.ID != r.ID && !g.Excludes(r.ID) {
				adj[i] = append(adj[i], j)
			}
		}
	}

	owner := make([]int, len(receivers))
	for j := range owner {
		owner[j] = -1
	}
	var augment func(i int, seen []bool) bool
	augment = func(i int, seen []bool) bool {
		for _, j := range adj[i] {
			if seen[j] {
				continue
			}
			seen[j] = true
			if owner[j] < 0 || augment(owner[j], seen) {
				owner[j] = i
				return true
			}
		}
		return false
	}

	var stranded []string
	for i, g := range givers {
		if !augment(i, make([]bool, len(receivers))) {
			stranded = append(stranded, g.ID)
		}
	}

	ids := func(p *dirmodels.Participant, _ int) string { return p.ID }
	return &FeasibilityReport{
		PendingGivers:      lo.Map(givers, ids),
		AvailableReceivers: lo.Map(receivers, ids),
		Feasible:           len(stranded) == 0,
		Stranded:           stranded,
	}
}
