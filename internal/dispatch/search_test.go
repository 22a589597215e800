package dispatch

import (
	"context"
	"testing"

	"campus-dispatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGraphSource struct {
	edges []models.BeaconProximity
}

func (f *fakeGraphSource) ListProximities(ctx context.Context) ([]models.BeaconProximity, error) {
	return f.edges, nil
}

type fakeGuardSource struct {
	guards map[string][]models.GuardProfile
}

func (f *fakeGuardSource) AvailableGuardsByBeacon(ctx context.Context, exclude []string) (map[string][]models.GuardProfile, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	filtered := make(map[string][]models.GuardProfile)
	for beacon, guards := range f.guards {
		for _, g := range guards {
			if !excluded[g.GuardID] {
				filtered[beacon] = append(filtered[beacon], g)
			}
		}
	}
	return filtered, nil
}

func guardAt(id, beaconID string) models.GuardProfile {
	return models.GuardProfile{
		GuardID:         id,
		Name:            id,
		IsActive:        true,
		IsAvailable:     true,
		CurrentBeaconID: &beaconID,
	}
}

func edge(from, to string, priority int) models.BeaconProximity {
	return models.BeaconProximity{FromBeaconID: from, ToBeaconID: to, Priority: priority}
}

// Library hallway layout: LIB-1 neighbors LIB-2 (priority 1) and
// GYM-1 (priority 2); LIB-2 neighbors LIB-3 (priority 1).
func librarySearcher(guards map[string][]models.GuardProfile) *Searcher {
	graphs := &fakeGraphSource{edges: []models.BeaconProximity{
		edge("LIB-1", "LIB-2", 1),
		edge("LIB-1", "GYM-1", 2),
		edge("LIB-2", "LIB-3", 1),
	}}
	return NewSearcher(graphs, &fakeGuardSource{guards: guards}, zap.NewNop())
}

func TestFindCandidateGuards_OriginFirst(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"LIB-1": {guardAt("guard-origin", "LIB-1")},
		"LIB-2": {guardAt("guard-near", "LIB-2")},
		"GYM-1": {guardAt("guard-far", "GYM-1")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "guard-origin", candidates[0].Guard.GuardID)
	assert.Equal(t, 0, candidates[0].HopPriority)
	assert.Equal(t, []string{"LIB-1"}, candidates[0].Path)

	assert.Equal(t, "guard-near", candidates[1].Guard.GuardID)
	assert.Equal(t, 1, candidates[1].HopPriority)
	assert.Equal(t, []string{"LIB-1", "LIB-2"}, candidates[1].Path)

	assert.Equal(t, "guard-far", candidates[2].Guard.GuardID)
	assert.Equal(t, 2, candidates[2].HopPriority)
	assert.Equal(t, []string{"LIB-1", "GYM-1"}, candidates[2].Path)
}

func TestFindCandidateGuards_CumulativeHopPriority(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"LIB-3": {guardAt("guard-deep", "LIB-3")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	// LIB-1 -> LIB-2 (1) -> LIB-3 (1) sums to 2.
	assert.Equal(t, 2, candidates[0].HopPriority)
	assert.Equal(t, "LIB-3", candidates[0].ViaBeaconID)
	assert.Equal(t, []string{"LIB-1", "LIB-2", "LIB-3"}, candidates[0].Path)
}

func TestFindCandidateGuards_MaxGuardsCutsSearch(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"LIB-1": {guardAt("guard-a", "LIB-1"), guardAt("guard-b", "LIB-1")},
		"LIB-2": {guardAt("guard-c", "LIB-2")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 2, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "guard-a", candidates[0].Guard.GuardID)
	assert.Equal(t, "guard-b", candidates[1].Guard.GuardID)
}

func TestFindCandidateGuards_TieBreaksByGuardID(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"LIB-1": {guardAt("guard-z", "LIB-1"), guardAt("guard-a", "LIB-1")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "guard-a", candidates[0].Guard.GuardID)
	assert.Equal(t, "guard-z", candidates[1].Guard.GuardID)
}

func TestFindCandidateGuards_Deterministic(t *testing.T) {
	guards := map[string][]models.GuardProfile{
		"LIB-1": {guardAt("guard-1", "LIB-1"), guardAt("guard-2", "LIB-1")},
		"LIB-2": {guardAt("guard-3", "LIB-2")},
		"GYM-1": {guardAt("guard-4", "GYM-1")},
		"LIB-3": {guardAt("guard-5", "LIB-3")},
	}
	s := librarySearcher(guards)

	first, err := s.FindCandidateGuards(context.Background(), "LIB-1", 5, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.FindCandidateGuards(context.Background(), "LIB-1", 5, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestFindCandidateGuards_ExcludesGuards(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"LIB-1": {guardAt("guard-a", "LIB-1")},
		"LIB-2": {guardAt("guard-b", "LIB-2")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, []string{"guard-a"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "guard-b", candidates[0].Guard.GuardID)
}

func TestFindCandidateGuards_DisconnectedBeaconUnreachable(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{
		"DORM-9": {guardAt("guard-isolated", "DORM-9")},
	})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidateGuards_NoGuardsAnywhere(t *testing.T) {
	s := librarySearcher(map[string][]models.GuardProfile{})

	candidates, err := s.FindCandidateGuards(context.Background(), "LIB-1", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFindCandidateGuards_ValidatesInput(t *testing.T) {
	s := librarySearcher(nil)

	_, err := s.FindCandidateGuards(context.Background(), "", 3, nil)
	assert.Error(t, err)

	_, err = s.FindCandidateGuards(context.Background(), "LIB-1", 0, nil)
	assert.Error(t, err)
}

func TestSearchGraph_CycleTerminates(t *testing.T) {
	g := NewGraph([]models.BeaconProximity{
		edge("A", "B", 1),
		edge("B", "A", 1),
		edge("B", "C", 2),
		edge("C", "A", 1),
	})
	guards := map[string][]models.GuardProfile{
		"C": {guardAt("guard-c", "C")},
	}

	candidates := searchGraph(g, guards, "A", 5)
	require.Len(t, candidates, 1)
	assert.Equal(t, "guard-c", candidates[0].Guard.GuardID)
	assert.Equal(t, 3, candidates[0].HopPriority)
}

func TestGraph_EdgesOrderedByPriority(t *testing.T) {
	g := NewGraph([]models.BeaconProximity{
		edge("A", "C", 3),
		edge("A", "B", 1),
		edge("A", "D", 2),
	})

	edges := g.Edges("A")
	require.Len(t, edges, 3)
	assert.Equal(t, "B", edges[0].ToBeaconID)
	assert.Equal(t, "D", edges[1].ToBeaconID)
	assert.Equal(t, "C", edges[2].ToBeaconID)
}
