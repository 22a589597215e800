package dispatch

import (
	"context"
	"fmt"
	"sort"

	"campus-dispatch/internal/models"

	"go.uber.org/zap"
)

// GraphSource provides the beacon adjacency edges.
type GraphSource interface {
	ListProximities(ctx context.Context) ([]models.BeaconProximity, error)
}

// GuardSource provides dispatchable guards grouped by current beacon,
// already filtered for availability, location and active assignments.
type GuardSource interface {
	AvailableGuardsByBeacon(ctx context.Context, excludeGuardIDs []string) (map[string][]models.GuardProfile, error)
}

// Graph is an immutable adjacency snapshot taken before a search runs.
// Outgoing edges of each beacon are ordered by ascending priority.
type Graph struct {
	adjacency map[string][]models.BeaconProximity
}

// NewGraph builds a snapshot from edge rows.
func NewGraph(edges []models.BeaconProximity) *Graph {
	adjacency := make(map[string][]models.BeaconProximity)
	for _, e := range edges {
		adjacency[e.FromBeaconID] = append(adjacency[e.FromBeaconID], e)
	}
	for _, out := range adjacency {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				return out[i].Priority < out[j].Priority
			}
			return out[i].ToBeaconID < out[j].ToBeaconID
		})
	}
	return &Graph{adjacency: adjacency}
}

// Edges returns the outgoing edges of a beacon in priority order.
func (g *Graph) Edges(beaconID string) []models.BeaconProximity {
	return g.adjacency[beaconID]
}

// Searcher runs the expanding-radius candidate search over the beacon
// graph. Distance is topological: the hop-priority of a candidate is
// the sum of edge priorities along the chain actually traversed.
type Searcher struct {
	graphs GraphSource
	guards GuardSource
	logger *zap.Logger
}

// NewSearcher creates a dispatch searcher.
func NewSearcher(graphs GraphSource, guards GuardSource, logger *zap.Logger) *Searcher {
	return &Searcher{
		graphs: graphs,
		guards: guards,
		logger: logger,
	}
}

// FindCandidateGuards returns up to maxGuards candidates ordered by the
// breadth-first expansion from the origin beacon. For a fixed graph and
// guard snapshot the result is deterministic; ties within a beacon
// break by guard id.
func (s *Searcher) FindCandidateGuards(ctx context.Context, originBeaconID string, maxGuards int, excludeGuardIDs []string) ([]models.CandidateGuard, error) {
	if originBeaconID == "" {
		return nil, fmt.Errorf("origin beacon_id is required")
	}
	if maxGuards <= 0 {
		return nil, fmt.Errorf("max_guards must be positive")
	}

	edges, err := s.graphs.ListProximities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load beacon graph: %w", err)
	}

	guardsByBeacon, err := s.guards.AvailableGuardsByBeacon(ctx, excludeGuardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load available guards: %w", err)
	}

	candidates := searchGraph(NewGraph(edges), guardsByBeacon, originBeaconID, maxGuards)

	s.logger.Debug("Candidate search finished",
		zap.String("origin_beacon_id", originBeaconID),
		zap.Int("max_guards", maxGuards),
		zap.Int("excluded", len(excludeGuardIDs)),
		zap.Int("found", len(candidates)),
	)

	return candidates, nil
}

// searchGraph is the pure breadth-first expansion. Guards found at a
// beacon are collected before that beacon's edges are enqueued, and a
// beacon is never visited twice. The search is bounded by the beacon
// count, so no frontier state is kept between calls.
func searchGraph(g *Graph, guardsByBeacon map[string][]models.GuardProfile, origin string, maxGuards int) []models.CandidateGuard {
	type frame struct {
		beaconID string
		hop      int
		path     []string
	}

	visited := map[string]bool{origin: true}
	queue := []frame{{beaconID: origin, hop: 0, path: []string{origin}}}

	var candidates []models.CandidateGuard
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		found := append([]models.GuardProfile(nil), guardsByBeacon[f.beaconID]...)
		sort.Slice(found, func(i, j int) bool {
			return found[i].GuardID < found[j].GuardID
		})
		for _, guard := range found {
			candidates = append(candidates, models.CandidateGuard{
				Guard:       guard,
				ViaBeaconID: f.beaconID,
				HopPriority: f.hop,
				Path:        f.path,
			})
			if len(candidates) >= maxGuards {
				return candidates
			}
		}

		for _, e := range g.Edges(f.beaconID) {
			if visited[e.ToBeaconID] {
				continue
			}
			visited[e.ToBeaconID] = true
			path := make([]string, 0, len(f.path)+1)
			path = append(path, f.path...)
			path = append(path, e.ToBeaconID)
			queue = append(queue, frame{
				beaconID: e.ToBeaconID,
				hop:      f.hop + e.Priority,
				path:     path,
			})
		}
	}

	return candidates
}
