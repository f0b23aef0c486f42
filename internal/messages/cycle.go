package messages

import (
	"context"

	"github.com/agentcoord/coordhub/internal/store"
)

// checkCycle verifies that giving newID the dependency list deps would
// not create a cycle in the dependency graph (§3 I2), including a
// self-loop. Implemented as bounded DFS over each dependency's existing
// dependency chain with a visited set keyed by message id, per the
// design note in §9 — deliberately not a recursive SQL query, since the
// graph is derived entirely from each row's own dependencies column and
// never materialized as an adjacency table.
func checkCycle(ctx context.Context, q queryFunc, newID string, deps []string) error {
	for _, d := range deps {
		if d == newID {
			return store.ErrCycle
		}
		reached, err := reaches(ctx, q, d, newID, map[string]bool{})
		if err != nil {
			return err
		}
		if reached {
			return store.ErrCycle
		}
	}
	return nil
}

// queryFunc abstracts the one store call the cycle check needs, so
// callers can pass either *sql.DB or *sql.Tx via store.DependencyIDs.
type queryFunc func(ctx context.Context, id string) ([]string, error)

func reaches(ctx context.Context, q queryFunc, start, target string, visited map[string]bool) (bool, error) {
	if start == target {
		return true, nil
	}
	if visited[start] {
		return false, nil
	}
	visited[start] = true

	deps, err := q(ctx, start)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		ok, err := reaches(ctx, q, d, target, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
