package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcoord/coordhub/internal/store"
)

// graphQuery builds a queryFunc backed by a plain adjacency map, letting
// the cycle check be tested without a store.
func graphQuery(graph map[string][]string) queryFunc {
	return func(_ context.Context, id string) ([]string, error) {
		return graph[id], nil
	}
}

func TestCheckCycleRejectsSelfLoop(t *testing.T) {
	q := graphQuery(nil)
	err := checkCycle(context.Background(), q, "A", []string{"A"})
	require.ErrorIs(t, err, store.ErrCycle)
}

func TestCheckCycleRejectsIndirectCycle(t *testing.T) {
	// B depends on A, A depends on C: giving C a dependency on B would
	// close the loop C -> B -> A -> C.
	graph := map[string][]string{
		"B": {"A"},
		"A": {"C"},
	}
	q := graphQuery(graph)
	err := checkCycle(context.Background(), q, "C", []string{"B"})
	require.ErrorIs(t, err, store.ErrCycle)
}

func TestCheckCycleAllowsAcyclicChain(t *testing.T) {
	graph := map[string][]string{
		"B": {"A"},
	}
	q := graphQuery(graph)
	err := checkCycle(context.Background(), q, "C", []string{"B"})
	require.NoError(t, err)
}
