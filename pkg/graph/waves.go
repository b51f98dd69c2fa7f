// pkg/graph/waves.go

package graph

import "github.com/fulcrumsec/tenantctl/pkg/config"

// Waves partitions the deployment order into consecutive groups of mutually
// independent items of the same kind-precedence rank. Members of one wave
// have no edges between them and may be applied concurrently; waves
// themselves run strictly in sequence.
func (g *Graph) Waves() [][]config.Ref {
	order := g.Order()
	var waves [][]config.Ref

	var current []config.Ref
	inCurrent := make(map[config.Ref]bool)

	flush := func() {
		if len(current) > 0 {
			waves = append(waves, current)
			current = nil
			inCurrent = make(map[config.Ref]bool)
		}
	}

	for _, ref := range order {
		sameRank := len(current) == 0 || ref.Kind.PrecedenceRank() == current[0].Kind.PrecedenceRank()
		independent := true
		for _, dep := range g.deps[ref] {
			if inCurrent[dep] {
				independent = false
				break
			}
		}
		if !sameRank || !independent {
			flush()
		}
		current = append(current, ref)
		inCurrent[ref] = true
	}
	flush()

	return waves
}
