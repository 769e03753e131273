// Package network assembles the correlation and transfer entropy graphs of a
// run and extracts groups of associated items from them.
package network

import (
	"slices"

	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// Graphs holds both views over one node set. Node ids index IDs.
type Graphs struct {
	IDs             []string
	Correlation     *simple.WeightedUndirectedGraph
	TransferEntropy *simple.WeightedDirectedGraph

	index map[string]int64
}

// Build creates the undirected correlation graph from pairs and the directed
// transfer entropy graph from the significant edges.
func Build(ids []string, pairs []models.CandidatePair, edges []models.TransferEntropyEdge) (*Graphs, error) {
	g := &Graphs{
		IDs:             slices.Clone(ids),
		Correlation:     simple.NewWeightedUndirectedGraph(0, 0),
		TransferEntropy: simple.NewWeightedDirectedGraph(0, 0),
		index:           make(map[string]int64, len(ids)),
	}
	for i, id := range g.IDs {
		if _, dup := g.index[id]; dup {
			return nil, utils.NewValidationErrorf("duplicate node id %q", id)
		}
		g.index[id] = int64(i)
		g.Correlation.AddNode(simple.Node(i))
		g.TransferEntropy.AddNode(simple.Node(i))
	}

	for _, p := range pairs {
		u, v, err := g.nodes(p.Source, p.Target)
		if err != nil {
			return nil, err
		}
		g.Correlation.SetWeightedEdge(g.Correlation.NewWeightedEdge(u, v, p.Correlation))
	}
	for _, e := range edges {
		if !e.Significant {
			continue
		}
		u, v, err := g.nodes(e.Source, e.Target)
		if err != nil {
			return nil, err
		}
		g.TransferEntropy.SetWeightedEdge(g.TransferEntropy.NewWeightedEdge(u, v, e.Statistic))
	}
	return g, nil
}

func (g *Graphs) nodes(a, b string) (graph.Node, graph.Node, error) {
	u, ok := g.index[a]
	if !ok {
		return nil, nil, utils.NewValidationErrorf("unknown node %q", a)
	}
	v, ok := g.index[b]
	if !ok {
		return nil, nil, utils.NewValidationErrorf("unknown node %q", b)
	}
	if u == v {
		return nil, nil, utils.NewValidationErrorf("self edge on %q", a)
	}
	return simple.Node(u), simple.Node(v), nil
}

// ID returns the item id of node n.
func (g *Graphs) ID(n int64) string {
	return g.IDs[n]
}

// Influence returns, in node order, the number of significant outgoing and
// incoming transfer entropy edges of every item.
func (g *Graphs) Influence() []models.NodeInfluence {
	out := make([]models.NodeInfluence, len(g.IDs))
	for i, id := range g.IDs {
		out[i] = models.NodeInfluence{
			ID:        id,
			OutDegree: g.TransferEntropy.From(int64(i)).Len(),
			InDegree:  g.TransferEntropy.To(int64(i)).Len(),
		}
	}
	return out
}
