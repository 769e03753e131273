package network

import (
	"math"
	"slices"
	"strings"

	"github.com/irfndi/celebrum-netinfer/internal/models"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"
)

// GroupOptions sets the strength tier cutoffs.
type GroupOptions struct {
	HighCorrelation   float64
	MediumCorrelation float64
	// TE cutoffs are quantiles of all significant TE statistics in the run.
	HighTEQuantile   float64
	MediumTEQuantile float64
}

// DefaultGroupOptions returns high >= 0.8 / medium >= 0.7 on |correlation|
// and top quartile / upper half on transfer entropy.
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{
		HighCorrelation:   0.8,
		MediumCorrelation: 0.7,
		HighTEQuantile:    0.75,
		MediumTEQuantile:  0.5,
	}
}

// Identify merges items connected by an edge of either graph into groups.
// Singletons are left out. Groups are ordered by size, then first asset.
func Identify(g *Graphs, opts GroupOptions) []models.AssetGroup {
	union := simple.NewUndirectedGraph()
	for i := range g.IDs {
		union.AddNode(simple.Node(i))
	}
	corrEdges := g.Correlation.WeightedEdges()
	for corrEdges.Next() {
		e := corrEdges.WeightedEdge()
		union.SetEdge(union.NewEdge(e.From(), e.To()))
	}

	var teWeights []float64
	teEdges := g.TransferEntropy.WeightedEdges()
	for teEdges.Next() {
		e := teEdges.WeightedEdge()
		teWeights = append(teWeights, e.Weight())
		if !union.HasEdgeBetween(e.From().ID(), e.To().ID()) {
			union.SetEdge(union.NewEdge(e.From(), e.To()))
		}
	}
	teHigh, teMedium := math.Inf(1), math.Inf(1)
	if len(teWeights) > 0 {
		slices.Sort(teWeights)
		teHigh = stat.Quantile(opts.HighTEQuantile, stat.Empirical, teWeights, nil)
		teMedium = stat.Quantile(opts.MediumTEQuantile, stat.Empirical, teWeights, nil)
	}

	var groups []models.AssetGroup
	for _, comp := range topo.ConnectedComponents(union) {
		if len(comp) < 2 {
			continue
		}
		members := make(map[int64]bool, len(comp))
		assets := make([]string, 0, len(comp))
		for _, n := range comp {
			members[n.ID()] = true
			assets = append(assets, g.ID(n.ID()))
		}
		slices.Sort(assets)

		var hasCorr, hasTE bool
		tier := models.StrengthLow
		corr := g.Correlation.WeightedEdges()
		for corr.Next() {
			e := corr.WeightedEdge()
			if !members[e.From().ID()] {
				continue
			}
			hasCorr = true
			tier = stronger(tier, classify(math.Abs(e.Weight()), opts.HighCorrelation, opts.MediumCorrelation))
		}
		te := g.TransferEntropy.WeightedEdges()
		for te.Next() {
			e := te.WeightedEdge()
			if !members[e.From().ID()] {
				continue
			}
			hasTE = true
			tier = stronger(tier, classify(e.Weight(), teHigh, teMedium))
		}

		groups = append(groups, models.AssetGroup{
			Assets:   assets,
			Type:     groupType(hasCorr, hasTE),
			Strength: tier,
			Size:     len(assets),
		})
	}

	slices.SortFunc(groups, func(a, b models.AssetGroup) int {
		if a.Size != b.Size {
			return b.Size - a.Size
		}
		return strings.Compare(a.Assets[0], b.Assets[0])
	})
	return groups
}

func classify(w, high, medium float64) models.StrengthClass {
	switch {
	case w >= high:
		return models.StrengthHigh
	case w >= medium:
		return models.StrengthMedium
	default:
		return models.StrengthLow
	}
}

var tierRank = map[models.StrengthClass]int{
	models.StrengthLow:    0,
	models.StrengthMedium: 1,
	models.StrengthHigh:   2,
}

func stronger(a, b models.StrengthClass) models.StrengthClass {
	if tierRank[b] > tierRank[a] {
		return b
	}
	return a
}

func groupType(hasCorr, hasTE bool) models.GroupType {
	switch {
	case hasCorr && hasTE:
		return models.GroupCombined
	case hasTE:
		return models.GroupTransferEntropyOnly
	default:
		return models.GroupCorrelationOnly
	}
}
