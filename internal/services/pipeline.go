package services

import (
	"github.com/irfndi/celebrum-netinfer/internal/config"
	"github.com/irfndi/celebrum-netinfer/internal/correlation"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/significance"
)

// pipelineContext is the value threaded through the analysis stages. Stages
// never modify a context they receive; each returns an extended copy.
type pipelineContext struct {
	runID   string
	cfg     config.AnalysisConfig
	workers int

	returns  *models.ReturnSeries
	excluded []models.Exclusion

	correlation correlation.Result
	pairs       []significance.Pair

	scans    [][]significance.LagResult
	outcomes []models.PairOutcome

	rawEdges    []models.TransferEntropyEdge
	significant []models.TransferEntropyEdge
	familySize  int
	groups      []models.AssetGroup
	influence   []models.NodeInfluence
}

func (c pipelineContext) withReturns(r *models.ReturnSeries, excluded []models.Exclusion) pipelineContext {
	c.returns = r
	c.excluded = append(append([]models.Exclusion(nil), c.excluded...), excluded...)
	return c
}

func (c pipelineContext) withCorrelation(res correlation.Result, pairs []significance.Pair, skipped []models.Exclusion) pipelineContext {
	c.correlation = res
	c.pairs = pairs
	c.excluded = append(append([]models.Exclusion(nil), c.excluded...), skipped...)
	return c
}

func (c pipelineContext) withScans(scans [][]significance.LagResult) pipelineContext {
	c.scans = scans
	return c
}

func (c pipelineContext) withOutcomes(outcomes []models.PairOutcome) pipelineContext {
	c.outcomes = outcomes
	excluded := append([]models.Exclusion(nil), c.excluded...)
	for _, o := range outcomes {
		if o.State == models.PairRejected && o.Reason == models.ReasonDegenerateInput {
			excluded = append(excluded, pairExclusion(o.Source, o.Target, o.Reason))
		}
	}
	c.excluded = excluded
	return c
}

func (c pipelineContext) withEdges(raw, significant []models.TransferEntropyEdge, familySize int) pipelineContext {
	c.rawEdges = raw
	c.significant = significant
	c.familySize = familySize
	return c
}

func (c pipelineContext) withGroups(groups []models.AssetGroup, influence []models.NodeInfluence) pipelineContext {
	c.groups = groups
	c.influence = influence
	return c
}

func pairExclusion(source, target, reason string) models.Exclusion {
	return models.Exclusion{Kind: models.ExclusionPair, ID: source + "->" + target, Reason: reason}
}
