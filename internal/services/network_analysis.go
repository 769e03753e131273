package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/celebrum-netinfer/internal/config"
	"github.com/irfndi/celebrum-netinfer/internal/correlation"
	"github.com/irfndi/celebrum-netinfer/internal/embedding"
	"github.com/irfndi/celebrum-netinfer/internal/estimator"
	"github.com/irfndi/celebrum-netinfer/internal/fdr"
	"github.com/irfndi/celebrum-netinfer/internal/logging"
	"github.com/irfndi/celebrum-netinfer/internal/metrics"
	"github.com/irfndi/celebrum-netinfer/internal/models"
	"github.com/irfndi/celebrum-netinfer/internal/network"
	"github.com/irfndi/celebrum-netinfer/internal/preprocess"
	"github.com/irfndi/celebrum-netinfer/internal/significance"
	"github.com/irfndi/celebrum-netinfer/internal/telemetry"
	"github.com/irfndi/celebrum-netinfer/internal/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pipeline stage names used in logs, spans, metrics and timeout errors.
const (
	StagePreprocess   = "preprocess"
	StageCorrelation  = "correlation"
	StageLagScan      = "lag_scan"
	StageSignificance = "significance"
	StageFDR          = "fdr"
	StageGroups       = "groups"
)

// NetworkAnalysisService runs the full inference pipeline over a SeriesSet.
type NetworkAnalysisService struct {
	cfg       config.AnalysisConfig
	logger    *logrus.Logger
	metrics   *metrics.PipelineMetrics
	optimizer *ResourceOptimizer
	timeouts  *TimeoutManager
}

// NewNetworkAnalysisService validates cfg. metrics, optimizer and timeouts
// may be nil.
func NewNetworkAnalysisService(
	cfg config.AnalysisConfig,
	logger *logrus.Logger,
	m *metrics.PipelineMetrics,
	optimizer *ResourceOptimizer,
	timeouts *TimeoutManager,
) (*NetworkAnalysisService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDiscard(logger)
	if optimizer == nil {
		optimizer = NewResourceOptimizer(context.Background(), ResourceOptimizerConfig{}, logger)
	}
	if timeouts == nil {
		timeouts = NewTimeoutManager(nil, logger)
	}
	return &NetworkAnalysisService{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		optimizer: optimizer,
		timeouts:  timeouts,
	}, nil
}

// Config returns the default analysis configuration of the service.
func (s *NetworkAnalysisService) Config() config.AnalysisConfig {
	return s.cfg
}

// Analyze runs the pipeline with the service configuration.
func (s *NetworkAnalysisService) Analyze(ctx context.Context, set *models.SeriesSet) (*models.AnalysisResult, error) {
	return s.AnalyzeWithConfig(ctx, set, s.cfg)
}

// runComponents are the stage implementations built for one configuration.
type runComponents struct {
	preprocessor *preprocess.Preprocessor
	screener     *correlation.Screener
	tester       *significance.Tester
	estimator    estimator.Estimator
	lags         []int
}

func (s *NetworkAnalysisService) components(cfg config.AnalysisConfig) (*runComponents, error) {
	lagCfg := embedding.LagConfig{
		MinSourceLag: cfg.MinLagSources,
		MaxSourceLag: cfg.MaxLagSources,
		MaxTargetLag: cfg.MaxLagTarget,
		SourceTau:    cfg.TauSources,
		TargetTau:    cfg.TauTarget,
		SourceDim:    cfg.SourceEmbeddingDim,
	}
	builder, err := embedding.NewBuilder(lagCfg)
	if err != nil {
		return nil, err
	}

	est, err := estimator.New(cfg.CMIEstimator, estimator.Options{
		K:          cfg.KraskovK,
		NoiseLevel: cfg.NoiseLevel,
		Norm:       estimator.Norm(cfg.DistanceNorm),
		LogBase:    cfg.LogBase,
		Normalise:  true,
	})
	if err != nil {
		return nil, err
	}

	surrogate, err := significance.ParseSurrogateMethod(cfg.SurrogateMethod)
	if err != nil {
		return nil, err
	}
	tester, err := significance.NewTester(builder, est, significance.Config{
		TEThreshold: cfg.TEThreshold,
		Alpha:       cfg.Alpha,
		PermMaxStat: cfg.NPermMaxStat,
		PermMinStat: cfg.NPermMinStat,
		PermOmnibus: cfg.NPermOmnibus,
		Surrogate:   surrogate,
		Seed:        cfg.Seed,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	pre, err := preprocess.New(preprocess.Options{
		MaxSeries:       cfg.MaxTokens,
		Window:          time.Duration(cfg.TimeHours) * time.Hour,
		MinPrice:        cfg.MinPrice,
		SmoothingPeriod: cfg.PriceSmoothingPeriod,
		OutlierStd:      cfg.OutlierStd,
		Standardize:     cfg.Standardize,
		MinSamples:      lagCfg.MinimumSeriesLength(cfg.KraskovK),
	}, s.logger)
	if err != nil {
		return nil, err
	}

	screener, err := correlation.NewScreener(cfg.CorrelationThreshold)
	if err != nil {
		return nil, err
	}

	return &runComponents{
		preprocessor: pre,
		screener:     screener,
		tester:       tester,
		estimator:    est,
		lags:         lagCfg.SourceLags(),
	}, nil
}

// AnalyzeWithConfig runs the pipeline with cfg. The only run-level failures
// are invalid input or configuration, preprocessing leaving fewer than two
// series, and the run deadline (AnalysisTimeoutError).
func (s *NetworkAnalysisService) AnalyzeWithConfig(ctx context.Context, set *models.SeriesSet, cfg config.AnalysisConfig) (*models.AnalysisResult, error) {
	if set == nil {
		return nil, utils.NewValidationError("series set is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, utils.NewValidationError(err.Error())
	}
	comp, err := s.components(cfg)
	if err != nil {
		return nil, err
	}
	threads, err := cfg.Threads()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pc := pipelineContext{
		runID:   uuid.NewString(),
		cfg:     cfg,
		workers: s.optimizer.ResolveWorkers(threads),
	}
	log := s.logger.WithFields(logrus.Fields{"component": "network_analysis", "run_id": pc.runID})

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = NoTimeout
	}
	op := s.timeouts.Start(ctx, OperationAnalysis, pc.runID, timeout)
	defer s.timeouts.CompleteOperation(pc.runID)
	ctx, span := telemetry.StartStage(op.Ctx, "analysis",
		attribute.String("run_id", pc.runID),
		attribute.Int("workers", pc.workers),
	)
	defer span.End()

	s.metrics.RunStarted()
	log.WithFields(logrus.Fields{
		"series":    len(set.OrderedIDs()),
		"workers":   pc.workers,
		"estimator": comp.estimator.Name(),
	}).Info("Starting network analysis")

	pc, err = s.run(ctx, pc, comp, set, log)
	if err != nil {
		status := "failed"
		if utils.IsTimeout(err) {
			status = "timeout"
		}
		s.metrics.RunFinished(status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Network analysis failed")
		return nil, err
	}

	result := s.buildResult(pc, comp, set, time.Since(start))
	s.metrics.RunFinished("ok")
	s.metrics.SetEdges(result.Summary.RawSignificantEdges, result.Summary.TransferEntropyEdges)
	log.WithFields(logrus.Fields{
		"te_edges":    result.Summary.TransferEntropyEdges,
		"corr_pairs":  result.Summary.HighlyCorrelatedPairs,
		"groups":      result.Summary.AssetGroups,
		"duration_ms": result.Summary.Duration.Milliseconds(),
	}).Info("Network analysis finished")
	return result, nil
}

func (s *NetworkAnalysisService) run(ctx context.Context, pc pipelineContext, comp *runComponents, set *models.SeriesSet, log *logrus.Entry) (pipelineContext, error) {
	var err error
	stages := []struct {
		name string
		fn   func(context.Context, pipelineContext) (pipelineContext, error)
	}{
		{StagePreprocess, func(_ context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.preprocess(pc, comp, set)
		}},
		{StageCorrelation, func(_ context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.screen(pc, comp), nil
		}},
		{StageLagScan, func(ctx context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.scanLags(ctx, pc, comp)
		}},
		{StageSignificance, func(ctx context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.testPairs(ctx, pc, comp)
		}},
		{StageFDR, func(_ context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.correct(pc)
		}},
		{StageGroups, func(_ context.Context, pc pipelineContext) (pipelineContext, error) {
			return s.group(pc)
		}},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return pc, s.interrupted(st.name, 0, 0, err)
		}
		stageCtx, span := telemetry.StartStage(ctx, st.name)
		began := time.Now()
		pc, err = st.fn(stageCtx, pc)
		elapsed := time.Since(began)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return pc, err
		}
		span.End()
		s.metrics.ObserveStage(st.name, elapsed)
		logging.LogStage(log, st.name, elapsed, s.stageFields(st.name, pc))
	}
	return pc, nil
}

func (s *NetworkAnalysisService) stageFields(stage string, pc pipelineContext) logrus.Fields {
	switch stage {
	case StagePreprocess:
		return logrus.Fields{"series": len(pc.returns.IDs), "samples": pc.returns.Len(), "excluded": len(pc.excluded)}
	case StageCorrelation:
		return logrus.Fields{"pairs": len(pc.correlation.Pairs), "candidates": len(pc.pairs), "density": pc.correlation.Density}
	case StageLagScan:
		return logrus.Fields{"pairs": len(pc.scans)}
	case StageSignificance:
		return logrus.Fields{"outcomes": len(pc.outcomes)}
	case StageFDR:
		return logrus.Fields{"family": pc.familySize, "raw_edges": len(pc.rawEdges), "significant": len(pc.significant)}
	default:
		return logrus.Fields{"groups": len(pc.groups)}
	}
}

func (s *NetworkAnalysisService) preprocess(pc pipelineContext, comp *runComponents, set *models.SeriesSet) (pipelineContext, error) {
	returns, excluded, err := comp.preprocessor.Process(set)
	for _, e := range excluded {
		s.metrics.Excluded(e.Kind, e.Reason)
	}
	if err != nil {
		return pc, err
	}
	return pc.withReturns(returns, excluded), nil
}

func (s *NetworkAnalysisService) screen(pc pipelineContext, comp *runComponents) pipelineContext {
	res := comp.screener.Screen(pc.returns)
	ordered := res.OrderedPairs(pc.cfg.Prefilter)
	pairs := make([]significance.Pair, len(ordered))
	for i, p := range ordered {
		pairs[i] = significance.Pair{
			Source:       p[0],
			Target:       p[1],
			SourceValues: pc.returns.Series(p[0]),
			TargetValues: pc.returns.Series(p[1]),
		}
	}
	var skipped []models.Exclusion
	if pc.cfg.Prefilter {
		for _, p := range res.OrderedPairs(false) {
			if res.Correlated(p[0], p[1]) {
				continue
			}
			skipped = append(skipped, pairExclusion(p[0], p[1], models.ReasonNotCorrelated))
			s.metrics.Excluded(models.ExclusionPair, models.ReasonNotCorrelated)
		}
	}
	return pc.withCorrelation(res, pairs, skipped)
}

// scanLags estimates every (pair, lag) statistic on the worker pool.
func (s *NetworkAnalysisService) scanLags(ctx context.Context, pc pipelineContext, comp *runComponents) (pipelineContext, error) {
	nLags := len(comp.lags)
	scans := make([][]significance.LagResult, len(pc.pairs))
	for i := range scans {
		scans[i] = make([]significance.LagResult, nLags)
	}

	total := len(pc.pairs) * nLags
	completed, err := runTasks(ctx, pc.workers, total, func(_ context.Context, i int) error {
		p, l := i/nLags, i%nLags
		lag := comp.lags[l]
		v, err := comp.tester.LagStatistic(pc.pairs[p], lag)
		scans[p][l] = significance.LagResult{Lag: lag, Value: v, Err: err}
		return nil
	})
	s.metrics.AddEstimations(completed)
	if err != nil {
		return pc, s.interrupted(StageLagScan, completed, total, err)
	}
	return pc.withScans(scans), nil
}

// testPairs runs the surrogate tests of every pair on the worker pool.
func (s *NetworkAnalysisService) testPairs(ctx context.Context, pc pipelineContext, comp *runComponents) (pipelineContext, error) {
	outcomes := make([]models.PairOutcome, len(pc.pairs))
	completed, err := runTasks(ctx, pc.workers, len(pc.pairs), func(ctx context.Context, i int) error {
		out, err := comp.tester.Evaluate(ctx, pc.pairs[i], pc.scans[i])
		if err != nil {
			return err
		}
		outcomes[i] = out
		return nil
	})
	if err != nil {
		return pc, s.interrupted(StageSignificance, completed, len(pc.pairs), err)
	}
	for _, o := range outcomes {
		s.metrics.PairFinished(string(o.State))
		if o.State == models.PairRejected && o.Reason == models.ReasonDegenerateInput {
			s.metrics.Excluded(models.ExclusionPair, o.Reason)
		}
	}
	return pc.withOutcomes(outcomes), nil
}

// correct applies Benjamini-Hochberg across every pair that reached the
// omnibus test; the final flag needs both the raw test and the correction.
func (s *NetworkAnalysisService) correct(pc pipelineContext) (pipelineContext, error) {
	var family []models.TransferEntropyEdge
	for _, o := range pc.outcomes {
		if o.Edge != nil {
			family = append(family, *o.Edge)
		}
	}
	pValues := make([]float64, len(family))
	for i, e := range family {
		pValues[i] = e.PValue
	}
	res, err := fdr.BenjaminiHochberg(pValues, pc.cfg.FDRAlpha)
	if err != nil {
		return pc, err
	}

	var raw, significant []models.TransferEntropyEdge
	for i, e := range family {
		e.SelectedLags = slices.Clone(e.SelectedLags)
		e.QValue = res.Adjusted[i]
		e.Significant = e.SignificantRaw && res.Rejected[i]
		raw = append(raw, e)
		if e.Significant {
			significant = append(significant, e)
		}
	}
	sortEdges(raw)
	sortEdges(significant)
	return pc.withEdges(raw, significant, len(family)), nil
}

func (s *NetworkAnalysisService) group(pc pipelineContext) (pipelineContext, error) {
	g, err := network.Build(pc.returns.IDs, pc.correlation.Pairs, pc.significant)
	if err != nil {
		return pc, err
	}
	groups := network.Identify(g, network.GroupOptions{
		HighCorrelation:   pc.cfg.GroupHighCorrelation,
		MediumCorrelation: pc.cfg.GroupMediumCorrelation,
		HighTEQuantile:    pc.cfg.GroupHighTEQuantile,
		MediumTEQuantile:  pc.cfg.GroupMediumTEQuantile,
	})
	return pc.withGroups(groups, g.Influence()), nil
}

// interrupted maps a context error to the run-level failure.
func (s *NetworkAnalysisService) interrupted(stage string, completed, total int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewAnalysisTimeoutError(stage, completed, total, err)
	}
	return fmt.Errorf("analysis %s interrupted: %w", stage, err)
}

func (s *NetworkAnalysisService) buildResult(pc pipelineContext, comp *runComponents, set *models.SeriesSet, elapsed time.Duration) *models.AnalysisResult {
	rawSignificant := 0
	for _, e := range pc.rawEdges {
		if e.SignificantRaw {
			rawSignificant++
		}
	}

	return &models.AnalysisResult{
		RunID:       pc.runID,
		GeneratedAt: time.Now().UTC(),
		Config:      pc.cfg,
		Summary: models.AnalysisSummary{
			TotalAssets:           len(pc.returns.IDs),
			SampleCount:           pc.returns.Len(),
			HighlyCorrelatedPairs: len(pc.correlation.Pairs),
			TestedPairs:           len(pc.pairs),
			TransferEntropyEdges:  len(pc.significant),
			RawSignificantEdges:   rawSignificant,
			FDRFamilySize:         pc.familySize,
			AssetGroups:           len(pc.groups),
			NetworkDensity:        pc.correlation.Density,
			Estimator:             comp.estimator.Name(),
			KraskovK:              pc.cfg.KraskovK,
			Workers:               pc.workers,
			PermutationsMaxStat:   pc.cfg.NPermMaxStat,
			PermutationsMinStat:   pc.cfg.NPermMinStat,
			PermutationsOmnibus:   pc.cfg.NPermOmnibus,
			Duration:              elapsed,
		},
		CorrelationPairs:     pc.correlation.Pairs,
		CorrelationIDs:       pc.correlation.IDs,
		CorrelationMatrix:    pc.correlation.Matrix,
		TransferEntropyEdges: pc.significant,
		RawEdges:             pc.rawEdges,
		Pairs:                pc.outcomes,
		Groups:               pc.groups,
		Influence:            pc.influence,
		Excluded:             pc.excluded,
	}
}

// sortEdges orders by statistic descending, then source and target.
func sortEdges(edges []models.TransferEntropyEdge) {
	slices.SortFunc(edges, func(a, b models.TransferEntropyEdge) int {
		if c := cmp.Compare(b.Statistic, a.Statistic); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
}
