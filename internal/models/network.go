package models

import (
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/config"
)

// CandidatePair is an unordered pair whose linear association passed the
// correlation threshold. Source sorts before Target.
type CandidatePair struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Correlation float64 `json:"correlation"`
}

// AbsCorrelation returns |Correlation|.
func (p CandidatePair) AbsCorrelation() float64 {
	if p.Correlation < 0 {
		return -p.Correlation
	}
	return p.Correlation
}

// PairState tracks how far an ordered pair progressed through significance testing.
type PairState string

const (
	PairScreened       PairState = "screened"
	PairEmbeddingBuilt PairState = "embedding_built"
	PairOmnibusTested  PairState = "omnibus_tested"
	PairLagTested      PairState = "lag_tested"
	PairRawEdge        PairState = "raw_edge"
	PairRejected       PairState = "rejected"
)

// Rejection reasons recorded for pairs that never became edges.
const (
	ReasonDegenerateInput       = "degenerate_input"
	ReasonBelowTEThreshold      = "below_te_threshold"
	ReasonOmnibusNotSignificant = "omnibus_not_significant"
	ReasonNotCorrelated         = "not_correlated"
)

// TransferEntropyEdge is a directed source -> target influence edge.
type TransferEntropyEdge struct {
	Source         string  `json:"source"`
	Target         string  `json:"target"`
	BestLag        int     `json:"best_lag"`
	MinLag         int     `json:"min_lag"`
	Statistic      float64 `json:"statistic"`
	PValue         float64 `json:"p_value"`
	OmnibusValue   float64 `json:"omnibus_statistic"`
	OmnibusPValue  float64 `json:"omnibus_p_value"`
	SelectedLags   []int   `json:"selected_lags"`
	QValue         float64 `json:"q_value"`
	SignificantRaw bool    `json:"significant_raw"`
	Significant    bool    `json:"significant"`
}

// NodeInfluence counts the significant transfer entropy edges leaving and
// entering one item.
type NodeInfluence struct {
	ID        string `json:"id"`
	OutDegree int    `json:"out_degree"`
	InDegree  int    `json:"in_degree"`
}

// PairOutcome is the terminal state of one ordered pair. Reached is the last
// state passed before the terminal one.
type PairOutcome struct {
	Source  string               `json:"source"`
	Target  string               `json:"target"`
	State   PairState            `json:"state"`
	Reached PairState            `json:"reached,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Edge    *TransferEntropyEdge `json:"edge,omitempty"`
	// LagStatistics holds the raw statistic per candidate lag.
	LagStatistics map[int]float64 `json:"lag_statistics,omitempty"`
}

// GroupType says which edge kinds connect a group.
type GroupType string

const (
	GroupCorrelationOnly     GroupType = "correlation_only"
	GroupTransferEntropyOnly GroupType = "transfer_entropy_only"
	GroupCombined            GroupType = "combined"
)

// StrengthClass is the tier of a group's strongest edge.
type StrengthClass string

const (
	StrengthHigh   StrengthClass = "high"
	StrengthMedium StrengthClass = "medium"
	StrengthLow    StrengthClass = "low"
)

// AssetGroup is a connected component of mutually associated items.
type AssetGroup struct {
	Assets   []string      `json:"assets"`
	Type     GroupType     `json:"type"`
	Strength StrengthClass `json:"strength"`
	Size     int           `json:"size"`
}

// Exclusion kinds.
const (
	ExclusionSeries = "series"
	ExclusionPair   = "pair"
)

// Exclusion records a series or pair left out of the run and why.
type Exclusion struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// AnalysisSummary carries run-level counts for reporting.
type AnalysisSummary struct {
	TotalAssets           int           `json:"total_assets"`
	SampleCount           int           `json:"sample_count"`
	HighlyCorrelatedPairs int           `json:"highly_correlated_pairs"`
	TestedPairs           int           `json:"tested_pairs"`
	TransferEntropyEdges  int           `json:"te_connections"`
	RawSignificantEdges   int           `json:"raw_significant_edges"`
	FDRFamilySize         int           `json:"fdr_family_size"`
	AssetGroups           int           `json:"asset_combinations"`
	NetworkDensity        float64       `json:"network_density"`
	Estimator             string        `json:"estimator"`
	KraskovK              int           `json:"kraskov_k"`
	Workers               int           `json:"workers"`
	PermutationsMaxStat   int           `json:"n_perm_max_stat"`
	PermutationsMinStat   int           `json:"n_perm_min_stat"`
	PermutationsOmnibus   int           `json:"n_perm_omnibus"`
	Duration              time.Duration `json:"duration_ns"`
}

// AnalysisResult is everything the reporting side consumes from one run.
type AnalysisResult struct {
	RunID                string                `json:"run_id"`
	GeneratedAt          time.Time             `json:"generated_at"`
	Config               config.AnalysisConfig `json:"config"`
	Summary              AnalysisSummary       `json:"summary"`
	CorrelationPairs     []CandidatePair       `json:"correlation_pairs"`
	CorrelationIDs       []string              `json:"correlation_ids"`
	CorrelationMatrix    [][]float64           `json:"correlation_matrix"`
	TransferEntropyEdges []TransferEntropyEdge `json:"te_connections"`
	RawEdges             []TransferEntropyEdge `json:"raw_edges"`
	Pairs                []PairOutcome         `json:"pairs"`
	Groups               []AssetGroup          `json:"asset_combinations"`
	Influence            []NodeInfluence       `json:"influence"`
	Excluded             []Exclusion           `json:"excluded"`
}
