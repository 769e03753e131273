package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportPrecision is the number of decimal places kept in report values.
const ReportPrecision int32 = 6

// CorrelationPairReport is the serialized form of a CandidatePair.
type CorrelationPairReport struct {
	Asset1         string          `json:"asset1"`
	Asset2         string          `json:"asset2"`
	Correlation    decimal.Decimal `json:"correlation"`
	AbsCorrelation decimal.Decimal `json:"abs_correlation"`
}

// TEConnectionReport is the serialized form of a significant TransferEntropyEdge.
type TEConnectionReport struct {
	Source           string          `json:"source"`
	Target           string          `json:"target"`
	Lag              int             `json:"lag"`
	TransferEntropy  decimal.Decimal `json:"transfer_entropy"`
	PValue           decimal.Decimal `json:"p_value"`
	QValue           decimal.Decimal `json:"q_value"`
	OmnibusPValue    decimal.Decimal `json:"omnibus_p_value"`
	SignificantAfter bool            `json:"significant_after_fdr"`
}

// AnalysisReport is the decimal-rounded view of an AnalysisResult handed to
// the API and CLI.
type AnalysisReport struct {
	RunID            string                  `json:"run_id"`
	GeneratedAt      time.Time               `json:"generated_at"`
	Summary          AnalysisSummary         `json:"summary"`
	CorrelationPairs []CorrelationPairReport `json:"correlation_pairs"`
	TEConnections    []TEConnectionReport    `json:"te_connections"`
	Groups           []AssetGroup            `json:"asset_combinations"`
	Influence        []NodeInfluence         `json:"influence"`
	Excluded         []Exclusion             `json:"excluded"`
}

// NewAnalysisReport converts a result into report records.
func NewAnalysisReport(result *AnalysisResult) *AnalysisReport {
	report := &AnalysisReport{
		RunID:            result.RunID,
		GeneratedAt:      result.GeneratedAt,
		Summary:          result.Summary,
		CorrelationPairs: make([]CorrelationPairReport, 0, len(result.CorrelationPairs)),
		TEConnections:    make([]TEConnectionReport, 0, len(result.TransferEntropyEdges)),
		Groups:           result.Groups,
		Influence:        result.Influence,
		Excluded:         result.Excluded,
	}

	for _, p := range result.CorrelationPairs {
		report.CorrelationPairs = append(report.CorrelationPairs, CorrelationPairReport{
			Asset1:         p.Source,
			Asset2:         p.Target,
			Correlation:    round(p.Correlation),
			AbsCorrelation: round(p.AbsCorrelation()),
		})
	}

	for _, e := range result.TransferEntropyEdges {
		report.TEConnections = append(report.TEConnections, TEConnectionReport{
			Source:           e.Source,
			Target:           e.Target,
			Lag:              e.BestLag,
			TransferEntropy:  round(e.Statistic),
			PValue:           round(e.PValue),
			QValue:           round(e.QValue),
			OmnibusPValue:    round(e.OmnibusPValue),
			SignificantAfter: e.Significant,
		})
	}

	if report.Groups == nil {
		report.Groups = []AssetGroup{}
	}
	if report.Influence == nil {
		report.Influence = []NodeInfluence{}
	}
	if report.Excluded == nil {
		report.Excluded = []Exclusion{}
	}

	return report
}

func round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(ReportPrecision)
}
