package interfaces

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/irfndi/celebrum-netinfer/internal/models"
)

// SeriesRequest selects hourly price series for an analysis run.
type SeriesRequest struct {
	Symbols []string `json:"symbols" binding:"required,min=2,dive,required"`
	Hours   int      `json:"hours" binding:"gte=0"`
	// Until is the exclusive end of the window; zero means the latest stored hour.
	Until time.Time `json:"until,omitempty"`
}

// Normalized returns a copy with trimmed, upper-cased, sorted and de-duplicated symbols.
func (r SeriesRequest) Normalized() SeriesRequest {
	seen := make(map[string]bool, len(r.Symbols))
	symbols := make([]string, 0, len(r.Symbols))
	for _, s := range r.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	r.Symbols = symbols
	return r
}

// SeriesSource loads a SeriesSet for a request.
type SeriesSource interface {
	LoadSeries(ctx context.Context, req SeriesRequest) (*models.SeriesSet, error)
}
