package ingest

import "github.com/johnayoung/go-liquidity-mapper/internal/analysis"

// Session carries the mutable state of one interactive run: the symbol
// under inspection and the most recent results. It is a plain value owned
// by the caller, not shared process state.
type Session struct {
	BaseAsset string
	Symbol    string

	LastReport  *IngestReport
	LastResult  *analysis.Result
	LastFunding *analysis.FundingSummary
}

// Ready reports whether a symbol has been resolved for this session.
func (s *Session) Ready() bool {
	return s.Symbol != ""
}
