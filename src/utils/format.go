package utils

import (
	"fmt"
	"strings"
	"time"

	"futuresbot/src/strategy"
)

// FormatSummary renders a run summary for the terminal.
func FormatSummary(s strategy.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s %s [%s] ===\n", strings.ToUpper(string(s.Strategy)), s.Symbol, s.Status)
	fmt.Fprintf(&b, "run id:    %s\n", s.RunID)
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "elapsed:   %s\n", s.FinishedAt.Sub(s.StartedAt).Truncate(time.Second))
	}

	fmt.Fprintf(&b, "orders:    placed=%d filled=%d partial=%d open=%d canceled=%d rejected=%d expired=%d\n",
		s.Placed, s.Filled, s.PartiallyFilled, s.Open, s.Canceled, s.Rejected, s.Expired)
	fmt.Fprintf(&b, "executed:  bought=%s sold=%s net=%s\n", s.BoughtQty, s.SoldQty, s.NetQty)
	if s.FilledQty().IsPositive() {
		fmt.Fprintf(&b, "avg price: %s\n", s.AvgPrice.StringFixed(2))
	}

	switch s.Strategy {
	case strategy.KindGrid:
		fmt.Fprintf(&b, "grid:      round trips=%d profit=%s unfilled=%d\n", s.RoundTrips, s.GridProfit.StringFixed(4), s.Unfilled)
	case strategy.KindOCO:
		fmt.Fprintf(&b, "outcome:   %s\n", s.Outcome)
		if s.HasPnL {
			fmt.Fprintf(&b, "pnl:       %s\n", s.RealizedPnL.StringFixed(4))
		}
	}

	if len(s.Succeeded) > 0 {
		fmt.Fprintf(&b, "succeeded: %d\n", len(s.Succeeded))
		for _, line := range s.Succeeded {
			fmt.Fprintf(&b, "  + %s\n", line)
		}
	}
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, "failed:    %d\n", len(s.Failures))
		for _, line := range s.Failures {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "error:     %s\n", s.Error)
	}
	return b.String()
}
