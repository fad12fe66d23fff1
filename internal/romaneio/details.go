package romaneio

import (
	"fmt"
	"strings"
)

// DivergenceLines renders one line per diverging item.
func DivergenceLines(items []Item) []string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item.QuantityCounted == nil {
			lines = append(lines, fmt.Sprintf("  - %s: not counted", item.Code))
			continue
		}
		diff := *item.QuantityCounted - item.QuantityInvoiced
		lines = append(lines, fmt.Sprintf("  - %s: invoiced=%d, counted=%d (diff: %+d)", item.Code, item.QuantityInvoiced, *item.QuantityCounted, diff))
	}
	return lines
}

// DivergenceDetails is the log text for a divergent attempt that may be retried.
func DivergenceDetails(items []Item) string {
	return "Divergences found:\n" + strings.Join(DivergenceLines(items), "\n")
}

// MaxAttemptsDetails is the log text once the retry budget is spent.
func MaxAttemptsDetails(attempt int, items []Item) string {
	return fmt.Sprintf("Maximum attempts reached (%d).\n\nPersistent divergences:\n%s", attempt, strings.Join(DivergenceLines(items), "\n"))
}

// MatchedDetails is the log text for a successful reconciliation.
func MatchedDetails(status Status) string {
	return fmt.Sprintf("All quantities match. Status updated to %s.", status.Label())
}
