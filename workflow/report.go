package workflow

import (
	"fmt"
	"strings"
	"time"
)

// FormatResult returns a human-readable summary of a run
func FormatResult(result *WorkflowResult) string {
	if result == nil || (len(result.Results) == 0 && len(result.SkippedNodeIDs) == 0) {
		return "No nodes executed"
	}

	var b strings.Builder
	succeeded := 0

	for _, r := range result.Results {
		status := "FAILED"
		switch {
		case r.Success:
			status = "SUCCESS"
			succeeded++
		case r.AllowedFailure:
			status = "FAILED (allowed)"
		}

		fmt.Fprintf(&b, "Node %s: %s (%s", r.NodeID, status, r.Duration().Round(time.Millisecond))
		if r.Attempts > 1 {
			fmt.Fprintf(&b, ", %d attempts", r.Attempts)
		}
		b.WriteString(")\n")

		if r.Error != nil {
			fmt.Fprintf(&b, "  Error: %v\n", r.Error)
		}
	}

	for _, id := range result.SkippedNodeIDs {
		fmt.Fprintf(&b, "Node %s: SKIPPED\n", id)
	}

	fmt.Fprintf(&b, "\nSummary: %d/%d nodes succeeded, %d skipped (%s)\n",
		succeeded,
		len(result.Results),
		len(result.SkippedNodeIDs),
		result.Duration.Round(time.Millisecond),
	)
	if result.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", result.RunID)
	}

	return b.String()
}
