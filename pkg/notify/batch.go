package notify

import (
	"fmt"
	"strings"

	"github.com/snapvault/snapvault/pkg/engine"
)

// BatchMessage formats the post-batch Telegram notification. It covers only
// items the batch actually touched; an empty batch produces no message.
func BatchMessage(summary *engine.BatchSummary) string {
	touched := summary.Processed + summary.Partial + summary.Failed
	if touched == 0 {
		return ""
	}

	lines := []string{fmt.Sprintf("*Processed %d file(s)*", touched), ""}
	for _, res := range summary.Results {
		if res.Status == engine.ItemStatusPending {
			continue
		}
		lines = append(lines, fmt.Sprintf("• _%s_ - %s", res.OriginalName, res.Summary))
		lines = append(lines, "  Routed: "+routedLine(res.Routed))
		if res.Error != "" {
			lines = append(lines, "  ⚠️ "+res.Error)
		}
	}
	return strings.Join(lines, "\n")
}

func routedLine(routed map[engine.FragmentType]int) string {
	var parts []string
	for _, ft := range engine.FragmentTypes {
		if n := routed[ft]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, ft))
		}
	}
	if len(parts) == 0 {
		return "no items"
	}
	return strings.Join(parts, ", ")
}
