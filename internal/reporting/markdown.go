package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run Key: `%s`\n\n", r.RunKey))

	sb.WriteString("## Executions\n\n")
	if len(r.Executions) > 0 {
		sb.WriteString("| Run ID | Mode | Restarts | Points | Started (ms) | Finished (ms) |\n")
		sb.WriteString("|--------|------|----------|--------|--------------|---------------|\n")
		for _, e := range r.Executions {
			mode := "computed"
			if e.Attached {
				mode = "attached"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d |\n",
				e.RunID, mode, e.Restarts, e.CommittedPoints, e.StartedMs, e.FinishedMs))
		}
	} else {
		sb.WriteString("No executions recorded.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Expression Series\n\n")
	if len(r.ExprStats) > 0 {
		sb.WriteString("| Expression | Samples | NA | First | Last | Min | Max | Mean |\n")
		sb.WriteString("|------------|---------|----|-------|------|-----|-----|------|\n")
		for _, s := range r.ExprStats {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %.4f | %.4f | %.4f |\n",
				s.ExprID, s.Samples, s.NACount, s.FirstIndex, s.LastIndex,
				s.Min, s.Max, s.Mean))
		}
	} else {
		sb.WriteString("No committed series recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
