package reporting

import (
	"fmt"
	"strings"
	"time"

	"panel-did-lab/internal/pipeline"
)

// GenerateMarkdown renders a full run report as Markdown string.
func (g *Generator) GenerateMarkdown(res *pipeline.Result) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Estimation Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", g.now().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run ID: `%s`\n\n", res.RunID))
	sb.WriteString(fmt.Sprintf("Estimator: %s\n\n", res.EstimatorID))

	// Configuration
	cfg := res.Config
	sb.WriteString("## Configuration\n\n")
	sb.WriteString("| Setting | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Anticipation | %d |\n", cfg.Anticipation))
	sb.WriteString(fmt.Sprintf("| Drop Last Period | %t |\n", cfg.ResolveDropLast()))
	sb.WriteString(fmt.Sprintf("| Control Group | %s |\n", cfg.ResolveControlGroup()))
	sb.WriteString(fmt.Sprintf("| Strict Cells | %t |\n", cfg.StrictCells))
	sb.WriteString(fmt.Sprintf("| Strict Balance | %t |\n", cfg.StrictBalance))
	sb.WriteString("\n")

	// Overall Effect
	sb.WriteString("## Overall Effect\n\n")
	if res.Overall != nil {
		sb.WriteString(fmt.Sprintf("ATT %.6f over %d post-treatment cells.\n\n",
			res.Overall.ATT, res.Overall.Cells))
	} else {
		sb.WriteString("No post-treatment cells were estimated.\n\n")
	}

	// Dynamic Effects
	sb.WriteString("## Dynamic Effects\n\n")
	if len(res.Dynamic) > 0 {
		sb.WriteString("| Event Time | ATT | SE | Groups | Draws |\n")
		sb.WriteString("|-----------|-----|----|--------|-------|\n")
		for _, d := range res.Dynamic {
			se := "n/a"
			if d.SE != nil {
				se = fmt.Sprintf("%.6f", *d.SE)
			}
			sb.WriteString(fmt.Sprintf("| %d | %.6f | %s | %d | %d |\n",
				d.EventTime, d.ATT, se, d.Groups, d.Draws))
		}
	} else {
		sb.WriteString("No dynamic effects available.\n")
	}
	sb.WriteString("\n")

	// Group-Time Effects
	sb.WriteString("## Group-Time Effects\n\n")
	if len(res.GroupTime) > 0 {
		sb.WriteString("| Group | Period | Base | Event Time | ATT | Treated | Comparison | Dropped |\n")
		sb.WriteString("|-------|--------|------|-----------|-----|---------|------------|--------|\n")
		for i := range res.GroupTime {
			e := &res.GroupTime[i]
			sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %.6f | %d | %d | %d |\n",
				e.Group, e.Period, e.BasePeriod, e.EventTime(), e.ATT,
				e.TreatedUnits, e.ComparisonUnits, e.DroppedUnits))
		}
	} else {
		sb.WriteString("No group-time effects available.\n")
	}
	sb.WriteString("\n")

	// Diagnostics
	sb.WriteString("## Diagnostics\n\n")
	if res.Diagnostics != nil {
		d := res.Diagnostics
		sb.WriteString(fmt.Sprintf("Cells: %d planned, %d computed, %d skipped. Unit drops: %d.\n\n",
			d.PlannedCells, d.ComputedCells, d.PlannedCells-d.ComputedCells, d.DroppedUnits))
		if len(d.SkippedCells) > 0 {
			sb.WriteString("### Skipped Cells\n\n")
			sb.WriteString("| Group | Period | Base | Reason |\n")
			sb.WriteString("|-------|--------|------|--------|\n")
			for _, s := range d.SkippedCells {
				sb.WriteString(fmt.Sprintf("| %d | %d | %d | %s |\n",
					s.Group, s.Period, s.BasePeriod, s.Reason))
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("No diagnostics recorded.\n\n")
	}

	// Bootstrap
	sb.WriteString("## Bootstrap\n\n")
	if res.Bootstrap != nil {
		b := res.Bootstrap
		sb.WriteString(fmt.Sprintf("%d iterations (%d failed), seed %d.\n", b.Iterations, b.Failed, b.Seed))
		if succeeded := b.Iterations - b.Failed; b.MinDraws < succeeded {
			sb.WriteString(fmt.Sprintf("Some event times appeared in fewer draws than the %d successful iterations; minimum %d.\n",
				succeeded, b.MinDraws))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Inference was not requested for this run.\n\n")
	}

	return sb.String()
}
