package reporting

import (
	"os"
	"path/filepath"
	"time"

	"panel-did-lab/internal/pipeline"
)

// Artifact file names written by WriteRunArtifacts.
const (
	GroupTimeCSVFile = "group_time_effects.csv"
	DynamicCSVFile   = "dynamic_effects.csv"
	GroupCSVFile     = "group_effects.csv"
	ReportFile       = "REPORT.md"
)

// Generator produces run reports from pipeline results.
type Generator struct {
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator() *Generator {
	return &Generator{
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WriteRunArtifacts writes the result tables and the Markdown report:
// - group_time_effects.csv
// - dynamic_effects.csv
// - group_effects.csv
// - REPORT.md
func (g *Generator) WriteRunArtifacts(dir string, res *pipeline.Result) error {
	// Ensure output directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	groupTimePath := filepath.Join(dir, GroupTimeCSVFile)
	if err := os.WriteFile(groupTimePath, []byte(RenderGroupTimeCSV(res.GroupTime)), 0644); err != nil {
		return err
	}

	dynamicPath := filepath.Join(dir, DynamicCSVFile)
	if err := os.WriteFile(dynamicPath, []byte(RenderDynamicCSV(res.Dynamic)), 0644); err != nil {
		return err
	}

	groupPath := filepath.Join(dir, GroupCSVFile)
	if err := os.WriteFile(groupPath, []byte(RenderGroupCSV(res.ByGroup)), 0644); err != nil {
		return err
	}

	reportPath := filepath.Join(dir, ReportFile)
	return os.WriteFile(reportPath, []byte(g.GenerateMarkdown(res)), 0644)
}
