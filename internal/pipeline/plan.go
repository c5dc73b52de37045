package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
)

// Plan says what a conversion should produce. With Auto set every format is
// tried and the smallest kept; otherwise Output is encoded directly.
type Plan struct {
	Auto     bool
	Output   format.Format
	Geometry *geometry.Spec
}

func AutoPlan() Plan {
	return Plan{Auto: true}
}

// ParsePlan validates user supplied strings. An empty output format selects
// auto mode and an empty geometry skips resizing.
func ParsePlan(outputFormat, geom string) (Plan, error) {
	plan := AutoPlan()

	if v := strings.TrimSpace(outputFormat); v != "" {
		f, err := format.Parse(v)
		if err != nil {
			return Plan{}, fmt.Errorf("output format: %w", err)
		}
		plan.Auto = false
		plan.Output = f
	}

	if v := strings.TrimSpace(geom); v != "" {
		spec, err := geometry.Parse(v)
		if err != nil {
			return Plan{}, fmt.Errorf("geometry: %w", err)
		}
		plan.Geometry = &spec
	}

	return plan, nil
}

func (p Plan) String() string {
	target := "auto"
	if !p.Auto {
		target = p.Output.String()
	}
	if p.Geometry == nil {
		return target
	}
	return target + "@" + p.Geometry.String()
}

// OutputPath swaps the extension of input for the canonical extension of f.
func OutputPath(input string, f format.Format) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + "." + f.Extension()
}
