package ingest

import (
	"sort"
	"strings"

	"github.com/justapithecus/mender/types"
)

// Scoring weights. Severity dominates, category breaks ties within a
// severity band, and business-critical services float to the top.

var severityWeights = map[types.Severity]float64{
	types.SeverityCritical: 40,
	types.SeverityHigh:     30,
	types.SeverityMedium:   15,
	types.SeverityLow:      5,
}

var categoryWeights = map[types.FindingCategory]float64{
	types.CategorySQLInjection:            25,
	types.CategoryHardcodedSecret:         25,
	types.CategoryDependencyVulnerability: 20,
	types.CategoryXSS:                     20,
	types.CategoryPathTraversal:           20,
	types.CategoryPIILogging:              15,
	types.CategoryMissingEncryption:       15,
	types.CategoryAccessLogging:           10,
	types.CategoryOther:                   10,
}

// serviceWeight favors money- and identity-handling services.
func serviceWeight(service string) float64 {
	s := strings.ToLower(service)
	switch {
	case strings.Contains(s, "payment"), strings.Contains(s, "auth"):
		return 20
	case strings.Contains(s, "user"):
		return 15
	case strings.Contains(s, "catalog"):
		return 10
	}
	return 10
}

// Score computes the priority score for one finding.
func Score(f *types.Finding) float64 {
	return severityWeights[f.Severity] + categoryWeights[f.Category] + serviceWeight(f.ServiceName)
}

// Prioritize assigns priority scores and sorts findings descending. The
// sort is stable so equal-score findings keep their input order.
func Prioritize(findings []*types.Finding) {
	for _, f := range findings {
		f.PriorityScore = Score(f)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].PriorityScore > findings[j].PriorityScore
	})
}
