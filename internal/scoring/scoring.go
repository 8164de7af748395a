// Package scoring combines audit results into weighted category scores.
// Deterministic by construction: summation follows category definition
// order, and the same inputs always produce the same output.
package scoring

import (
	"math"

	"pharos/internal/audit"
	"pharos/internal/config"
)

// CategoryResult is one scored category. Score is nil when no weighted,
// scoreable audit contributed.
type CategoryResult struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Score     *float64          `json:"score"`
	AuditRefs []config.AuditRef `json:"auditRefs"`
}

// Aggregate scores every category from the finalized audit results.
// Manual and informative audits, and results without a score (errored or
// not applicable), are excluded from both numerator and denominator; a
// category with zero eligible weight scores nil.
func Aggregate(categories []config.CategoryDef, results map[string]audit.Result) []CategoryResult {
	out := make([]CategoryResult, 0, len(categories))
	for _, cat := range categories {
		out = append(out, scoreCategory(cat, results))
	}
	return out
}

func scoreCategory(cat config.CategoryDef, results map[string]audit.Result) CategoryResult {
	var weightSum, scoreSum float64
	for _, ref := range cat.AuditRefs {
		res, ok := results[ref.ID]
		if !ok || res.Score == nil {
			continue
		}
		switch res.DisplayMode {
		case audit.ModeManual, audit.ModeInformative, audit.ModeNotApplicable:
			continue
		}
		weightSum += ref.Weight
		scoreSum += ref.Weight * *res.Score
	}
	cr := CategoryResult{ID: cat.ID, Title: cat.Title, AuditRefs: cat.AuditRefs}
	if weightSum > 0 {
		// Round to avoid float noise leaking into reports.
		s := math.Round(scoreSum/weightSum*100) / 100
		cr.Score = &s
	}
	return cr
}
