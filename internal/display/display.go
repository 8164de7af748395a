// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output, markdown reports, and logs.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import (
	"fmt"
	"strings"
)

// --- Score display modes ---

var displayModes = map[string]string{
	"binary":        "Pass/Fail",
	"numeric":       "Scored",
	"informative":   "Informative",
	"manual":        "Manual Check",
	"notApplicable": "Not Applicable",
	"error":         "Error",
}

// Mode returns the human-readable name for a score display mode.
// Unknown codes are returned as-is.
func Mode(code string) string {
	if name, ok := displayModes[code]; ok {
		return name
	}
	return code
}

// --- Fault codes ---

var faultCodes = map[string]string{
	"NO_DOCUMENT_REQUEST":       "No Document Request",
	"FAILED_DOCUMENT_REQUEST":   "Failed Document Request",
	"PROTOCOL":                  "Protocol Failure",
	"INVALID_URL":               "Invalid URL",
	"MISSING_ARTIFACT":          "Missing Artifact",
	"ERRORED_REQUIRED_ARTIFACT": "Errored Artifact",
	"MISSING_TRACE":             "Missing Trace",
	"CIRCULAR_DEPENDENCY":       "Circular Dependency",
	"AUDIT_PANIC":               "Audit Panic",
}

// Fault returns the human-readable name for a fault code.
func Fault(code string) string {
	if name, ok := faultCodes[code]; ok {
		return name
	}
	return code
}

// FaultWithCode returns "Protocol Failure (PROTOCOL)" format.
func FaultWithCode(code string) string {
	if name, ok := faultCodes[code]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Scores ---

// Score renders a 0-1 category or audit score as a percentage, or a dash
// for nil (unscored) values.
func Score(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%d", int(*score*100+0.5))
}

// ScoreBand classifies a score the way report consumers expect:
// fail below 0.5, average below 0.9, good at or above.
func ScoreBand(score *float64) string {
	switch {
	case score == nil:
		return "n/a"
	case *score >= 0.9:
		return "good"
	case *score >= 0.5:
		return "average"
	default:
		return "fail"
	}
}

// ScoreMark is the single-character verdict used in result tables.
func ScoreMark(score *float64) string {
	switch ScoreBand(score) {
	case "good":
		return "●"
	case "average":
		return "◐"
	case "fail":
		return "○"
	default:
		return "-"
	}
}

// --- Pass names ---

// Pass humanizes a pass name: "defaultPass" -> "Default Pass".
func Pass(name string) string {
	if name == "defaultPass" {
		return "Default Pass"
	}
	var out []rune
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			out = append(out, ' ')
		}
		out = append(out, r)
	}
	s := string(out)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
