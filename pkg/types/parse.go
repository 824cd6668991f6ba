package types

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseAnalysisResult parses a model reply. Unusable replies yield a
// centered low-confidence placeholder rather than an error.
func ParseAnalysisResult(raw string) *AnalysisResult {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return fallbackResult("unclear image", "Model returned non-JSON response", "unclear", "non-json")
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fallbackResult("parse error", "Failed to parse model response", "parse-error")
	}
	return &result
}

func fallbackResult(label, description string, tags ...string) *AnalysisResult {
	return &AnalysisResult{
		Primary: Primary{
			Label:      label,
			Confidence: 0.1,
			Box:        Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			Cx:         0.5,
			Cy:         0.5,
		},
		Description: description,
		Tags:        append(tags, "fallback"),
	}
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from a
// model's JSON answer
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
