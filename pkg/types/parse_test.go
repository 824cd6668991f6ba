package types

import "testing"

func TestParseAnalysisResult(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantLabel    string
		wantCx       float64
		wantFallback bool
	}{
		{
			name:      "plain json",
			raw:       `{"primary":{"label":"dog","confidence":0.9,"box":{"x":0.6,"y":0.2,"w":0.3,"h":0.4},"cx":0.75,"cy":0.4},"description":"a dog","tags":["dog"]}`,
			wantLabel: "dog",
			wantCx:    0.75,
		},
		{
			name:      "fenced with comments and trailing comma",
			raw:       "```json\n{\n  // subject\n  \"primary\": {\"label\": \"cat\", \"cx\": 0.3, \"cy\": 0.5,},\n}\n```",
			wantLabel: "cat",
			wantCx:    0.3,
		},
		{
			name:         "prose",
			raw:          "I see a landscape.",
			wantLabel:    "unclear image",
			wantCx:       0.5,
			wantFallback: true,
		},
		{
			name:         "broken json",
			raw:          `{"primary": {"label": }`,
			wantLabel:    "parse error",
			wantCx:       0.5,
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseAnalysisResult(tt.raw)
			if result.Primary.Label != tt.wantLabel {
				t.Errorf("Expected label %q, got %q", tt.wantLabel, result.Primary.Label)
			}
			if result.Primary.Cx != tt.wantCx {
				t.Errorf("Expected cx %g, got %g", tt.wantCx, result.Primary.Cx)
			}
			hasFallbackTag := len(result.Tags) > 0 && result.Tags[len(result.Tags)-1] == "fallback"
			if hasFallbackTag != tt.wantFallback {
				t.Errorf("Expected fallback tag %v, got tags %v", tt.wantFallback, result.Tags)
			}
		})
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	raw := "Sure! /* note */ {\"a\": [1, 2,], \"b\": 3,} Hope that helps."
	if got := SanitizeModelJSON(raw); got != `{"a": [1, 2], "b": 3}` {
		t.Errorf("Unexpected sanitized JSON %q", got)
	}
}

func TestFallback(t *testing.T) {
	var nilResult *AnalysisResult
	if !nilResult.Fallback() {
		t.Error("Expected nil result to be a fallback")
	}
	if (&AnalysisResult{Primary: Primary{Label: "person"}}).Fallback() {
		t.Error("Expected a labelled result not to be a fallback")
	}
	if !(&AnalysisResult{Primary: Primary{Label: "none"}}).Fallback() {
		t.Error("Expected the none label to be a fallback")
	}
}
