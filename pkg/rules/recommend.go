package rules

import (
	"fmt"

	"github.com/devicelab-dev/simlens/pkg/core"
)

// Recommendation is a suggested code change for one issue type.
type Recommendation struct {
	IssueType   string        `json:"issueType"`
	Priority    core.Severity `json:"priority"`
	Fix         string        `json:"fix"`
	CodeChanges []string      `json:"codeChanges"`
	Files       []string      `json:"files,omitempty"`
	Issues      int           `json:"issues"`
}

// recommendations are written for a Flutter app with the usual
// lib/screens and lib/theme layout.
var recommendations = map[string]Recommendation{
	TypeTextOverflow: {
		Fix: "Update Flutter layout constraints to prevent text overflow",
		CodeChanges: []string{
			"Use Flexible or Expanded widgets for text",
			"Implement responsive text sizing",
			"Add proper padding and margins",
			"Use Wrap widget for text that might overflow",
		},
		Files: []string{"lib/screens/auth/enhanced_login_screen.dart", "lib/theme/app_theme.dart"},
	},
	TypeLayoutSpacing: {
		Fix: "Improve button spacing and layout",
		CodeChanges: []string{
			"Add proper spacing between buttons",
			"Use SizedBox for consistent spacing",
			"Implement responsive button sizing",
		},
		Files: []string{"lib/screens/auth/enhanced_login_screen.dart"},
	},
	TypeMissingElements: {
		Fix: "Verify all UI elements are properly rendered",
		CodeChanges: []string{
			"Check widget visibility conditions",
			"Ensure proper state management",
			"Verify responsive design implementation",
		},
		Files: []string{"lib/screens/auth/enhanced_login_screen.dart", "lib/widgets/primary_button.dart"},
	},
	TypeContrast: {
		Fix: "Adjust theme colors for readable contrast",
		CodeChanges: []string{
			"Check text colors against their background in both brightness modes",
			"Avoid pure white surfaces behind large areas",
		},
		Files: []string{"lib/theme/app_theme.dart"},
	},
	TypeButtonAlignment: {
		Fix: "Align and size buttons consistently",
		CodeChanges: []string{
			"Use MainAxisAlignment.spaceEvenly in button rows",
			"Give grouped buttons a shared minimum size",
		},
		Files: []string{"lib/screens/auth/enhanced_login_screen.dart"},
	},
	TypeVisualRegression: {
		Fix: "Review the visual change against the baseline",
		CodeChanges: []string{
			"Revert the unintended change, or approve a new baseline",
		},
	},
}

// Recommend returns one recommendation per issue type present, in the
// order the types first appear. Priority is the highest severity seen for
// the type. Types without a known fix are skipped.
func Recommend(issues []Issue) []Recommendation {
	index := make(map[string]int)
	var out []Recommendation
	for _, is := range issues {
		if i, ok := index[is.Type]; ok {
			out[i].Issues++
			if is.Severity > out[i].Priority {
				out[i].Priority = is.Severity
			}
			continue
		}
		rec, ok := recommendations[is.Type]
		if !ok {
			continue
		}
		rec.IssueType = is.Type
		rec.Priority = is.Severity
		rec.Issues = 1
		index[is.Type] = len(out)
		out = append(out, rec)
	}
	return out
}

// Summary totals the outcome of one analysis.
type Summary struct {
	Counts
	Issues          int      `json:"issues"`
	Recommendations int      `json:"recommendations"`
	NextSteps       []string `json:"nextSteps"`
}

// Summarize counts issues and suggests what to do next.
func Summarize(issues []Issue, recs []Recommendation) Summary {
	s := Summary{Counts: Count(issues), Issues: len(issues), Recommendations: len(recs)}
	if s.High > 0 {
		s.NextSteps = append(s.NextSteps, fmt.Sprintf("Fix %d high severity issues immediately", s.High))
	}
	if s.Medium > 0 {
		s.NextSteps = append(s.NextSteps, "Address layout spacing and contrast issues")
	}
	if s.Recommendations > 0 {
		s.NextSteps = append(s.NextSteps, "Implement recommended code changes")
	}
	if s.Issues > 0 {
		s.NextSteps = append(s.NextSteps, "Rebuild the app and run the analysis again to verify fixes")
	}
	return s
}
