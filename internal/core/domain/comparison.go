package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stacklens/internal/core/compare"
)

// =============================================================================
// Comparison Report
// =============================================================================

// ComparisonReport is a saved run of the conflict comparator over a set of
// saved projects.
type ComparisonReport struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ProjectIDs []string          `json:"project_ids"`
	Findings   []compare.Finding `json:"findings"`
	Summary    compare.Summary   `json:"summary"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewComparisonReport records the findings of one comparison. The summary is
// derived from findings.
func NewComparisonReport(name string, projectIDs []string, findings []compare.Finding) (*ComparisonReport, error) {
	if err := ValidateComparisonProjects(projectIDs); err != nil {
		return nil, err
	}
	if name == "" {
		name = "comparison of " + strings.Join(projectIDs, ", ")
	}
	if findings == nil {
		findings = []compare.Finding{}
	}

	return &ComparisonReport{
		ID:         "cmp_" + uuid.New().String()[:8],
		Name:       name,
		ProjectIDs: append([]string(nil), projectIDs...),
		Findings:   findings,
		Summary:    compare.Summarize(findings),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// HasConflicts reports whether any finding is at or above the given severity.
func (r *ComparisonReport) HasConflicts(threshold compare.Severity) bool {
	return ExceedsThreshold(r.Summary, threshold)
}

// ExceedsThreshold reports whether a summary holds findings at or above
// threshold. Info never counts as a conflict.
func ExceedsThreshold(s compare.Summary, threshold compare.Severity) bool {
	switch threshold {
	case compare.SeverityError:
		return s.Error > 0
	case compare.SeverityWarning:
		return s.Error > 0 || s.Warning > 0
	default:
		return false
	}
}

// ValidateComparisonProjects requires at least two distinct project IDs.
func ValidateComparisonProjects(projectIDs []string) error {
	if len(projectIDs) < 2 {
		return ErrTooFewProjects
	}
	seen := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		if seen[id] {
			return ErrDuplicateProjectID
		}
		seen[id] = true
	}
	return nil
}
