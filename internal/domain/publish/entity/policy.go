package entity

// Severity represents how strongly a policy rule applies
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation represents a single policy rule failure
type Violation struct {
	Field    string   `json:"field"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// PolicyCheckResult represents the outcome of the pre-publish policy gate.
// Passed is true exactly when Violations is empty; Warnings never block.
type PolicyCheckResult struct {
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`
}

// AddViolation appends a blocking violation and flips Passed
func (r *PolicyCheckResult) AddViolation(field, reason string) {
	r.Violations = append(r.Violations, Violation{Field: field, Reason: reason, Severity: SeverityError})
	r.Passed = false
}

// AddWarning appends an informational entry without affecting Passed
func (r *PolicyCheckResult) AddWarning(field, reason string) {
	r.Warnings = append(r.Warnings, Violation{Field: field, Reason: reason, Severity: SeverityWarning})
}
