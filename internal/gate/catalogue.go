package gate

var remediationCatalogue = map[Component][]string{
	Accuracy: {
		"Re-verify outputs against the original requirements",
		"Add cross-checks for derived facts and calculations",
	},
	Completeness: {
		"Enumerate unaddressed requirements and cover them",
		"Fill in missing sections flagged by the review",
		"Add handling for documented edge cases",
	},
	Maintainability: {
		"Split oversized units into focused modules",
		"Remove duplication and clarify naming",
	},
	Security: {
		"Run a security review of inputs and trust boundaries",
		"Remove hard-coded secrets and tighten permissions",
		"Add validation for untrusted input",
	},
	Performance: {
		"Profile hot paths and remove redundant work",
		"Bound resource usage for large inputs",
	},
	TestCoverage: {
		"Add tests for uncovered branches",
		"Add regression tests for fixed defects",
	},
	Composite: {
		"Address the lowest-scoring components first",
		"Re-run the phase with reviewer feedback applied",
	},
}

// RemediationActions returns the canned actions for a component.
func RemediationActions(c Component) []string {
	actions := remediationCatalogue[c]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}
