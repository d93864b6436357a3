package gate

// DefaultGates is the built-in gate catalogue. Pipeline definitions may
// override any of these by id.
func DefaultGates() []Definition {
	return []Definition{
		{
			ID:                         "understanding",
			MinComposite:               0.6,
			ComponentThresholds:        map[Component]float64{Completeness: 0.6, Accuracy: 0.6},
			CriticalComponents:         []Component{Completeness},
			AllowedRemediationAttempts: 2,
			BypassConditions:           []string{"production_outage"},
		},
		{
			ID:                         "design",
			MinComposite:               0.7,
			ComponentThresholds:        map[Component]float64{Security: 0.6, Maintainability: 0.6},
			CriticalComponents:         []Component{Security},
			AllowedRemediationAttempts: 2,
			BypassConditions:           []string{"production_outage"},
		},
		{
			ID:                         "implementation",
			MinComposite:               0.75,
			ComponentThresholds:        map[Component]float64{Security: 0.7, Accuracy: 0.7, Performance: 0.5},
			CriticalComponents:         []Component{Security, Accuracy},
			AllowedRemediationAttempts: 3,
			BypassConditions:           []string{"production_outage", "security_hotfix"},
		},
		{
			ID:                         "verification",
			MinComposite:               0.8,
			ComponentThresholds:        map[Component]float64{TestCoverage: 0.7, Accuracy: 0.8},
			CriticalComponents:         []Component{TestCoverage},
			AllowedRemediationAttempts: 2,
			BypassConditions:           []string{"production_outage"},
		},
		{
			ID:                         "delivery",
			MinComposite:               0.85,
			ComponentThresholds:        map[Component]float64{Security: 0.8, Completeness: 0.8},
			CriticalComponents:         []Component{Security, Completeness},
			AllowedRemediationAttempts: 1,
		},
	}
}
