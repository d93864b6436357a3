// Package gate validates quality score breakdowns against phase gates.
package gate

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidInput is returned for malformed scores or validation context.
	ErrInvalidInput = errors.New("invalid gate input")
	// ErrUnknownGate is returned when the gate id is not registered.
	ErrUnknownGate = errors.New("unknown gate")
)

// Outcome is the decision reached for one validation.
type Outcome string

// Gate outcomes.
const (
	Passed          Outcome = "PASSED"
	ConditionalPass Outcome = "CONDITIONAL_PASS"
	SoftReject      Outcome = "SOFT_REJECT"
	HardReject      Outcome = "HARD_REJECT"
	EmergencyBypass Outcome = "EMERGENCY_BYPASS"
)

// Allows reports whether the outcome lets the pipeline proceed.
func (o Outcome) Allows() bool {
	switch o {
	case Passed, ConditionalPass, EmergencyBypass:
		return true
	default:
		return false
	}
}

// Component names a quality dimension.
type Component string

// Quality components.
const (
	Accuracy        Component = "accuracy"
	Completeness    Component = "completeness"
	Maintainability Component = "maintainability"
	Security        Component = "security"
	Performance     Component = "performance"
	TestCoverage    Component = "testCoverage"
	Composite       Component = "composite"
)

// Components lists the six scored dimensions.
var Components = []Component{Accuracy, Completeness, Maintainability, Security, Performance, TestCoverage}

var scored = []Component{Accuracy, Completeness, Maintainability, Security, Performance, TestCoverage, Composite}

// ScoreBreakdown holds component scores in [0,1] and an externally computed composite.
type ScoreBreakdown struct {
	Accuracy        float64 `json:"accuracy"        yaml:"accuracy"`
	Completeness    float64 `json:"completeness"    yaml:"completeness"`
	Maintainability float64 `json:"maintainability" yaml:"maintainability"`
	Security        float64 `json:"security"        yaml:"security"`
	Performance     float64 `json:"performance"     yaml:"performance"`
	TestCoverage    float64 `json:"testCoverage"    yaml:"testCoverage"`
	Composite       float64 `json:"composite"       yaml:"composite"`
}

// Uniform returns a breakdown with every component and the composite set to v.
func Uniform(v float64) ScoreBreakdown {
	return ScoreBreakdown{
		Accuracy:        v,
		Completeness:    v,
		Maintainability: v,
		Security:        v,
		Performance:     v,
		TestCoverage:    v,
		Composite:       v,
	}
}

func knownComponent(c Component) bool {
	var zero ScoreBreakdown
	_, ok := zero.Component(c)
	return ok
}

// Component returns the score of a named component.
func (s ScoreBreakdown) Component(c Component) (float64, bool) {
	switch c {
	case Accuracy:
		return s.Accuracy, true
	case Completeness:
		return s.Completeness, true
	case Maintainability:
		return s.Maintainability, true
	case Security:
		return s.Security, true
	case Performance:
		return s.Performance, true
	case TestCoverage:
		return s.TestCoverage, true
	case Composite:
		return s.Composite, true
	default:
		return 0, false
	}
}

// Validate checks that every value is a number in [0,1].
func (s ScoreBreakdown) Validate() error {
	for _, c := range scored {
		v, _ := s.Component(c)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s score %v outside [0,1]", ErrInvalidInput, c, v)
		}
	}
	return nil
}

// Definition configures one gate.
type Definition struct {
	ID                         string                `json:"id"                           yaml:"id"`
	MinComposite               float64               `json:"min_composite"                yaml:"min_composite"`
	ComponentThresholds        map[Component]float64 `json:"component_thresholds"         yaml:"component_thresholds"`
	CriticalComponents         []Component           `json:"critical_components"          yaml:"critical_components"`
	AllowedRemediationAttempts int                   `json:"allowed_remediation_attempts" yaml:"allowed_remediation_attempts"`
	BypassConditions           []string              `json:"bypass_conditions"            yaml:"bypass_conditions"`
}

// Validate checks the definition for unknown components and out-of-range thresholds.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: gate id must not be empty", ErrInvalidInput)
	}
	if d.MinComposite < 0 || d.MinComposite > 1 {
		return fmt.Errorf("%w: gate %s min_composite %v outside [0,1]", ErrInvalidInput, d.ID, d.MinComposite)
	}
	for c, threshold := range d.ComponentThresholds {
		if !knownComponent(c) || c == Composite {
			return fmt.Errorf("%w: gate %s has unknown component %q", ErrInvalidInput, d.ID, c)
		}
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("%w: gate %s threshold for %s outside [0,1]", ErrInvalidInput, d.ID, c)
		}
	}
	for _, c := range d.CriticalComponents {
		if !knownComponent(c) {
			return fmt.Errorf("%w: gate %s has unknown critical component %q", ErrInvalidInput, d.ID, c)
		}
	}
	if d.AllowedRemediationAttempts < 0 {
		return fmt.Errorf("%w: gate %s allowed_remediation_attempts must be >= 0", ErrInvalidInput, d.ID)
	}
	return nil
}

func (d Definition) isCritical(c Component) bool {
	for _, cc := range d.CriticalComponents {
		if cc == c {
			return true
		}
	}
	return false
}

func (d Definition) bypassedBy(trigger string) bool {
	for _, cond := range d.BypassConditions {
		if cond == trigger {
			return true
		}
	}
	return false
}

// Severity of a violation.
type Severity string

// Violation severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Violation records one threshold miss.
type Violation struct {
	Component Component `json:"component"`
	Required  float64   `json:"required"`
	Actual    float64   `json:"actual"`
	Severity  Severity  `json:"severity"`
}

// Emergency is an active incident that may bypass gates.
type Emergency struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

// Context carries retry state across repeated validations of the same gate.
type Context struct {
	RemediationAttempts int        `json:"remediation_attempts"`
	ActiveEmergency     *Emergency `json:"active_emergency,omitempty"`
	PreviousValidations []Result   `json:"previous_validations,omitempty"`
}

// Result is an immutable record of one validation.
type Result struct {
	GateID             string         `json:"gate_id"`
	Timestamp          time.Time      `json:"timestamp"`
	Score              ScoreBreakdown `json:"score"`
	Passed             bool           `json:"passed"`
	Outcome            Outcome        `json:"outcome"`
	Violations         []Violation    `json:"violations"`
	Warnings           []string       `json:"warnings"`
	RemediationActions []string       `json:"remediation_actions"`
	BypassApplied      bool           `json:"bypass_applied"`
	BypassReason       string         `json:"bypass_reason,omitempty"`
	RejectReason       string         `json:"reject_reason,omitempty"`
}

// CriticalViolations returns only critical-severity violations.
func (r Result) CriticalViolations() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			out = append(out, v)
		}
	}
	return out
}
