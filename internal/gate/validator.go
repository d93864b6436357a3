package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/metalagman/phasekit/internal/bounded"
	"github.com/rs/zerolog/log"
)

// DefaultHistorySize bounds the validation history when no size is given.
const DefaultHistorySize = 200

// Validator evaluates score breakdowns against registered gate definitions.
type Validator struct {
	mu      sync.Mutex
	gates   map[string]Definition
	history *bounded.Map[uint64, Result]
	seq     uint64
	now     func() time.Time
}

// NewValidator registers the given gates. Later definitions with the same id
// replace earlier ones, so callers can layer overrides on top of DefaultGates.
func NewValidator(gates []Definition, historySize int) (*Validator, error) {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	v := &Validator{
		gates:   make(map[string]Definition, len(gates)),
		history: bounded.New[uint64, Result](historySize),
		now:     time.Now,
	}
	for _, def := range gates {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		v.gates[def.ID] = def
	}
	return v, nil
}

// Gate returns a registered definition.
func (v *Validator) Gate(id string) (Definition, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	def, ok := v.gates[id]
	return def, ok
}

// Validate runs the full gate decision and records the result in history.
func (v *Validator) Validate(gateID string, score ScoreBreakdown, vctx Context) (Result, error) {
	if gateID == "" {
		return Result{}, fmt.Errorf("%w: gate id must not be empty", ErrInvalidInput)
	}
	if err := score.Validate(); err != nil {
		return Result{}, err
	}
	if vctx.RemediationAttempts < 0 {
		return Result{}, fmt.Errorf("%w: remediation attempts must be >= 0", ErrInvalidInput)
	}
	def, ok := v.Gate(gateID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownGate, gateID)
	}

	res := Result{
		GateID:             gateID,
		Timestamp:          v.now(),
		Score:              score,
		Violations:         []Violation{},
		Warnings:           []string{},
		RemediationActions: []string{},
	}

	if em := vctx.ActiveEmergency; em != nil && def.bypassedBy(em.Trigger) {
		res.Passed = true
		res.Outcome = EmergencyBypass
		res.BypassApplied = true
		res.BypassReason = fmt.Sprintf("emergency %s: %s", em.ID, em.Trigger)
		log.Warn().
			Str("gate", gateID).
			Str("emergency", em.ID).
			Str("trigger", em.Trigger).
			Msg("quality gate bypassed")
		v.record(res)
		return res, nil
	}

	res.Violations = evaluate(def, score)
	for _, viol := range res.Violations {
		if viol.Severity == SeverityWarning {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s score %.2f below %.2f", viol.Component, viol.Actual, viol.Required))
		}
	}

	critical := len(res.CriticalViolations()) > 0
	switch {
	case len(res.Violations) == 0:
		res.Outcome = Passed
		res.Passed = true
	case !critical:
		res.Outcome = ConditionalPass
		res.Passed = true
	default:
		if reason := hardRejectReason(def, score, vctx.RemediationAttempts); reason != "" {
			res.Outcome = HardReject
			res.RejectReason = reason
		} else {
			res.Outcome = SoftReject
			res.RemediationActions = remediationFor(res.Violations)
		}
	}

	log.Debug().
		Str("gate", gateID).
		Str("outcome", string(res.Outcome)).
		Int("violations", len(res.Violations)).
		Int("attempts", vctx.RemediationAttempts).
		Msg("quality gate evaluated")
	v.record(res)
	return res, nil
}

// QuickCheck reports whether the score meets the composite minimum and every
// threshold of a critical component. It does not record history.
func (v *Validator) QuickCheck(gateID string, score ScoreBreakdown) bool {
	def, ok := v.Gate(gateID)
	if !ok || score.Validate() != nil {
		return false
	}
	for _, viol := range evaluate(def, score) {
		if viol.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// History returns recorded results oldest first.
func (v *Validator) History() []Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.history.Values()
}

func (v *Validator) record(res Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	v.history.Set(v.seq, res)
}

func evaluate(def Definition, score ScoreBreakdown) []Violation {
	var out []Violation
	if score.Composite < def.MinComposite {
		out = append(out, Violation{
			Component: Composite,
			Required:  def.MinComposite,
			Actual:    score.Composite,
			Severity:  SeverityCritical,
		})
	}
	for _, c := range Components {
		required, ok := def.ComponentThresholds[c]
		if !ok {
			continue
		}
		actual, _ := score.Component(c)
		if actual >= required {
			continue
		}
		sev := SeverityWarning
		if def.isCritical(c) {
			sev = SeverityCritical
		}
		out = append(out, Violation{Component: c, Required: required, Actual: actual, Severity: sev})
	}
	return out
}

func hardRejectReason(def Definition, score ScoreBreakdown, attempts int) string {
	switch {
	case score.Composite < def.MinComposite*0.5:
		return fmt.Sprintf("composite %.2f below half of minimum %.2f", score.Composite, def.MinComposite)
	case def.isCritical(Security) && score.Security < 0.5:
		return fmt.Sprintf("critical security score %.2f below 0.50", score.Security)
	case attempts >= def.AllowedRemediationAttempts:
		return fmt.Sprintf("remediation attempts exhausted (%d of %d)", attempts, def.AllowedRemediationAttempts)
	default:
		return ""
	}
}

func remediationFor(violations []Violation) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, viol := range violations {
		for _, action := range remediationCatalogue[viol.Component] {
			if _, ok := seen[action]; ok {
				continue
			}
			seen[action] = struct{}{}
			out = append(out, action)
		}
	}
	return out
}
