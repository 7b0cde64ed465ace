package rules

// Bucket is where an outcome lands in an EvaluationResult
type Bucket int

const (
	BucketPassed Bucket = iota
	BucketWarnings
	BucketFailed
)

func (b Bucket) String() string {
	switch b {
	case BucketPassed:
		return "passed"
	case BucketWarnings:
		return "warnings"
	case BucketFailed:
		return "failed"
	}
	return "unknown"
}

// BucketFor places a failing rule of the given severity. LOW never blocks.
func BucketFor(sev Severity) Bucket {
	if sev <= SeverityLow {
		return BucketWarnings
	}
	return BucketFailed
}

// ShouldLog reports whether a failure of this severity is logged as a warning
func ShouldLog(sev Severity) bool {
	return sev >= SeverityHigh
}

// ShouldAudit reports whether a failure of this severity is a security event
func ShouldAudit(sev Severity) bool {
	return sev >= SeverityCritical
}

// FaultSeverity is the severity recorded for a condition that errored, panicked or timed out.
// The declared severity of the rule is not consulted.
const FaultSeverity = SeverityHigh

// Action is what an adapter should do with a request after evaluation
type Action int

const (
	ActionAllow Action = iota
	ActionReject
)

func (a Action) String() string {
	if a == ActionReject {
		return "reject"
	}
	return "allow"
}

// Decision is the externally visible handling of an EvaluationResult.
type Decision struct {
	Action Action
	// Severity is the highest failed severity, 0 when nothing failed
	Severity Severity
	// SecurityAlert is set when a CRITICAL rule failed
	SecurityAlert bool
	// ExposeDetail is true when violation detail may be echoed to the caller
	ExposeDetail bool
	// Message is a caller-facing summary
	Message string
	// Violations are the failed outcomes, only those at HIGH or above when
	// ExposeDetail is set. Warnings are advisory outcomes.
	Violations []Outcome
	Warnings   []Outcome
}

// Policy maps severities to handling. The engine itself never consults it.
type Policy struct {
	// GenericMessage is shown instead of violation detail for MEDIUM failures
	GenericMessage string
}

// DefaultPolicy returns the storefront policy
func DefaultPolicy() Policy {
	return Policy{GenericMessage: "The request could not be processed. Please review it and try again."}
}

// Handle decides how a result should be surfaced.
//
//	CRITICAL -> reject and raise a security alert
//	HIGH     -> reject with detail of the HIGH violations only
//	MEDIUM   -> reject with a generic message, detail is only logged
//	LOW      -> allow, warnings surface as metadata
func (p Policy) Handle(result *EvaluationResult) Decision {
	d := Decision{
		Action:   ActionAllow,
		Warnings: result.Warnings,
	}
	if !result.HasFailures() {
		return d
	}

	d.Action = ActionReject
	d.Severity = result.MaxSeverity()
	d.Violations = result.Failed

	switch {
	case d.Severity >= SeverityCritical:
		d.SecurityAlert = true
		d.Message = "The request was rejected and has been flagged for review."
	case d.Severity == SeverityHigh:
		d.ExposeDetail = true
		d.Message = "The request violates one or more business rules."
		d.Violations = atLeast(result.Failed, SeverityHigh)
	default:
		d.Message = p.GenericMessage
	}
	return d
}

func atLeast(outcomes []Outcome, sev Severity) []Outcome {
	out := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Severity >= sev {
			out = append(out, o)
		}
	}
	return out
}
