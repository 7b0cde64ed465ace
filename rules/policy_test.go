package rules

import "testing"

func TestBucketFor(t *testing.T) {
	testCases := []struct {
		severity Severity
		want     Bucket
	}{
		{SeverityLow, BucketWarnings},
		{SeverityMedium, BucketFailed},
		{SeverityHigh, BucketFailed},
		{SeverityCritical, BucketFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.severity.String(), func(t *testing.T) {
			if got := BucketFor(tc.severity); got != tc.want {
				t.Errorf("BucketFor(%s) = %s, want %s", tc.severity, got, tc.want)
			}
		})
	}
}

func TestShouldLogAndAudit(t *testing.T) {
	testCases := []struct {
		severity  Severity
		wantLog   bool
		wantAudit bool
	}{
		{SeverityLow, false, false},
		{SeverityMedium, false, false},
		{SeverityHigh, true, false},
		{SeverityCritical, true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.severity.String(), func(t *testing.T) {
			if got := ShouldLog(tc.severity); got != tc.wantLog {
				t.Errorf("ShouldLog(%s) = %v, want %v", tc.severity, got, tc.wantLog)
			}
			if got := ShouldAudit(tc.severity); got != tc.wantAudit {
				t.Errorf("ShouldAudit(%s) = %v, want %v", tc.severity, got, tc.wantAudit)
			}
		})
	}
}

func TestPolicyHandle(t *testing.T) {
	policy := DefaultPolicy()

	failedWith := func(sevs ...Severity) *EvaluationResult {
		r := NewEvaluationResult()
		for _, sev := range sevs {
			r.Failed = append(r.Failed, Outcome{Rule: "order:" + sev.String(), Severity: sev})
		}
		return r
	}

	t.Run("no failures", func(t *testing.T) {
		r := NewEvaluationResult()
		r.Warnings = append(r.Warnings, Outcome{Rule: "order:minimum_order_amount", Severity: SeverityLow})

		d := policy.Handle(r)
		if d.Action != ActionAllow {
			t.Errorf("Action = %s, want allow", d.Action)
		}
		if len(d.Warnings) != 1 {
			t.Errorf("Warnings = %v, want 1", d.Warnings)
		}
	})

	t.Run("medium only", func(t *testing.T) {
		d := policy.Handle(failedWith(SeverityMedium))
		if d.Action != ActionReject || d.ExposeDetail || d.SecurityAlert {
			t.Errorf("decision = %+v", d)
		}
		if d.Message != policy.GenericMessage {
			t.Errorf("Message = %q, want generic", d.Message)
		}
	})

	t.Run("high exposes detail", func(t *testing.T) {
		d := policy.Handle(failedWith(SeverityMedium, SeverityHigh))
		if d.Severity != SeverityHigh || !d.ExposeDetail || d.SecurityAlert {
			t.Errorf("decision = %+v", d)
		}
		if len(d.Violations) != 1 || d.Violations[0].Severity != SeverityHigh {
			t.Errorf("Violations = %v, want only the HIGH outcome", d.Violations)
		}
	})

	t.Run("medium detail hidden next to high", func(t *testing.T) {
		r := NewEvaluationResult()
		r.Failed = append(r.Failed,
			Outcome{Rule: "order:maximum_items_per_order", Severity: SeverityMedium, Message: "too many items"},
			Outcome{Rule: "order:maximum_order_amount", Severity: SeverityHigh, Message: "order too large"},
		)

		d := policy.Handle(r)
		for _, v := range d.Violations {
			if v.Severity < SeverityHigh {
				t.Errorf("MEDIUM outcome exposed: %+v", v)
			}
		}
		if len(d.Violations) != 1 || d.Violations[0].Rule != "order:maximum_order_amount" {
			t.Errorf("Violations = %v, want order:maximum_order_amount", d.Violations)
		}
		if len(r.Failed) != 2 {
			t.Errorf("result.Failed was modified: %v", r.Failed)
		}
	})

	t.Run("critical raises alert", func(t *testing.T) {
		d := policy.Handle(failedWith(SeverityHigh, SeverityCritical))
		if d.Severity != SeverityCritical || !d.SecurityAlert || d.ExposeDetail {
			t.Errorf("decision = %+v", d)
		}
	})
}
