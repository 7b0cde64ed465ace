package rules

import (
	"encoding/json"
	"testing"
)

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Error("severities must be ordered LOW < MEDIUM < HIGH < CRITICAL")
	}
}

func TestParseSeverity(t *testing.T) {
	testCases := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"LOW", SeverityLow, false},
		{"medium", SeverityMedium, false},
		{" High ", SeverityHigh, false},
		{"CRITICAL", SeverityCritical, false},
		{"SEVERE", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseSeverity(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseSeverity(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseSeverity(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestSeverityJSON(t *testing.T) {
	data, err := json.Marshal(Outcome{Rule: "order:a", Severity: SeverityHigh})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if want := `{"rule":"order:a","description":"","severity":"HIGH"}`; string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var sev Severity
	if err := json.Unmarshal([]byte(`"critical"`), &sev); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if sev != SeverityCritical {
		t.Errorf("Unmarshal() = %s, want CRITICAL", sev)
	}

	if _, err := json.Marshal(Severity(0)); err == nil {
		t.Error("Marshal() of an unknown severity should fail")
	}
}

func TestMessageResolve(t *testing.T) {
	if got := Literal("fixed").Resolve(nil, nil); got != "fixed" {
		t.Errorf("Literal Resolve() = %q", got)
	}

	tmpl := Template(func(e Entity, rc Context) string {
		return e["name"].(string) + "/" + rc["region"].(string)
	})
	if got := tmpl.Resolve(Entity{"name": "tulip"}, Context{"region": "NL"}); got != "tulip/NL" {
		t.Errorf("Template Resolve() = %q", got)
	}
}

func TestRuleTypeValid(t *testing.T) {
	for _, rt := range []RuleType{TypeValidation, TypeBusiness, TypeCompliance, TypeRisk} {
		if !rt.Valid() {
			t.Errorf("%s should be valid", rt)
		}
	}
	if RuleType("PRICING").Valid() {
		t.Error("PRICING should not be valid")
	}
}
