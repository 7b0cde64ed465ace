package rules

import "testing"

func TestIsSensitiveKey(t *testing.T) {
	testCases := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"card_number", true},
		{"CardNumber", true},
		{"card-number", true},
		{"CVV", true},
		{"api_key", true},
		{"ssn", true},
		{"amount", false},
		{"customerName", false},
		{"total_amount_usd", false},
	}

	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			if got := IsSensitiveKey(tc.key); got != tc.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	entity := Entity{
		"amount":     120.5,
		"cardNumber": "4111 1111 1111 1111",
		"note":       "customer card 4111-1111-1111-1111 ssn 123-45-6789",
		"billing": map[string]any{
			"name": "Ada",
			"cvv":  "123",
		},
		"items": []any{
			map[string]any{"sku": "ROSE", "token": "abc"},
			"plain",
		},
		"payments": []map[string]any{
			{"pan": "5500000000000004", "amount": 10},
		},
	}

	clean := Sanitize(entity)

	if clean["amount"] != 120.5 {
		t.Errorf("amount = %v, want 120.5", clean["amount"])
	}
	if clean["cardNumber"] != RedactionMarker {
		t.Errorf("cardNumber = %v, want redacted", clean["cardNumber"])
	}
	if want := "customer card " + RedactionMarker + " ssn " + RedactionMarker; clean["note"] != want {
		t.Errorf("note = %q, want %q", clean["note"], want)
	}

	billing := clean["billing"].(map[string]any)
	if billing["cvv"] != RedactionMarker || billing["name"] != "Ada" {
		t.Errorf("billing = %v", billing)
	}

	items := clean["items"].([]any)
	if items[0].(map[string]any)["token"] != RedactionMarker {
		t.Errorf("items[0] = %v", items[0])
	}
	if items[1] != "plain" {
		t.Errorf("items[1] = %v", items[1])
	}

	payments := clean["payments"].([]any)
	if payments[0].(map[string]any)["pan"] != RedactionMarker {
		t.Errorf("payments[0] = %v", payments[0])
	}

	if entity["billing"].(map[string]any)["cvv"] != "123" {
		t.Error("Sanitize must not modify its input")
	}
}

func TestSanitizeNil(t *testing.T) {
	if Sanitize(nil) != nil {
		t.Error("Sanitize(nil) should return nil")
	}
}
