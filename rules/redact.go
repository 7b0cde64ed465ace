package rules

import (
	"regexp"
	"strings"
)

// RedactionMarker replaces sensitive values in sanitized copies
const RedactionMarker = "[REDACTED]"

// Normalized key names (lowercase, separators stripped) whose values never reach a log.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"secret":        {},
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"apikey":        {},
	"authorization": {},
	"cardnumber":    {},
	"creditcard":    {},
	"cardno":        {},
	"pan":           {},
	"cvv":           {},
	"cvv2":          {},
	"cvc":           {},
	"securitycode":  {},
	"ssn":           {},
	"nationalid":    {},
	"taxid":         {},
	"passport":      {},
	"pin":           {},
}

var (
	cardNumberPattern = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

func normalizeKey(key string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(key))
}

// IsSensitiveKey reports whether values stored under key are redacted
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// Sanitize returns a deep copy of entity with credentials, card data and national
// identifiers replaced by RedactionMarker. The input is not modified.
func Sanitize(entity Entity) Entity {
	if entity == nil {
		return nil
	}
	return sanitizeMap(entity)
}

func sanitizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if IsSensitiveKey(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeMap(val)
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeMap(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case string:
		return redactString(val)
	default:
		return v
	}
}

func redactString(s string) string {
	s = cardNumberPattern.ReplaceAllString(s, RedactionMarker)
	return ssnPattern.ReplaceAllString(s, RedactionMarker)
}
