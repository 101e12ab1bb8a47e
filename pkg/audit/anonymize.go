package audit

import "regexp"

// Field names stripped outright before any value inspection.
var piiFields = map[string]struct{}{
	"email":          {},
	"phone":          {},
	"name":           {},
	"first_name":     {},
	"last_name":      {},
	"address":        {},
	"ssn":            {},
	"account_number": {},
}

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// Anonymize strips PII from metadata before storage or transmission. Pure
// and idempotent: anonymizing an already anonymized map is a no-op. The
// input map is not modified.
func Anonymize(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if _, ok := piiFields[key]; ok {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = anonymizeValue(value)
	}
	return out
}

func anonymizeValue(value any) any {
	switch v := value.(type) {
	case string:
		s := emailRe.ReplaceAllString(v, "[EMAIL]")
		return phoneRe.ReplaceAllString(s, "[PHONE]")
	case map[string]any:
		return Anonymize(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = anonymizeValue(item)
		}
		return out
	default:
		return v
	}
}
