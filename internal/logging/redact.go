package logging

import (
	"regexp"
	"strings"
)

var sensitiveFields = map[string]bool{
	"api_key":       true,
	"api_secret":    true,
	"request_token": true,
	"access_token":  true,
	"token":         true,
	"secret":        true,
	"password":      true,
}

var sensitivePattern = regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|request[_-]?token|access[_-]?token|password)([=:\s]+)["']?([^\s"',]+)["']?`)

// MaskCredential keeps the first and last four characters of long values
// and masks the rest.
func MaskCredential(value string) string {
	switch {
	case len(value) == 0:
		return ""
	case len(value) <= 4:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// RedactString masks credential values embedded as key=value or key: value.
func RedactString(input string) string {
	return sensitivePattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := sensitivePattern.FindStringSubmatch(match)
		return parts[1] + parts[2] + MaskCredential(parts[3])
	})
}

// RedactFields returns a copy of fields with sensitive values masked.
func RedactFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if sensitiveFields[strings.ToLower(k)] {
			out[k] = MaskCredential(v)
		} else {
			out[k] = v
		}
	}
	return out
}
