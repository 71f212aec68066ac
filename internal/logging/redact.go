package logging

import (
	"regexp"
	"strings"
)

// secretPatterns match credentials that can leak into error strings, such as
// request URLs echoed back by HTTP clients.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|auth[_-]?token|password)([=:]\s*)["']?([^\s"'&,;]+)`),
	regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9]+)(:)([A-Za-z0-9]+)`),
	regexp.MustCompile(`(/bot)([^/\s]+)`),
}

// Redact masks credentials embedded in s.
func Redact(s string) string {
	s = secretPatterns[0].ReplaceAllStringFunc(s, func(m string) string {
		g := secretPatterns[0].FindStringSubmatch(m)
		return g[1] + g[2] + MaskCredential(g[3])
	})
	s = secretPatterns[1].ReplaceAllStringFunc(s, func(m string) string {
		g := secretPatterns[1].FindStringSubmatch(m)
		return g[1] + MaskCredential(g[2]) + g[3] + MaskCredential(g[4])
	})
	return secretPatterns[2].ReplaceAllStringFunc(s, func(m string) string {
		return "/bot" + MaskCredential(strings.TrimPrefix(m, "/bot"))
	})
}

// MaskCredential keeps at most the first and last four characters of value.
func MaskCredential(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 4:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// RedactError returns err's message with credentials masked. A nil error
// yields "".
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
