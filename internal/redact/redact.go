// Package redact strips credentials, recipient addresses, and local paths
// from text before it is logged or returned to a client.
package redact

import "regexp"

// Placeholders substituted for redacted text.
const (
	Placeholder           = "[REDACTED]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	JWTPlaceholder        = "[REDACTED_JWT]"
	EmailPlaceholder      = "[REDACTED_EMAIL]"
	PathPlaceholder       = "[REDACTED_PATH]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// Rules run in order; URLs with user info go before e-mail addresses so the
// "user:pass@host" part is not mistaken for an address.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|smtp|mysql)://[^@\s]+@`), CredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]+['"]?)[^'"&\s]{3,}`), "${1}${2}" + CredentialPlaceholder},
	{regexp.MustCompile(`(?i)(secret|token|api[_-]?key|key)([=:\s]+['"]?)[A-Za-z0-9_\-.~+/]{8,}`), "${1}${2}" + KeyPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), JWTPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), EmailPlaceholder},
	{regexp.MustCompile(`(/[\w.-]+){2,}`), PathPlaceholder},
}

// String redacts sensitive information from input.
func String(input string) string {
	for _, r := range rules {
		input = r.pattern.ReplaceAllString(input, r.placeholder)
	}
	return input
}

// Error redacts err.Error(); a nil error gives "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
