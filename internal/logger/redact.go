package logger

import (
	"regexp"
	"strings"
	"sync"
)

// mask replaces secret material in log output.
const mask = "***"

var (
	secretsMu sync.RWMutex
	secrets   []string
)

// Patterns applied to every redacted string, independent of registered
// secret values. They cover the service key in URL query form, webhook
// tokens embedded in Dooray-style hook paths, and generic credential
// key/value pairs that may leak through wrapped error strings.
var (
	serviceKeyPattern = regexp.MustCompile(`(?i)(serviceKey=)[^&\s"']+`)
	hookPathPattern   = regexp.MustCompile(`(/services/)[^\s"']+`)
	credentialPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|authorization)(["']?\s*[:=]\s*["']?)[^&\s"',}]+`)
)

// RegisterSecret adds a raw secret value that must never appear in log
// output. Registration happens once at startup from the loaded config.
func RegisterSecret(value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = append(secrets, trimmed)
}

// ResetSecrets clears all registered secrets. Intended for tests.
func ResetSecrets() {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = nil
}

// Redact masks the service API key, webhook tokens, and any registered
// secret value in the given string. It is safe to call from any
// goroutine and never returns the input unchanged if a secret is
// present.
func Redact(s string) string {
	if s == "" {
		return s
	}

	out := serviceKeyPattern.ReplaceAllString(s, "${1}"+mask)
	out = hookPathPattern.ReplaceAllString(out, "${1}"+mask)
	out = credentialPattern.ReplaceAllString(out, "${1}${2}"+mask)

	secretsMu.RLock()
	defer secretsMu.RUnlock()
	for _, secret := range secrets {
		out = strings.ReplaceAll(out, secret, mask)
	}
	return out
}

// RedactError is a nil-safe convenience for error values.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
