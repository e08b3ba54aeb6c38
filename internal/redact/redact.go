// Package redact masks credentials before they reach a log line.
package redact

// Token keeps a short prefix so two tokens can be told apart in logs.
func Token(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 8 {
		return "[REDACTED]"
	}
	return tok[:4] + "…[REDACTED]"
}
