// redact маскирует секреты перед записью в лог.
package redact

import "strings"

// Token оставляет первые 4 символа токена, остальное скрывает.
// Короткие токены (<= 8 символов) скрываются целиком.
func Token(tok string) string {
	if tok == "" {
		return ""
	}

	if len(tok) <= 8 {
		return "[REDACTED_TOKEN]"
	}

	return tok[:4] + "***"
}

// Authorization маскирует значение заголовка Authorization ("Bearer <token>").
func Authorization(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return prefix + Token(strings.TrimSpace(header[len(prefix):]))
	}

	if header == "" {
		return ""
	}

	return "[REDACTED]"
}

// URL отбрасывает query-часть (presigned-подписи, X-Amz-Signature и т.п.).
func URL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?[REDACTED]"
	}

	return raw
}
