package logger

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// SanitizedEmail masks an address for logs and alert subjects, e.g. "owner@example.com"
// becomes "o***@e***.com". The mask width is fixed so the original length is not leaked.
func SanitizedEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local, domain := email[:at], email[at+1:]

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = maskLabel(labels[i])
	}
	if len(labels) == 1 {
		labels[0] = maskLabel(labels[0])
	}

	return maskLabel(local) + "@" + strings.Join(labels, ".")
}

func maskLabel(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return string(r[0]) + "***"
}

// sensitiveKeys are query parameters whose values never reach the access log
var sensitiveKeys = map[string]bool{
	"email":      true,
	"ip":         true,
	"ip_address": true,
	"api_key":    true,
	"apikey":     true,
	"auth":       true,
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if sensitiveKeys[key] {
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret") || strings.Contains(key, "password")
}

// RedactQuery returns rawQuery with the values of sensitive parameters replaced.
// Parameter order is preserved; an unparseable query is redacted whole.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		rawKey, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return redacted
		}
		if isSensitiveKey(key) {
			pairs[i] = rawKey + "=" + redacted
		}
	}

	return strings.Join(pairs, "&")
}
