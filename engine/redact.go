package engine

import (
	"net/url"
	"regexp"
	"strings"
)

// safeParams are query parameters that never carry credentials even though
// their names look sensitive.
var safeParams = map[string]bool{
	"keyword": true, "keywords": true, "monkey": true,
}

var reSensitiveParam = regexp.MustCompile(`(?i)(api[_-]?key|apikey|appid|key|token|secret|password|passwd|auth|signature|sig)$`)

// RedactURL masks credential-looking query parameters in raw and replaces
// any literal occurrence of the given secrets. It is used before a request
// URL is logged.
func RedactURL(raw string, secrets ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return regexRedact(raw, secrets)
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	changed := false
	for name := range q {
		if sensitiveParam(name) {
			q.Set(name, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return redactSecrets(u.String(), secrets)
}

func sensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	return !safeParams[lower] && reSensitiveParam.MatchString(lower)
}

var reQueryPair = regexp.MustCompile(`([?&])([^=&#]+)=([^&#]*)`)

// regexRedact is a fallback for URLs that fail to parse.
func regexRedact(raw string, secrets []string) string {
	raw = reQueryPair.ReplaceAllStringFunc(raw, func(m string) string {
		parts := reQueryPair.FindStringSubmatch(m)
		if !sensitiveParam(parts[2]) {
			return m
		}
		return parts[1] + parts[2] + "=***"
	})
	return redactSecrets(raw, secrets)
}

func redactSecrets(s string, secrets []string) string {
	for _, secret := range secrets {
		// Very short values would mask unrelated text.
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, "***")
		if esc := url.QueryEscape(secret); esc != secret {
			s = strings.ReplaceAll(s, esc, "***")
		}
	}
	return s
}
