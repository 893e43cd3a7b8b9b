package reasoning

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a retry-after hint. Bare numbers are seconds, "ms" and
// "s" suffixes are honored, and HTTP dates are measured from now.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(strings.ToLower(value))
	if v == "" {
		return 0, false
	}

	switch {
	case strings.HasSuffix(v, "ms"):
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "ms")), 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n * float64(time.Millisecond)), true
	case strings.HasSuffix(v, "s"):
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "s")), 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n * float64(time.Second)), true
	}

	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n < 0 {
			return 0, false
		}
		return time.Duration(n * float64(time.Second)), true
	}

	if at, err := http.ParseTime(strings.TrimSpace(value)); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RetryAfterFromHeaders prefers the millisecond header when both are present.
func RetryAfterFromHeaders(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if ms := strings.TrimSpace(h.Get("retry-after-ms")); ms != "" {
		if d, ok := ParseRetryAfter(ms+"ms", now); ok {
			return d
		}
	}
	if d, ok := ParseRetryAfter(h.Get("Retry-After"), now); ok {
		return d
	}
	return 0
}

var bodyRetryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"retry_?delay"\s*:\s*"([0-9.]+\s*(?:ms|s)?)"`),
	regexp.MustCompile(`(?i)retry[ _-]?after[^0-9]{0,12}([0-9.]+\s*(?:ms|s)?)`),
	regexp.MustCompile(`(?i)try again in\s+([0-9.]+\s*(?:ms|s)?)`),
}

// RetryAfterFromBody extracts a hint embedded in an error payload.
func RetryAfterFromBody(body string) time.Duration {
	for _, re := range bodyRetryPatterns {
		m := re.FindStringSubmatch(body)
		if len(m) < 2 {
			continue
		}
		if d, ok := ParseRetryAfter(strings.ReplaceAll(m[1], " ", ""), time.Time{}); ok {
			return d
		}
	}
	return 0
}
