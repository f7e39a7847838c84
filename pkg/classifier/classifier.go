// Package classifier maps a provider's HTTP response into the deterministic
// Outcome the Failover Engine and State Updater act on. Classification is a
// pure function of status code, headers, and body — it never performs I/O.
package classifier

import (
	"encoding/json"
	"strconv"
	"time"
)

// Outcome is the result of classifying one upstream attempt.
type Outcome int

const (
	// Success means the upstream accepted the request; the response should
	// be relayed to the caller unchanged.
	Success Outcome = iota

	// TransientSameKey means the failure is likely momentary (network error,
	// 5xx without a quota marker in the body) and the same key may be
	// retried immediately, subject to the
	// engine's same-key retry budget.
	TransientSameKey

	// KeyOnCooldown means the provider signaled quota exhaustion or rate
	// limiting for this key; it should be flagged in the Cooldown Cache for
	// CooldownDuration and a different key tried.
	KeyOnCooldown

	// KeyInvalid means the provider rejected the credential itself
	// (revoked, malformed, unauthorized); the key should be marked blocked.
	KeyInvalid

	// ClientError means the request itself was malformed (4xx not matching
	// KeyOnCooldown/KeyInvalid); retrying with a different key cannot help,
	// so the error is relayed to the caller as-is.
	ClientError

	// Fatal means an unclassifiable or catastrophic failure occurred; the
	// engine stops without trying another key and surfaces ErrFatal, which
	// the HTTP layer maps to 502 instead of relaying the upstream response.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientSameKey:
		return "transient_same_key"
	case KeyOnCooldown:
		return "key_on_cooldown"
	case KeyInvalid:
		return "key_invalid"
	case ClientError:
		return "client_error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// DefaultCooldownDuration is used when the provider gives no explicit
// retry-after signal.
const DefaultCooldownDuration = 60 * time.Second

// Result is the full classification of one attempt.
type Result struct {
	Outcome  Outcome
	Cooldown time.Duration // meaningful only when Outcome == KeyOnCooldown
}

// quotaMarkers and authMarkers are small provider-agnostic deny-lists of
// error type/code strings seen across providers, checked against the body's
// "type" and "code"-shaped fields (OpenAI-compatible) and "status" field
// (Google-compatible) to disambiguate a bare 429/401/403 without hardcoding
// one vendor's error envelope.
var quotaMarkers = map[string]bool{
	"insufficient_quota":  true,
	"rate_limit_exceeded": true,
	"resource_exhausted":  true,
}

var authMarkers = map[string]bool{
	"invalid_api_key":   true,
	"permission_denied": true,
	"unauthenticated":   true,
}

// bodyMarkers extracts the lower-cased type/code/status fields a provider
// error body commonly carries, tolerating bodies that don't parse as JSON.
func bodyMarkers(body []byte) []string {
	if len(body) == 0 {
		return nil
	}

	var envelope struct {
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	var markers []string
	for _, m := range []string{envelope.Error.Type, envelope.Error.Code, envelope.Status} {
		if m != "" {
			markers = append(markers, lower(m))
		}
	}
	return markers
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func anyMarkerIn(markers []string, set map[string]bool) bool {
	for _, m := range markers {
		if set[m] {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header (seconds form) into a duration,
// falling back to DefaultCooldownDuration when absent or unparsable.
func retryAfter(headers map[string]string) time.Duration {
	v, ok := headers["Retry-After"]
	if !ok {
		return DefaultCooldownDuration
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return DefaultCooldownDuration
	}
	return time.Duration(seconds) * time.Second
}

// Classify derives an Outcome from a provider response. headers should carry
// at least "Retry-After" when present; body is the raw response body (may be
// nil for network-level failures, in which case statusCode should be 0).
func Classify(statusCode int, headers map[string]string, body []byte) Result {
	if statusCode == 0 {
		// No response at all: connection refused, DNS failure, timeout.
		return Result{Outcome: TransientSameKey}
	}

	if statusCode >= 200 && statusCode < 300 {
		return Result{Outcome: Success}
	}

	markers := bodyMarkers(body)

	switch {
	case statusCode == 429:
		return Result{Outcome: KeyOnCooldown, Cooldown: retryAfter(headers)}
	case statusCode == 401 || statusCode == 403:
		if anyMarkerIn(markers, quotaMarkers) {
			return Result{Outcome: KeyOnCooldown, Cooldown: retryAfter(headers)}
		}
		return Result{Outcome: KeyInvalid}
	case statusCode >= 500 && statusCode < 600 && !anyMarkerIn(markers, quotaMarkers):
		return Result{Outcome: TransientSameKey}
	case anyMarkerIn(markers, quotaMarkers):
		return Result{Outcome: KeyOnCooldown, Cooldown: retryAfter(headers)}
	case anyMarkerIn(markers, authMarkers):
		return Result{Outcome: KeyInvalid}
	case statusCode >= 400 && statusCode < 500:
		return Result{Outcome: ClientError}
	default:
		return Result{Outcome: Fatal}
	}
}
