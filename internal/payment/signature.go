package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is how far a webhook timestamp may drift from server time.
// Wide enough for clock skew and delivery delay, tight enough to stop
// replays of captured payloads.
const ReplayWindow = 180 * time.Second

const secretPrefix = "whsec_"

var (
	// ErrMalformed covers missing headers, unparseable timestamps and
	// signature headers with no v1 entry. Maps to 400.
	ErrMalformed = errors.New("malformed webhook headers")

	// ErrSignatureMismatch means the headers parsed but the HMAC did not
	// match. Maps to 403. Callers must not reveal which check failed.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")

	// ErrStaleTimestamp means a valid-looking delivery outside the replay
	// window. Maps to 400.
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// WebhookVerifier checks authenticity and freshness of provider webhooks.
// The signed content is "{delivery id}.{timestamp}.{raw body}" and must be
// computed over the exact bytes received, never a re-serialized payload.
type WebhookVerifier struct {
	key []byte
	now func() time.Time
}

// NewWebhookVerifier decodes a "whsec_<base64>" signing secret. The prefix
// is stripped and the remainder base64-decoded; the decoded bytes are the
// HMAC key. A missing or malformed secret is a server misconfiguration and
// fails construction, at startup, rather than per request.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if !strings.HasPrefix(secret, secretPrefix) {
		return nil, fmt.Errorf("webhook secret must start with %q", secretPrefix)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("webhook secret decodes to empty key")
	}
	return &WebhookVerifier{key: key, now: time.Now}, nil
}

// Verify checks one delivery. id, timestamp and signature come from the
// provider's webhook-id, webhook-timestamp and webhook-signature headers;
// body is the raw request body.
func (v *WebhookVerifier) Verify(id, timestamp, signature string, body []byte) error {
	if id == "" || timestamp == "" || signature == "" {
		return ErrMalformed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrMalformed)
	}
	drift := v.now().UTC().Sub(time.Unix(ts, 0))
	if drift > ReplayWindow || drift < -ReplayWindow {
		return ErrStaleTimestamp
	}

	provided, err := extractV1(signature)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if len(expected) != len(provided) {
		return ErrSignatureMismatch
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// extractV1 pulls the v1 signature out of the header. Providers ship two
// layouts: "v1,<sig>" (possibly space-separated repeats) and a CSV of
// versioned entries like "v1=<sig>,v2=<sig>".
func extractV1(header string) (string, error) {
	for _, field := range strings.Fields(header) {
		for _, entry := range strings.Split(field, ",") {
			if sig, ok := strings.CutPrefix(entry, "v1="); ok && sig != "" {
				return sig, nil
			}
		}
		if sig, ok := strings.CutPrefix(field, "v1,"); ok && sig != "" {
			return sig, nil
		}
	}
	return "", fmt.Errorf("%w: no v1 signature entry", ErrMalformed)
}
