/**
 * @description
 * Webhook event parsing and signature verification. Stripe signs each
 * delivery with an HMAC over "<timestamp>.<payload>" and sends it in the
 * Stripe-Signature header as "t=<ts>,v1=<hex hmac>[,v1=...]". Any signature
 * mismatch is rejected here, before the event reaches the processor.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature is returned when no v1 signature in the header
	// matches the payload.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrTimestampTooOld is returned when the signed timestamp falls outside
	// the replay tolerance window.
	ErrTimestampTooOld = errors.New("webhook timestamp outside tolerance")
)

// Event is the decoded webhook envelope. Data.Object is kept raw so each
// handler can unmarshal it into the type it expects.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
	Raw []byte `json:"-"`
}

// ConstructEvent verifies the signature header against the raw payload and
// returns the decoded event. tolerance bounds how old the signed timestamp
// may be; pass 0 to skip the replay check.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	var event Event

	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return event, err
	}

	if tolerance > 0 {
		signedAt := time.Unix(ts, 0)
		if time.Since(signedAt) > tolerance {
			return event, ErrTimestampTooOld
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		decoded, decodeErr := hex.DecodeString(sig)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return event, ErrInvalidSignature
	}

	if err := json.Unmarshal(payload, &event); err != nil {
		return event, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	event.Raw = payload

	return event, nil
}

// parseSignatureHeader splits "t=<ts>,v1=<sig>,..." into the timestamp and
// the list of v1 signatures.
func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, errors.New("missing Stripe-Signature header")
	}

	var ts int64 = -1
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			parsed, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp: %w", err)
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if ts < 0 {
		return 0, nil, errors.New("signature header missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, errors.New("signature header missing v1 signature")
	}

	return ts, signatures, nil
}

// SignPayload produces a Stripe-Signature header value for the payload.
// Used by tests and local tooling.
func SignPayload(payload []byte, secret string, signedAt time.Time) string {
	ts := signedAt.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
