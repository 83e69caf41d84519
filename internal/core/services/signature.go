package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// Signature header names, matched against lower-cased request headers.
const (
	HeaderBodySignature = "x-hub-signature-256"
	HeaderTimestamp     = "x-conduit-request-timestamp"
	HeaderSignature     = "x-conduit-signature"
)

// DefaultSignatureTolerance bounds clock skew for timestamp-signed schemes.
const DefaultSignatureTolerance = 300 * time.Second

// VerifySignature checks an inbound push against the provider's signature
// scheme. body must be the exact raw bytes received on the wire. All
// signature comparisons are constant-time.
func VerifySignature(scheme domain.SignatureScheme, secret string, headers map[string]string, body []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return domain.ErrWebhookSecretMissing
	}

	switch scheme {
	case domain.SignatureSchemeHMACSHA256:
		return verifyBodyHMAC(secret, headers, body)
	case domain.SignatureSchemeTimestampHMAC:
		return verifyTimestampHMAC(secret, headers, body, tolerance, now)
	default:
		return domain.ErrSignatureInvalid
	}
}

// verifyBodyHMAC checks a hex HMAC-SHA256 over the raw body, delivered as
// "sha256=<hex>" in the x-hub-signature-256 header.
func verifyBodyHMAC(secret string, headers map[string]string, body []byte) error {
	header := headers[HeaderBodySignature]
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok || provided == "" {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// verifyTimestampHMAC checks a hex HMAC-SHA256 over "v0:{timestamp}:{body}",
// delivered as "v0=<hex>", rejecting timestamps outside the skew tolerance
// so captured requests cannot be replayed later.
func verifyTimestampHMAC(secret string, headers map[string]string, body []byte, tolerance time.Duration, now time.Time) error {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	tsHeader := headers[HeaderTimestamp]
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return domain.ErrSignatureInvalid
	}

	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance.Seconds()) {
		return domain.ErrStaleTimestamp
	}

	provided, ok := strings.CutPrefix(headers[HeaderSignature], "v0=")
	if !ok || provided == "" {
		return domain.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// SignBody produces the x-hub-signature-256 header value for a body.
// Used by tests and by outbound verification tooling.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignTimestamped produces the x-conduit-signature header value for a body
// at a given unix timestamp.
func SignTimestamped(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
