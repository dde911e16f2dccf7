// Package signature authenticates inbound webhook and ingestion requests.
//
// Every check runs over the exact bytes received, before any JSON decoding.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrInvalidSignature means the request carried a signature that did not verify.
	ErrInvalidSignature = errors.New("signature: invalid signature")
	// ErrMissingCredential means the signature header or the configured secret is absent.
	ErrMissingCredential = errors.New("signature: missing credential")
	// ErrVerifierUnavailable means verification could not be completed because a
	// remote verifier failed. Callers should answer with a retryable status.
	ErrVerifierUnavailable = errors.New("signature: verifier unavailable")
)

// ComputeHMAC returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func ComputeHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a hex HMAC-SHA256 signature header against body.
func VerifyHMAC(body []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return ErrMissingCredential
	}

	got, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ValidHMAC is the boolean form of VerifyHMAC.
func ValidHMAC(body []byte, header, secret string) bool {
	return VerifyHMAC(body, header, secret) == nil
}
