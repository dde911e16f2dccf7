package signature

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)

func TestVerifyHMACAcceptsValidSignature(t *testing.T) {
	sig := ComputeHMAC(testBody, testSecret)

	if err := VerifyHMAC(testBody, sig, testSecret); err != nil {
		t.Fatalf("expected signature to verify, got %v", err)
	}
	if !ValidHMAC(testBody, sig, testSecret) {
		t.Fatal("ValidHMAC returned false for a valid signature")
	}
}

func TestVerifyHMACRejectsEverySingleByteMutation(t *testing.T) {
	sig := ComputeHMAC(testBody, testSecret)

	for i := range testBody {
		mutated := append([]byte(nil), testBody...)
		mutated[i] ^= 0x01

		if ValidHMAC(mutated, sig, testSecret) {
			t.Fatalf("mutation at byte %d was accepted", i)
		}
	}
}

func TestVerifyHMACRejectsWrongSecret(t *testing.T) {
	sig := ComputeHMAC(testBody, "other-secret")

	if err := VerifyHMAC(testBody, sig, testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyHMACMissingCredential(t *testing.T) {
	if err := VerifyHMAC(testBody, "", testSecret); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential for empty header, got %v", err)
	}
	if err := VerifyHMAC(testBody, "abcd", ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential for empty secret, got %v", err)
	}
}

func TestVerifyHMACRejectsNonHexHeader(t *testing.T) {
	if err := VerifyHMAC(testBody, "not-hex!", testSecret); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func signStripe(body []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func TestStripeVerifierAcceptsStripeSignedPayload(t *testing.T) {
	header := signStripe(testBody, testSecret, time.Now().Add(-30*time.Second))

	if err := NewStripeVerifier(testSecret, 0).Verify(testBody, header); err != nil {
		t.Fatalf("expected stripe-signed payload to verify, got %v", err)
	}
}

func TestStripeVerifierRejectsMutation(t *testing.T) {
	v := NewStripeVerifier(testSecret, 0)
	header := signStripe(testBody, testSecret, time.Now())

	for i := range testBody {
		mutated := append([]byte(nil), testBody...)
		mutated[i] ^= 0x20
		if err := v.Verify(mutated, header); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("mutation at byte %d: expected ErrInvalidSignature, got %v", i, err)
		}
	}
}

func TestStripeVerifierRejectsWrongSecret(t *testing.T) {
	header := signStripe(testBody, "whsec_someone_else", time.Now())

	if err := NewStripeVerifier(testSecret, 0).Verify(testBody, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestStripeVerifierRejectsReplayOutsideTolerance(t *testing.T) {
	header := signStripe(testBody, testSecret, time.Now().Add(-(DefaultStripeTolerance + time.Minute)))

	err := NewStripeVerifier(testSecret, 0).Verify(testBody, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected stale timestamp to be rejected, got %v", err)
	}
}

func TestStripeVerifierHonoursCustomTolerance(t *testing.T) {
	header := signStripe(testBody, testSecret, time.Now().Add(-2*time.Minute))

	if err := NewStripeVerifier(testSecret, time.Minute).Verify(testBody, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected 2m old signature to fail a 1m tolerance, got %v", err)
	}
	if err := NewStripeVerifier(testSecret, 10*time.Minute).Verify(testBody, header); err != nil {
		t.Fatalf("expected 2m old signature to pass a 10m tolerance, got %v", err)
	}
}

func TestStripeVerifierAcceptsAnyMatchingV1(t *testing.T) {
	now := time.Now()
	good := hex.EncodeToString(webhook.ComputeSignature(now, testBody, testSecret))
	header := fmt.Sprintf("t=%d,v1=%s,v1=%s,v0=deadbeef", now.Unix(), ComputeHMAC(testBody, "rotated"), good)

	if err := NewStripeVerifier(testSecret, 0).Verify(testBody, header); err != nil {
		t.Fatalf("expected second v1 signature to match, got %v", err)
	}
}

func TestStripeVerifierMalformedHeaders(t *testing.T) {
	v := NewStripeVerifier(testSecret, 0)
	now := time.Now().Unix()

	cases := map[string]error{
		"":                                  ErrMissingCredential,
		"   ":                               ErrMissingCredential,
		"v1=abcd":                           ErrInvalidSignature,
		fmt.Sprintf("t=%d", now):            ErrInvalidSignature,
		"t=yesterday,v1=abcd":               ErrInvalidSignature,
		"garbage without fields":            ErrInvalidSignature,
		fmt.Sprintf("t=%d,v1=not-hex", now): ErrInvalidSignature,
	}

	for header, want := range cases {
		if err := v.Verify(testBody, header); !errors.Is(err, want) {
			t.Fatalf("header %q: expected %v, got %v", header, want, err)
		}
	}
}

func TestStripeVerifierMissingSecret(t *testing.T) {
	header := signStripe(testBody, testSecret, time.Now())
	if err := NewStripeVerifier("", 0).Verify(testBody, header); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestStripeVerifierVerifyEventReadsHeader(t *testing.T) {
	header := http.Header{}
	header.Set(StripeSignatureHeader, signStripe(testBody, testSecret, time.Now()))

	if err := NewStripeVerifier(testSecret, 0).VerifyEvent(context.Background(), header, testBody); err != nil {
		t.Fatalf("VerifyEvent returned %v", err)
	}
	if err := NewStripeVerifier(testSecret, 0).VerifyEvent(context.Background(), http.Header{}, testBody); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential without header, got %v", err)
	}
}
