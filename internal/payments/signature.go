package payments

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SignatureHeader carries the IPN signature on gateway notifications.
const SignatureHeader = "x-nowpayments-sig"

// SignatureVerifier checks IPN signatures: HMAC-SHA512 over the notification
// JSON re-encoded with sorted keys, hex encoded.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier returns a verifier for the account IPN secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify reports ErrInvalidSignature unless signature matches body.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	if v == nil || len(v.secret) == 0 || strings.TrimSpace(signature) == "" {
		return ErrInvalidSignature
	}
	expected, err := v.Sign(body)
	if err != nil {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex signature the gateway would send for body.
func (v *SignatureVerifier) Sign(body []byte) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalJSON re-encodes body with object keys sorted. Numbers keep their
// original text.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
