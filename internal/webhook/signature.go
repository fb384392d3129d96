package webhook

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	SignatureHeader = "telnyx-signature-ed25519"
	TimestampHeader = "telnyx-timestamp"
)

// Verifier checks the carrier's ed25519 signature over "timestamp|body".
type Verifier struct {
	key       ed25519.PublicKey
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier decodes a base64 public key. A zero tolerance accepts any
// timestamp age.
func NewVerifier(publicKey string, tolerance time.Duration) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("webhook public key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return &Verifier{key: key, tolerance: tolerance, now: time.Now}, nil
}

// Verify returns ErrInvalidSignature unless h carries a fresh, valid
// signature of body.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	sig, err := base64.StdEncoding.DecodeString(h.Get(SignatureHeader))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	ts := h.Get(TimestampHeader)
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(secs, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}
	signed := make([]byte, 0, len(ts)+1+len(body))
	signed = append(signed, ts...)
	signed = append(signed, '|')
	signed = append(signed, body...)
	if !ed25519.Verify(v.key, signed, sig) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}
