package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ order.SignatureVerifier = (*Signer)(nil)

// Signer computes and checks payment signatures: hex HMAC-SHA256 of
// "gatewayOrderID|paymentID" keyed with the gateway key secret.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer for the given key secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature the gateway attaches to a successful payment.
func (s *Signer) Sign(gatewayOrderID, paymentID string) string {
	return hex.EncodeToString(s.sum(gatewayOrderID, paymentID))
}

// Verify reports whether signature matches the payment in constant time.
func (s *Signer) Verify(gatewayOrderID, paymentID, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.sum(gatewayOrderID, paymentID))
}

func (s *Signer) sum(gatewayOrderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(gatewayOrderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return mac.Sum(nil)
}
