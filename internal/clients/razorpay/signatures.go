package razorpay

import (
	"github.com/samandr77/microservices/billing/pkg/security"
)

// Signatures verifies checkout and webhook signatures. The two use different secrets.
type Signatures struct {
	keySecret     string
	webhookSecret string
}

func NewSignatures(keySecret, webhookSecret string) *Signatures {
	return &Signatures{
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}
}

func (s *Signatures) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}

	return security.VerifySignature([]byte(orderID+"|"+paymentID), signature, s.keySecret)
}

func (s *Signatures) VerifyWebhookSignature(body []byte, signature string) bool {
	return security.VerifySignature(body, signature, s.webhookSecret)
}
