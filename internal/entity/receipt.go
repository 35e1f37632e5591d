package entity

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	MaxReceiptLength = 40

	receiptPrefix    = "rcpt_"
	receiptSeparator = "_"
	minNonceLength   = 8
	randomLength     = 6
	base36           = 36
)

// NewReceipt builds a gateway receipt from the invoice id and a time based nonce.
// The result never exceeds MaxReceiptLength. When space runs out the invoice id suffix is kept
// and the nonce is shortened, since receipts are used for support lookups.
func NewReceipt(invoiceID string, now time.Time) string {
	nonce := strconv.FormatInt(now.UnixMilli(), base36) + randomBase36(randomLength)

	budget := MaxReceiptLength - len(receiptPrefix) - len(receiptSeparator)

	idPart := invoiceID
	if maxID := budget - minNonceLength; len(idPart) > maxID {
		idPart = idPart[len(idPart)-maxID:]
	}

	if maxNonce := budget - len(idPart); len(nonce) > maxNonce {
		// The tail holds the random and fastest changing digits.
		nonce = nonce[len(nonce)-maxNonce:]
	}

	return receiptPrefix + idPart + receiptSeparator + nonce
}

func randomBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))

	for i := range b {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			v = big.NewInt(time.Now().UnixNano() % int64(len(alphabet)))
		}

		b[i] = alphabet[v.Int64()]
	}

	return string(b)
}
