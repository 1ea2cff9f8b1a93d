package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
	// Webpay limits buy_order to 26 characters.
	orderIDLength = 26
	codeAttempts  = 8
)

// newCode returns a random reservation code such as "K7Q2ZD".
func newCode() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// newOrderID returns a random merchant order ID derived from a v4 uuid.
func newOrderID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[:orderIDLength]
}

// freeCode draws codes until one is unused by sessions and reservations.
// The unique indexes still guard the final insert.
func freeCode(ctx context.Context, s PaymentStore) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		used, err := s.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
	}
	return "", errors.New("no free reservation code after retries")
}
