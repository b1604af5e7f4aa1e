package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newID() string {
	return uuid.NewString()
}

// Crockford base32 without I, L, O and U.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// newOrderCode returns ORD-YYYYMMDD-XXXXXXXX where the suffix is 40 random
// bits in Crockford base32.
func newOrderCode(now time.Time) (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	v := uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
	suffix := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		suffix[i] = codeAlphabet[v&31]
		v >>= 5
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix), nil
}

var otpRange = big.NewInt(1_000_000)

// newOTPCode draws a zero-padded 6 digit code uniformly from 000000-999999.
func newOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

func logOrNop(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return zap.NewNop()
}
