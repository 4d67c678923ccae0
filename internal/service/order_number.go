package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newOrderNumber returns ORD-<millis>-<9 uppercase alnum>.
func newOrderNumber(now time.Time) (string, error) {
	suffix, err := randomSuffix(9)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix), nil
}

// newCODReference returns COD-<millis>-<6 alnum>.
func newCODReference(now time.Time) (string, error) {
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("COD-%d-%s", now.UnixMilli(), suffix), nil
}

// newMerchantTxID is alphanumeric and under PhonePe's 35 character limit.
func newMerchantTxID(now time.Time) (string, error) {
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("MT%d%s", now.UnixMilli(), suffix), nil
}

func randomSuffix(n int) (string, error) {
	base := big.NewInt(int64(len(referenceAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate random suffix: %w", err)
		}
		out[i] = referenceAlphabet[idx.Int64()]
	}
	return string(out), nil
}
