package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// PairingCodeDigits is the length of codes shown on an unpaired screen.
const PairingCodeDigits = 6

// NewPairingCode returns a uniformly random zero-padded decimal code.
func NewPairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", PairingCodeDigits, n.Int64()), nil
}

// HashCode returns the bcrypt hash of code at the given cost.
func HashCode(code string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyCode compares a bcrypt hash with a plain code.
func VerifyCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
