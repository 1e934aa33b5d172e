package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	RegistrationTokenPrefix = "isr_"
	registrationTokenBytes  = 24
	// RegistrationTokenLookupLen is how much of the plaintext is stored in
	// the clear to find candidate rows.
	RegistrationTokenLookupLen = 12
)

// GenerateRegistrationToken returns a fresh single-use token, its lookup
// prefix and its bcrypt hash. Only the prefix and hash are persisted.
func GenerateRegistrationToken() (token, prefix, hash string, err error) {
	buf := make([]byte, registrationTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("read random: %w", err)
	}

	token = RegistrationTokenPrefix + hex.EncodeToString(buf)
	prefix = token[:RegistrationTokenLookupLen]

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash registration token: %w", err)
	}
	return token, prefix, string(hashBytes), nil
}

func ValidateTokenHash(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
