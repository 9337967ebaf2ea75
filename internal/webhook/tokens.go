package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	idLength   = 8
	tokenBytes = 16
)

// dummyToken is compared against when the id is unknown, so a miss on id
// costs the same as a miss on token.
var dummyToken = []byte("00000000000000000000000000000000")

// generateID returns a short opaque identifier taken from a random UUID.
func generateID() string {
	return uuid.NewString()[:idLength]
}

// generateToken returns 128 bits of randomness, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
