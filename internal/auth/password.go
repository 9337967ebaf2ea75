package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

// Hash algorithms stored in admin.json.
const (
	algoBcrypt = "bcrypt"
	algoScrypt = "scrypt"
)

// Parameters of the scrypt records written by earlier releases.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
)

// passwordHash is the stored form of the admin password.
type passwordHash struct {
	Algo string `json:"algo"`
	Salt string `json:"salt,omitempty"`
	Hash string `json:"hash"`
}

// hashPassword produces a bcrypt record over a SHA-256 prehash.
func hashPassword(password string, cost int) (passwordHash, error) {
	h, err := bcrypt.GenerateFromPassword(prehashPassword(password), cost)
	if err != nil {
		return passwordHash{}, fmt.Errorf("hashing password: %w", err)
	}
	return passwordHash{Algo: algoBcrypt, Hash: string(h)}, nil
}

// verify reports whether password matches the record. Unknown algorithms
// and malformed records never match.
func (p passwordHash) verify(password string) bool {
	switch p.Algo {
	case algoBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(p.Hash), prehashPassword(password)) == nil
	case algoScrypt:
		want, err := hex.DecodeString(p.Hash)
		if err != nil || len(want) != scryptKeyLen {
			return false
		}
		// The salt is used as its literal hex text, not the decoded bytes.
		got, err := scrypt.Key([]byte(password), []byte(p.Salt), scryptN, scryptR, scryptP, scryptKeyLen)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(got, want) == 1
	default:
		return false
	}
}

// legacy reports whether the record should be rehashed after a successful
// login.
func (p passwordHash) legacy() bool {
	return p.Algo != algoBcrypt
}

// prehashPassword hashes the password with SHA-256 before bcrypt to support
// passwords longer than bcrypt's 72-byte limit. The hex-encoded SHA-256
// digest is 64 bytes, safely within the limit.
func prehashPassword(password string) []byte {
	h := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(h[:]))
}
