// Package crypto hashes and verifies account passwords.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("crypto: malformed password hash")

const (
	hashScheme = "argon2id"
	saltLen    = 16
	keyLen     = 32
)

// deriveKey runs Argon2id with the server's fixed parameters.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, keyLen)
}

// HashPassword returns "argon2id$<salt>$<key>" with a fresh random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := deriveKey(password, salt)
	enc := base64.RawStdEncoding
	return hashScheme + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

func decode(encoded string) (salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashScheme {
		return nil, nil, ErrMalformedHash
	}
	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(parts[1]); err != nil {
		return nil, nil, ErrMalformedHash
	}
	if key, err = enc.DecodeString(parts[2]); err != nil || len(key) != keyLen {
		return nil, nil, ErrMalformedHash
	}
	return salt, key, nil
}

// VerifyPassword reports whether password hashes to encoded. A malformed
// encoding never matches.
func VerifyPassword(encoded, password string) bool {
	salt, key, err := decode(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(key, deriveKey(password, salt)) == 1
}
