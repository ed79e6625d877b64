// Package password derives and verifies storable password credentials.
//
// A credential is "hex(salt):hex(key)" where key is PBKDF2-HMAC-SHA256 over
// the password, keyed by the hex text of a random 16-byte salt.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	Iterations = 100000
	SaltBytes  = 16
	KeyBytes   = 32
	delimiter  = ":"
)

// Hash returns a fresh credential for password. Two calls never share a salt.
func Hash(password string) (string, error) {
	salt := make([]byte, SaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	encodedSalt := hex.EncodeToString(salt)
	key := derive(password, encodedSalt)

	return encodedSalt + delimiter + hex.EncodeToString(key), nil
}

// Verify reports whether password matches stored. Malformed credentials
// never match.
func Verify(password, stored string) bool {
	if password == "" || stored == "" {
		return false
	}

	parts := strings.Split(stored, delimiter)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	got := derive(password, parts[0])
	return subtle.ConstantTimeCompare(got, want) == 1
}

func derive(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), Iterations, KeyBytes, sha256.New)
}
