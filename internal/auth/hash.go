package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Join codes use an unambiguous uppercase alphabet (no 0/O, 1/I).
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// JoinCodeLen is the length of generated session join codes.
const JoinCodeLen = 6

// GenerateJoinCode returns a new random join code. The plaintext is shown to
// the teacher exactly once; only the hash is stored.
func GenerateJoinCode() (string, error) {
	buf := make([]byte, JoinCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate join code: %w", err)
	}
	code := make([]byte, JoinCodeLen)
	for i, b := range buf {
		code[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(code), nil
}

// HashJoinCode hashes a session join code using Argon2id.
func HashJoinCode(code string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(normalizeJoinCode(code)), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyJoinCode checks a join code against an Argon2id hash.
func VerifyJoinCode(code, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("auth: invalid hash format")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}

	expectedHash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	computedHash := argon2.IDKey([]byte(normalizeJoinCode(code)), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1, nil
}

// DummyVerify performs an Argon2id hash with the same cost parameters as real
// verification. Call this on join failure paths where no real hash was checked,
// so that response timing does not reveal whether a session exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// normalizeJoinCode makes codes case-insensitive and whitespace-tolerant.
func normalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
