package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// argon2Params are fixed, not user-configurable; they match the
// library-recommended defaults for interactive login verification.
const (
	argon2Time    = 1
	argon2MemKiB  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

const argon2Prefix = "$argon2id$"

// HashPassword produces an argon2id hash encoded in PHC string format
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash), the format VerifyPassword
// expects for non-legacy hashes.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plaintext), salt, argon2Time, argon2MemKiB, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2MemKiB, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks plaintext against stored, which may be either an
// argon2id PHC-format hash or a legacy bcrypt hash. needsRehash is true when
// stored was a bcrypt hash and the caller should opportunistically replace
// it with HashPassword's output on this successful login, per §4.1.
func VerifyPassword(plaintext, stored string) (ok bool, needsRehash bool) {
	if strings.HasPrefix(stored, argon2Prefix) {
		return verifyArgon2(plaintext, stored), false
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext))
	return err == nil, err == nil
}

func verifyArgon2(plaintext, encoded string) bool {
	parts := strings.Split(encoded, "$")
	// parts: ["", "argon2id", "v=19", "m=...,t=...,p=...", "<salt>", "<hash>"]
	if len(parts) != 6 {
		return false
	}

	var memKiB, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memKiB, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(plaintext), salt, time, memKiB, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// HashPasswordLegacyBcrypt produces a bcrypt hash. Exposed only for tests
// and seed data exercising the legacy-verification path.
func HashPasswordLegacyBcrypt(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
