package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// scryptSalt is fixed and public; the secret half of the key derivation is
// the CREDENTIAL_ENCRYPTION_KEY value itself, matching the teacher's
// guardrail key derivation (same N/r/p parameters, matching Node's
// scryptSync defaults, applied here to the credential file instead of PII
// replacement tokens).
const scryptSalt = "anthroproxy-credential-key-salt"

// encryptionKey derives the 32-byte AES key from CREDENTIAL_ENCRYPTION_KEY.
// Returns nil, false if the env var is unset -- encryption is opt-in so the
// local file stays plain JSON by default, matching spec §6's literal
// description of `.auth_data.json`.
func encryptionKey() ([]byte, bool) {
	raw := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if raw == "" {
		return nil, false
	}
	key, err := scrypt.Key([]byte(raw), []byte(scryptSalt), 16384, 8, 1, 32)
	if err != nil {
		return nil, false
	}
	return key, true
}

// encryptField encrypts a single secret string. Format: base64url(IV(16) +
// ciphertext + HMAC-SHA256 checksum(4)). The IV is derived deterministically
// from the plaintext so re-encrypting an unchanged value round-trips through
// the same file diff, but that determinism is not relied on for anything.
func encryptField(key []byte, plaintext string) (string, error) {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(plaintext))
	iv := mac.Sum(nil)[:16]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("credential: new cipher: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, []byte(plaintext))

	checksumMAC := hmac.New(sha256.New, key)
	checksumMAC.Write([]byte(plaintext))
	checksum := checksumMAC.Sum(nil)[:4]

	combined := make([]byte, 0, 16+len(ciphertext)+4)
	combined = append(combined, iv...)
	combined = append(combined, ciphertext...)
	combined = append(combined, checksum...)
	return base64.RawURLEncoding.EncodeToString(combined), nil
}

// decryptField reverses encryptField. Returns an error if the checksum does
// not verify, so a corrupted or foreign-key-encrypted file fails loudly
// rather than yielding garbage tokens.
func decryptField(key []byte, encoded string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("credential: decode field: %w", err)
	}
	if len(data) < 21 {
		return "", fmt.Errorf("credential: encrypted field too short")
	}
	iv := data[:16]
	ciphertext := data[16 : len(data)-4]
	checksum := data[len(data)-4:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("credential: new cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)

	expected := hmac.New(sha256.New, key)
	expected.Write(plaintext)
	if !hmac.Equal(checksum, expected.Sum(nil)[:4]) {
		return "", fmt.Errorf("credential: checksum mismatch")
	}
	return string(plaintext), nil
}
